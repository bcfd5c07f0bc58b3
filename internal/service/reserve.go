package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"BadmintonFlash/internal/errcode"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/metrics"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("BadmintonFlash/internal/service")

// 查询抢场结果的状态
const (
	ResultPending = "PENDING"
	ResultSuccess = "SUCCESS"
	ResultFailed  = "FAILED"
)

// ReserveResult 抢场结果
type ReserveResult struct {
	TraceID           string  `json:"traceId"`
	Status            string  `json:"status"`
	ReservationID     *uint64 `json:"reservationId,omitempty"`
	ReservationStatus string  `json:"reservationStatus,omitempty"`
}

// ReserveService 抢场准入：绑定→限流→闸门→去重→库存→投递
type ReserveService struct {
	store       interfaces.CapacityStore
	limiter     interfaces.RateLimiter
	publisher   interfaces.ClaimPublisher
	compensator *Compensator
	repo        repository.ReservationRepository
	clock       *timeutil.Clock
	pendingTTL  time.Duration
	logger      *logrus.Logger
}

// NewReserveService pendingTTL<=0 时待落库凭据保留到当天结束
func NewReserveService(
	store interfaces.CapacityStore,
	limiter interfaces.RateLimiter,
	publisher interfaces.ClaimPublisher,
	compensator *Compensator,
	repo repository.ReservationRepository,
	clock *timeutil.Clock,
	pendingTTL time.Duration,
	logger *logrus.Logger,
) *ReserveService {
	return &ReserveService{
		store:       store,
		limiter:     limiter,
		publisher:   publisher,
		compensator: compensator,
		repo:        repo,
		clock:       clock,
		pendingTTL:  pendingTTL,
		logger:      logger,
	}
}

// Reserve 抢场，成功返回 traceId；traceId 只代表已被接受，最终结果用 GetReserveResult 查询
func (s *ReserveService) Reserve(ctx context.Context, userID, slotID, sessionID uint64) (traceID string, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "reserve.claim", trace.WithAttributes(
		attribute.Int64("user.id", int64(userID)),
		attribute.Int64("slot.id", int64(slotID)),
		attribute.Int64("session.id", int64(sessionID)),
	))
	result := "accepted"
	defer func() {
		if err != nil {
			result = claimResultLabel(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("claim.result", result))
		span.End()
		metrics.RecordClaim(result, started)
	}()

	if userID == 0 || slotID == 0 || sessionID == 0 {
		return "", errcode.New(errcode.ParamError)
	}

	// 1. 时段必须属于该场次
	bound, ok, err := s.store.SlotSession(ctx, slotID)
	if err != nil {
		return "", s.infraFailed("slot_session", err, userID, slotID)
	}
	if !ok || bound != sessionID {
		return "", errcode.New(errcode.InvalidSlot)
	}

	// 2. 用户限流
	allowed, err := s.limiter.Allow(ctx, strconv.FormatUint(userID, 10))
	if err != nil {
		return "", s.infraFailed("rate_limit", err, userID, slotID)
	}
	if !allowed {
		return "", errcode.New(errcode.TooManyRequests)
	}

	// 3. 闸门
	open, err := s.store.IsGateOpen(ctx, sessionID)
	if err != nil {
		return "", s.infraFailed("gate", err, userID, slotID)
	}
	if !open {
		return "", errcode.New(errcode.NotOpenYet)
	}

	// 4. 去重
	added, err := s.store.AddClaimant(ctx, slotID, userID)
	if err != nil {
		return "", s.infraFailed("dedup", err, userID, slotID)
	}
	if !added {
		return "", errcode.New(errcode.DuplicateRequest)
	}

	// 5. 库存，失败要把去重成员移出
	acquired, err := s.store.TryAcquireStock(ctx, slotID)
	if err != nil || !acquired {
		if rmErr := s.store.RemoveClaimant(context.WithoutCancel(ctx), slotID, userID); rmErr != nil {
			s.logger.WithError(rmErr).WithFields(logrus.Fields{"user_id": userID, "slot_id": slotID}).Error("回滚去重成员失败")
		}
		if err != nil {
			return "", s.infraFailed("stock", err, userID, slotID)
		}
		return "", errcode.New(errcode.OutOfStock)
	}

	// 6. 待落库凭据
	traceID = uuid.NewString()
	span.SetAttributes(attribute.String("claim.trace_id", traceID))
	claim := interfaces.PendingClaim{UserID: userID, SlotID: slotID}
	if err := s.store.PutPending(ctx, traceID, claim, s.pendingTTLNow()); err != nil {
		if relErr := s.compensator.ReleaseClaim(context.WithoutCancel(ctx), slotID, userID); relErr != nil {
			s.logger.WithError(relErr).WithField("trace_id", traceID).Error("写凭据失败后回滚失败")
		}
		return "", s.infraFailed("pending", err, userID, slotID)
	}

	// 7. 投递并等待 broker 确认
	log := s.logger.WithFields(logrus.Fields{"trace_id": traceID, "user_id": userID, "slot_id": slotID})
	msg := model.ReserveMessage{UserID: userID, SlotID: slotID, SessionID: sessionID, TraceID: traceID}
	outcome, err := s.publisher.PublishClaim(ctx, msg)
	if err != nil {
		log.WithError(err).Error("抢场消息发送失败")
		s.compensate(ctx, traceID, ReasonSendError)
		return "", errcode.New(errcode.Failed)
	}
	switch outcome {
	case interfaces.PublishNacked:
		log.Warn("broker 拒收抢场消息")
		s.compensate(ctx, traceID, ReasonBrokerNack)
		return "", errcode.New(errcode.Failed)
	case interfaces.PublishUnknown:
		// 结果未知不补偿：消息可能已入队，由消费者、死信和超时取消兜底
		result = "confirm_timeout"
		log.Warn("等待 broker 确认超时")
	}
	return traceID, nil
}

func (s *ReserveService) compensate(ctx context.Context, traceID, reason string) {
	if _, err := s.compensator.Compensate(context.WithoutCancel(ctx), traceID, reason); err != nil {
		s.logger.WithError(err).WithField("trace_id", traceID).Error("补偿失败")
	}
}

// infraFailed 缓存或限流器异常，对外统一为操作失败
func (s *ReserveService) infraFailed(step string, err error, userID, slotID uint64) error {
	s.logger.WithError(err).WithFields(logrus.Fields{"step": step, "user_id": userID, "slot_id": slotID}).Error("抢场依赖异常")
	return errcode.Wrap(errcode.Failed, err)
}

func (s *ReserveService) pendingTTLNow() time.Duration {
	if s.pendingTTL > 0 {
		return s.pendingTTL
	}
	return s.clock.TTLToEndOfDay()
}

// GetReserveResult 有记录→SUCCESS，凭据仍在→PENDING，否则 FAILED
func (s *ReserveService) GetReserveResult(ctx context.Context, userID uint64, traceID string) (*ReserveResult, error) {
	if userID == 0 || traceID == "" {
		return nil, errcode.New(errcode.ParamError)
	}
	r, err := s.repo.GetByTraceAndUser(ctx, traceID, userID)
	if err != nil {
		return nil, fmt.Errorf("查询预约失败: %w", err)
	}
	if r != nil {
		id := r.ID
		return &ReserveResult{TraceID: traceID, Status: ResultSuccess, ReservationID: &id, ReservationStatus: r.Status}, nil
	}
	pending, err := s.store.HasPending(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if pending {
		return &ReserveResult{TraceID: traceID, Status: ResultPending}, nil
	}
	return &ReserveResult{TraceID: traceID, Status: ResultFailed}, nil
}

// Cancel 用户取消自己的待支付预约
func (s *ReserveService) Cancel(ctx context.Context, userID, reservationID uint64) error {
	if userID == 0 || reservationID == 0 {
		return errcode.New(errcode.ParamError)
	}
	r, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("查询预约失败: %w", err)
	}
	if r == nil || r.UserID != userID {
		return errcode.Newf(errcode.Failed, "预约不存在")
	}
	if r.Status != model.ReservationPendingPayment {
		return errcode.Newf(errcode.Failed, "当前状态不可取消: %s", r.Status)
	}
	ok, err := s.repo.CancelPending(ctx, reservationID, &userID)
	if err != nil {
		return fmt.Errorf("取消预约失败: %w", err)
	}
	if !ok {
		return errcode.Newf(errcode.Failed, "预约状态已变化，取消失败")
	}
	s.release(ctx, r, "user-cancel")
	return nil
}

// CancelTimeoutPending 超时未支付取消，不校验归属；返回是否真正取消
func (s *ReserveService) CancelTimeoutPending(ctx context.Context, reservationID uint64) (bool, error) {
	r, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return false, fmt.Errorf("查询预约失败: %w", err)
	}
	if r == nil || r.Status != model.ReservationPendingPayment {
		return false, nil
	}
	ok, err := s.repo.CancelPending(ctx, reservationID, nil)
	if err != nil {
		return false, fmt.Errorf("超时取消预约失败: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.release(ctx, r, "pay-timeout")
	metrics.RecordTimeoutCancelled()
	return true, nil
}

// ListMine 用户自己的预约
func (s *ReserveService) ListMine(ctx context.Context, userID uint64, page, pageSize int) ([]*model.Reservation, int64, error) {
	return s.repo.ListByUser(ctx, userID, page, pageSize)
}

// release 数据库已提交，缓存回滚失败只记日志
func (s *ReserveService) release(ctx context.Context, r *model.Reservation, reason string) {
	log := s.logger.WithFields(logrus.Fields{"reservation_id": r.ID, "user_id": r.UserID, "slot_id": r.SlotID, "reason": reason})
	if err := s.compensator.ReleaseClaim(context.WithoutCancel(ctx), r.SlotID, r.UserID); err != nil {
		log.WithError(err).Error("取消后释放库存失败")
		return
	}
	log.Info("预约已取消，库存已释放")
}

func claimResultLabel(err error) string {
	var e *errcode.Error
	if !errors.As(err, &e) || e.Cause != nil {
		return "error"
	}
	switch e.Code {
	case errcode.InvalidSlot:
		return "invalid_slot"
	case errcode.TooManyRequests:
		return "rate_limited"
	case errcode.NotOpenYet:
		return "not_open"
	case errcode.DuplicateRequest:
		return "duplicate"
	case errcode.OutOfStock:
		return "out_of_stock"
	case errcode.ParamError:
		return "param_error"
	default:
		return "failed"
	}
}
