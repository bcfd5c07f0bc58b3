package service

import (
	"context"
	"errors"
	"fmt"

	"BadmintonFlash/internal/metrics"
	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/utils/timeutil"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrPoisonMessage 消息体缺字段，重试无意义
var ErrPoisonMessage = errors.New("抢场消息字段不完整")

// PersistService 把抢场消息写成 PENDING_PAYMENT 预约，支持重复投递
type PersistService struct {
	repo        repository.ReservationRepository
	compensator *Compensator
	clock       *timeutil.Clock
	logger      *logrus.Logger
}

// NewPersistService 创建落库服务
func NewPersistService(repo repository.ReservationRepository, compensator *Compensator, clock *timeutil.Clock, logger *logrus.Logger) *PersistService {
	return &PersistService{repo: repo, compensator: compensator, clock: clock, logger: logger}
}

// Persist 返回 nil 表示消息已处理完毕（包括重复投递和冲突补偿）；其余错误可重试
func (p *PersistService) Persist(ctx context.Context, msg model.ReserveMessage) error {
	ctx, span := tracer.Start(ctx, "reserve.persist", trace.WithAttributes(
		attribute.String("claim.trace_id", msg.TraceID),
		attribute.Int64("slot.id", int64(msg.SlotID)),
	))
	defer span.End()

	if !msg.Valid() {
		metrics.RecordPersist("poison")
		return fmt.Errorf("%w: %+v", ErrPoisonMessage, msg)
	}
	log := p.logger.WithFields(logrus.Fields{"trace_id": msg.TraceID, "user_id": msg.UserID, "slot_id": msg.SlotID})

	r := &model.Reservation{
		UserID:    msg.UserID,
		SlotID:    msg.SlotID,
		TraceID:   msg.TraceID,
		Status:    model.ReservationPendingPayment,
		CreatedAt: p.clock.Now(),
	}
	err := p.repo.Create(ctx, r)
	if err == nil {
		p.compensator.ClearPending(ctx, msg.TraceID)
		metrics.RecordPersist("created")
		log.WithField("reservation_id", r.ID).Info("预约落库成功")
		return nil
	}
	if !repository.IsUniqueViolation(err) {
		metrics.RecordPersist("error")
		return fmt.Errorf("写入预约失败: %w", err)
	}

	// 唯一约束冲突：同一消息重复投递，或同一时段已被别人占用
	own, err := p.repo.GetByTraceAndUser(ctx, msg.TraceID, msg.UserID)
	if err != nil {
		return fmt.Errorf("查询重复预约失败: %w", err)
	}
	if own != nil {
		p.compensator.ClearPending(ctx, msg.TraceID)
		metrics.RecordPersist("redelivered")
		log.WithField("reservation_id", own.ID).Info("重复投递，预约已存在")
		return nil
	}

	active, err := p.repo.GetActiveBySlot(ctx, msg.SlotID)
	if err != nil {
		return fmt.Errorf("查询时段占用失败: %w", err)
	}
	if active == nil {
		// 冲突行刚被取消，重试即可写入
		return fmt.Errorf("时段 %d 冲突记录已消失，稍后重试", msg.SlotID)
	}
	if active.UserID == msg.UserID {
		p.compensator.ClearPending(ctx, msg.TraceID)
		metrics.RecordPersist("same_user")
		log.WithField("reservation_id", active.ID).Info("用户已持有该时段，忽略")
		return nil
	}

	if _, err := p.compensator.Compensate(ctx, msg.TraceID, ReasonPersistConflict); err != nil {
		return fmt.Errorf("冲突补偿失败: %w", err)
	}
	metrics.RecordPersist("conflict")
	log.WithFields(logrus.Fields{
		"holder_user_id":        active.UserID,
		"holder_reservation_id": active.ID,
	}).Warn("时段已被占用，本次抢场已补偿")
	return nil
}
