package service

import (
	"context"
	"fmt"

	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/metrics"

	"github.com/sirupsen/logrus"
)

// 补偿触发原因
const (
	ReasonSendError       = "sync-send-exception"
	ReasonBrokerNack      = "broker-nack"
	ReasonLateNack        = "broker-nack-async"
	ReasonReturned        = "returned"
	ReasonDeadLetter      = "dlq-final-fail"
	ReasonPersistConflict = "persist-conflict"
)

// Compensator 按 traceId 回滚热路径上已占用的去重成员和库存
type Compensator struct {
	store  interfaces.CapacityStore
	logger *logrus.Logger
}

// NewCompensator 创建补偿器
func NewCompensator(store interfaces.CapacityStore, logger *logrus.Logger) *Compensator {
	return &Compensator{store: store, logger: logger}
}

// Compensate 取出并删除待落库凭据后回滚；凭据不存在时什么也不做，重复调用安全
func (c *Compensator) Compensate(ctx context.Context, traceID, reason string) (bool, error) {
	claim, ok, err := c.store.TakePending(ctx, traceID)
	if err != nil {
		return false, fmt.Errorf("取出待落库凭据失败: %w", err)
	}
	log := c.logger.WithFields(logrus.Fields{"trace_id": traceID, "reason": reason})
	if !ok {
		log.Debug("待落库凭据不存在，无需补偿")
		return false, nil
	}
	if err := c.ReleaseClaim(ctx, claim.SlotID, claim.UserID); err != nil {
		log.WithError(err).WithFields(logrus.Fields{"user_id": claim.UserID, "slot_id": claim.SlotID}).
			Error("补偿回滚失败，需人工核对")
		return false, err
	}
	metrics.RecordCompensation(reason)
	log.WithFields(logrus.Fields{"user_id": claim.UserID, "slot_id": claim.SlotID}).Warn("抢场已补偿")
	return true, nil
}

// ReleaseClaim 移出去重集合并归还一个库存（计数器不存在则不归还）
func (c *Compensator) ReleaseClaim(ctx context.Context, slotID, userID uint64) error {
	if err := c.store.RemoveClaimant(ctx, slotID, userID); err != nil {
		return err
	}
	if _, err := c.store.ReleaseStock(ctx, slotID); err != nil {
		return err
	}
	return nil
}

// ClearPending 落库成功后删除凭据，失败只记日志
func (c *Compensator) ClearPending(ctx context.Context, traceID string) {
	if err := c.store.ClearPending(ctx, traceID); err != nil {
		c.logger.WithError(err).WithField("trace_id", traceID).Warn("删除待落库凭据失败")
	}
}

// OnBrokerNack 异步确认回调：超时后才到达的 nack
func (c *Compensator) OnBrokerNack(traceID string) {
	c.async(traceID, ReasonLateNack)
}

// OnReturned 消息无法路由被退回
func (c *Compensator) OnReturned(traceID string) {
	c.async(traceID, ReasonReturned)
}

func (c *Compensator) async(traceID, reason string) {
	if traceID == "" {
		c.logger.WithField("reason", reason).Error("回调缺少 traceId，无法补偿")
		return
	}
	if _, err := c.Compensate(context.Background(), traceID, reason); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"trace_id": traceID, "reason": reason}).Error("异步补偿失败")
	}
}
