package listener

import (
	"context"
	"encoding/json"

	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/mq"
	"BadmintonFlash/internal/repository"
	"BadmintonFlash/internal/service"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Compensator *service.Compensator 实现
type Compensator interface {
	Compensate(ctx context.Context, traceID, reason string) (bool, error)
}

// DeadLetterListener 死信兜底：按 traceId 补偿并留档
type DeadLetterListener struct {
	compensator Compensator
	repo        repository.DeadLetterRepository
	logger      *logrus.Logger
}

// NewDeadLetterListener 创建死信监听器
func NewDeadLetterListener(compensator Compensator, repo repository.DeadLetterRepository, logger *logrus.Logger) *DeadLetterListener {
	return &DeadLetterListener{compensator: compensator, repo: repo, logger: logger}
}

func (l *DeadLetterListener) Handle(ctx context.Context, d amqp.Delivery) {
	traceID := mq.TraceOf(d.MessageId, d.Headers, d.Body)
	reason := deathReason(d.Headers)
	log := l.logger.WithFields(logrus.Fields{"trace_id": traceID, "death_reason": reason})

	if traceID == "" {
		log.Error("死信缺少 traceId，无法补偿，需人工处理")
	} else if _, err := l.compensator.Compensate(ctx, traceID, service.ReasonDeadLetter); err != nil {
		log.WithError(err).Error("死信补偿失败，重新入队")
		_ = d.Nack(false, true)
		return
	}

	payload := d.Body
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(d.Body))
	}
	record := &model.DeadLetter{TraceID: traceID, Reason: reason, Payload: datatypes.JSON(payload)}
	if err := l.repo.Create(ctx, record); err != nil {
		log.WithError(err).Warn("死信留档失败")
	}
	_ = d.Ack(false)
}

// deathReason 取 x-death 第一条记录的 reason
func deathReason(headers amqp.Table) string {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return "unknown"
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return "unknown"
	}
	if r, ok := first["reason"].(string); ok && r != "" {
		return r
	}
	return "unknown"
}
