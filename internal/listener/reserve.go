package listener

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"BadmintonFlash/internal/model"
	"BadmintonFlash/internal/mq"
	"BadmintonFlash/internal/service"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Persister *service.PersistService 实现
type Persister interface {
	Persist(ctx context.Context, msg model.ReserveMessage) error
}

// RetryPolicy 落库失败的本地重试
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.Multiplier = 2
	b.MaxInterval = p.Max
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// ReserveListener 抢场消息落库；重试耗尽或消息无法解析时 nack 进死信
type ReserveListener struct {
	persister Persister
	retry     RetryPolicy
	logger    *logrus.Logger
}

// NewReserveListener 创建落库监听器
func NewReserveListener(persister Persister, retry RetryPolicy, logger *logrus.Logger) *ReserveListener {
	return &ReserveListener{persister: persister, retry: retry, logger: logger}
}

func (l *ReserveListener) Handle(ctx context.Context, d amqp.Delivery) {
	var msg model.ReserveMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		l.logger.WithError(err).WithField("message_id", d.MessageId).Error("抢场消息解析失败，转入死信")
		_ = d.Nack(false, false)
		return
	}
	if msg.TraceID == "" {
		msg.TraceID = mq.TraceOf(d.MessageId, d.Headers, nil)
	}
	log := l.logger.WithFields(logrus.Fields{"trace_id": msg.TraceID, "redelivered": d.Redelivered})
	ctx = mq.ExtractTrace(ctx, d.Headers)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := l.persister.Persist(ctx, msg)
		if errors.Is(err, service.ErrPoisonMessage) {
			return backoff.Permanent(err)
		}
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("落库失败")
		}
		return err
	}, l.retry.backoff(ctx))

	switch {
	case err == nil:
		_ = d.Ack(false)
	case ctx.Err() != nil:
		// 进程退出中，放回队列交给下一个消费者
		_ = d.Nack(false, true)
	default:
		log.WithError(err).WithField("attempts", attempt).Error("落库重试耗尽，转入死信")
		_ = d.Nack(false, false)
	}
}
