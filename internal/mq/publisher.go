package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"BadmintonFlash/internal/config"
	"BadmintonFlash/internal/interfaces"
	"BadmintonFlash/internal/model"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// confirmation *amqp.DeferredConfirmation 中用到的部分
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
	Done() <-chan struct{}
	Acked() bool
}

// Publisher 开启 publisher confirm 的抢场消息发布者，mandatory 投递
type Publisher struct {
	ch             *amqp.Channel
	chClosed       func() bool
	exchange       string
	routingKey     string
	confirmTimeout time.Duration
	onNack         func(traceID string)
	onReturn       func(traceID string)
	logger         *logrus.Logger

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// PublisherOption 发布者选项
type PublisherOption func(*Publisher)

// WithNackHandler 等待超时后才到达的 nack
func WithNackHandler(fn func(traceID string)) PublisherOption {
	return func(p *Publisher) { p.onNack = fn }
}

// WithReturnHandler 无法路由被 broker 退回的消息
func WithReturnHandler(fn func(traceID string)) PublisherOption {
	return func(p *Publisher) { p.onReturn = fn }
}

// NewPublisher 在 conn 上打开独立 channel 并进入 confirm 模式
func NewPublisher(conn *amqp.Connection, cfg config.RabbitMQConfig, logger *logrus.Logger, opts ...PublisherOption) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirm: %w", err)
	}
	p := &Publisher{
		ch:             ch,
		chClosed:       ch.IsClosed,
		exchange:       cfg.Exchange,
		routingKey:     cfg.RoutingKey,
		confirmTimeout: cfg.ConfirmTimeout,
		onNack:         func(string) {},
		onReturn:       func(string) {},
		logger:         logger,
		closed:         make(chan struct{}),
	}
	if p.confirmTimeout <= 0 {
		p.confirmTimeout = 3 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}

	returns := ch.NotifyReturn(make(chan amqp.Return, 64))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for r := range returns {
			traceID := TraceOf(r.MessageId, r.Headers, r.Body)
			p.logger.WithFields(logrus.Fields{
				"trace_id":    traceID,
				"reply_code":  r.ReplyCode,
				"reply_text":  r.ReplyText,
				"routing_key": r.RoutingKey,
			}).Warn("抢场消息被 broker 退回")
			p.onReturn(traceID)
		}
	}()
	return p, nil
}

// PublishClaim 发送并在 confirmTimeout 内等待确认；超时返回 PublishUnknown，迟到的 nack 交给 onNack
func (p *Publisher) PublishClaim(ctx context.Context, msg model.ReserveMessage) (interfaces.PublishOutcome, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return interfaces.PublishUnknown, fmt.Errorf("序列化抢场消息失败: %w", err)
	}
	headers := amqp.Table{HeaderTraceID: msg.TraceID}
	InjectTrace(ctx, headers)
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, p.routingKey, true, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.TraceID,
		CorrelationId: msg.TraceID,
		Timestamp:     time.Now(),
		Headers:       headers,
		Body:          body,
	})
	if err != nil {
		return interfaces.PublishUnknown, fmt.Errorf("publish: %w", err)
	}
	if dc == nil {
		return interfaces.PublishUnknown, fmt.Errorf("channel 未处于 confirm 模式")
	}
	return p.await(ctx, msg.TraceID, dc), nil
}

// await channel 关闭时库里会把未确认的消息全部置为 nack，此时消息可能已入队，按结果未知处理
func (p *Publisher) await(ctx context.Context, traceID string, dc confirmation) interfaces.PublishOutcome {
	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	acked, err := dc.WaitContext(waitCtx)
	if err == nil {
		switch {
		case acked:
			return interfaces.PublishAcked
		case p.chClosed():
			p.logger.WithField("trace_id", traceID).Warn("等待确认期间 channel 已关闭，结果未知")
			return interfaces.PublishUnknown
		default:
			return interfaces.PublishNacked
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-dc.Done():
			if dc.Acked() {
				return
			}
			if p.chClosed() {
				p.logger.WithField("trace_id", traceID).Warn("迟到确认因 channel 关闭而失效，不补偿")
				return
			}
			p.onNack(traceID)
		case <-p.closed:
		}
	}()
	return interfaces.PublishUnknown
}

// Close 关闭 channel 并等待回调协程退出
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		err = p.ch.Close()
		p.wg.Wait()
	})
	return err
}
