package listener

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DeliverySource 队列投递来源，*mq.Consumer 实现
type DeliverySource interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

// Handler 处理单条投递，负责 ack/nack
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery)
}

// QueueSubscriber 订阅队列并把每条投递交给 Handler，串行处理
type QueueSubscriber struct {
	name    string
	source  DeliverySource
	handler Handler
	logger  *logrus.Logger
}

// NewQueueSubscriber name 仅用于日志
func NewQueueSubscriber(name string, source DeliverySource, handler Handler, logger *logrus.Logger) *QueueSubscriber {
	return &QueueSubscriber{name: name, source: source, handler: handler, logger: logger}
}

// Run 阻塞直到 ctx 结束；投递通道意外关闭时返回错误
func (s *QueueSubscriber) Run(ctx context.Context) error {
	msgs, err := s.source.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("订阅队列 %s 失败: %w", s.name, err)
	}
	s.logger.WithField("queue", s.name).Info("队列消费者已启动")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.WithField("queue", s.name).Error("投递通道已关闭")
				return errors.New("delivery channel closed: " + s.name)
			}
			s.handler.Handle(ctx, d)
		}
	}
}
