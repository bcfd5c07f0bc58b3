package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer 单队列手动 ack 消费者
type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer prefetch>0 时限制未确认消息数
func NewConsumer(conn *amqp.Connection, queue string, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Queue() string { return c.queue }

// Deliveries ctx 结束后通道关闭
func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		return c.ch.Close()
	}
	return nil
}
