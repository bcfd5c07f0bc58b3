// Package mq 抢场消息通道：拓扑声明、带确认的发布者与消费者
package mq

import (
	"context"
	"fmt"
	"time"

	"BadmintonFlash/internal/config"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Dial 启动时连接 broker，失败按指数退避重试
func Dial(ctx context.Context, url string, logger *logrus.Logger) (*amqp.Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	var conn *amqp.Connection
	err := backoff.RetryNotify(func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait).Warn("连接 RabbitMQ 失败，稍后重试")
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

// DeclareTopology 业务交换机与队列，队列绑定死信交换机
func DeclareTopology(conn *amqp.Connection, cfg config.RabbitMQConfig) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead letter queue: %w", err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, cfg.DeadLetterRoutingKey, cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind dead letter queue: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	args := amqp.Table{
		"x-dead-letter-exchange":    cfg.DeadLetterExchange,
		"x-dead-letter-routing-key": cfg.DeadLetterRoutingKey,
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", cfg.RoutingKey, err)
	}
	return nil
}
