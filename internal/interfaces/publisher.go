package interfaces

import (
	"context"

	"BadmintonFlash/internal/model"
)

// PublishOutcome broker 对一次投递的确认结果
type PublishOutcome int

const (
	PublishAcked   PublishOutcome = iota // broker 已确认
	PublishNacked                        // broker 拒收
	PublishUnknown                       // 等待确认超时，结果未知
)

func (o PublishOutcome) String() string {
	switch o {
	case PublishAcked:
		return "ack"
	case PublishNacked:
		return "nack"
	default:
		return "unknown"
	}
}

// ClaimPublisher 抢场消息投递；返回 error 表示同步发送失败
type ClaimPublisher interface {
	PublishClaim(ctx context.Context, msg model.ReserveMessage) (PublishOutcome, error)
}
