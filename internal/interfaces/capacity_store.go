package interfaces

import (
	"context"
	"time"
)

// PendingClaim 已扣库存、尚未落库的抢场凭据
type PendingClaim struct {
	UserID uint64
	SlotID uint64
}

// CapacityStore 抢场热路径依赖的缓存原语，每个方法都是单次原子操作
type CapacityStore interface {
	// 时段与场次绑定
	BindSlot(ctx context.Context, slotID, sessionID uint64, ttl time.Duration) error
	SlotSession(ctx context.Context, slotID uint64) (sessionID uint64, ok bool, err error)

	// 库存：仅在不存在时初始化；release 仅在计数器存在时归还
	InitStock(ctx context.Context, slotID uint64, permits int, ttl time.Duration) (created bool, err error)
	TryAcquireStock(ctx context.Context, slotID uint64) (bool, error)
	ReleaseStock(ctx context.Context, slotID uint64) (released bool, err error)
	Stock(ctx context.Context, slotID uint64) (permits int, ok bool, err error)

	// 去重集合
	InitDedup(ctx context.Context, slotID uint64, ttl time.Duration) error
	AddClaimant(ctx context.Context, slotID, userID uint64) (added bool, err error)
	RemoveClaimant(ctx context.Context, slotID, userID uint64) error
	IsClaimant(ctx context.Context, slotID, userID uint64) (bool, error)
	HasDedup(ctx context.Context, slotID uint64) (bool, error)

	// 场次闸门，缺失视为关闭
	InitGate(ctx context.Context, sessionID uint64, ttl time.Duration) error
	OpenGate(ctx context.Context, sessionID uint64, ttl time.Duration) error
	IsGateOpen(ctx context.Context, sessionID uint64) (bool, error)
	HasGate(ctx context.Context, sessionID uint64) (bool, error)
	SetGateEpoch(ctx context.Context, sessionID uint64, epoch int64, ttl time.Duration) error
	GateEpoch(ctx context.Context, sessionID uint64) (epoch int64, ok bool, err error)

	// 待落库凭据，TakePending 为取出并删除
	PutPending(ctx context.Context, traceID string, claim PendingClaim, ttl time.Duration) error
	TakePending(ctx context.Context, traceID string) (PendingClaim, bool, error)
	HasPending(ctx context.Context, traceID string) (bool, error)
	ClearPending(ctx context.Context, traceID string) error

	// 通用标记与租约
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	HasFlag(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	TryLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, token string) error
}
