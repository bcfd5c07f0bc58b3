package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LeaseStore JobLock 依赖的租约与标记原语
type LeaseStore interface {
	TryLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, token string) error
	HasFlag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
}

// JobLock 多实例定时任务互斥：零等待获取租约，拿不到直接跳过
type JobLock struct {
	store  LeaseStore
	logger *logrus.Logger
}

// NewJobLock 创建分布式任务锁
func NewJobLock(store LeaseStore, logger *logrus.Logger) *JobLock {
	return &JobLock{store: store, logger: logger}
}

// WithLock 持有 lockKey 租约期间执行 fn；acquired=false 表示其他实例正在执行
func (l *JobLock) WithLock(ctx context.Context, lockKey string, lease time.Duration, fn func(ctx context.Context) error) (bool, error) {
	token := uuid.NewString()
	ok, err := l.store.TryLease(ctx, lockKey, token, lease)
	if err != nil {
		return false, fmt.Errorf("获取任务锁失败: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// 只删除自己持有的租约；过期后被他人拿走时不受影响
		if err := l.store.ReleaseLease(context.WithoutCancel(ctx), lockKey, token); err != nil {
			l.logger.WithError(err).WithField("lock_key", lockKey).Warn("释放任务锁失败，等待租约过期")
		}
	}()
	return true, fn(ctx)
}

// RunOnce doneKey 存在时跳过；拿到锁后再次检查，执行成功后在锁内写 doneKey
// ran=true 表示本次调用真正执行了 fn
func (l *JobLock) RunOnce(ctx context.Context, doneKey, lockKey string, lease, doneTTL time.Duration, fn func(ctx context.Context) error) (bool, error) {
	done, err := l.store.HasFlag(ctx, doneKey)
	if err != nil {
		return false, fmt.Errorf("读取完成标记失败: %w", err)
	}
	if done {
		return false, nil
	}

	ran := false
	acquired, err := l.WithLock(ctx, lockKey, lease, func(ctx context.Context) error {
		done, err := l.store.HasFlag(ctx, doneKey)
		if err != nil {
			return fmt.Errorf("读取完成标记失败: %w", err)
		}
		if done {
			return nil
		}
		if err := fn(ctx); err != nil {
			return err
		}
		ran = true
		return l.store.SetFlag(ctx, doneKey, doneTTL)
	})
	if err != nil {
		return ran, err
	}
	if !acquired {
		l.logger.WithField("lock_key", lockKey).Debug("任务锁被其他实例持有，跳过")
	}
	return ran, nil
}
