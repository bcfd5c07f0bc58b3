package ratelimit

import (
	"context"
	"sync"
	"time"

	"BadmintonFlash/internal/interfaces"

	"golang.org/x/time/rate"
)

// LocalStore 进程内令牌桶，按 key 缓存 limiter 并定期清理空闲项
// 仅适用于单实例部署
type LocalStore struct {
	mu           sync.Mutex
	entries      map[string]*storeEntry
	limit        rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type storeEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

var _ interfaces.RateLimiter = (*LocalStore)(nil)

type LocalOption func(*LocalStore)

func WithIdleTTL(d time.Duration) LocalOption {
	return func(s *LocalStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalOption {
	return func(s *LocalStore) { s.cleanupEvery = d }
}

// NewLocalStore 每 period 最多 capacity 次
func NewLocalStore(capacity int, period time.Duration, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		entries:      make(map[string]*storeEntry),
		limit:        rate.Every(period / time.Duration(capacity)),
		burst:        capacity,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalStore) Allow(_ context.Context, key string) (bool, error) {
	return s.get(key).Allow(), nil
}

func (s *LocalStore) get(key string) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(s.limit, s.burst)
	s.entries[key] = &storeEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup 删除超过 idleTTL 未访问的 limiter
func (s *LocalStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor 周期清理，ctx 取消后退出
func (s *LocalStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
