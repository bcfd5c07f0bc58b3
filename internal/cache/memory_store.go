package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"BadmintonFlash/internal/interfaces"
)

type memEntry struct {
	str      string
	set      map[string]struct{}
	expireAt time.Time
}

// MemoryStore 单实例内存版容量存储，语义与 RedisStore 一致
// 用于本地开发（cache.driver=memory）和测试
type MemoryStore struct {
	mu   sync.Mutex
	keys Keys
	data map[string]*memEntry
	now  func() time.Time
}

var _ interfaces.CapacityStore = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

// WithMemoryClock 替换过期判断使用的时钟
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(keys Keys, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{keys: keys, data: make(map[string]*memEntry), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Keys() Keys { return s.keys }

// get 须持锁调用，过期即删除
func (s *MemoryStore) get(key string) (*memEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !e.expireAt.IsZero() && !s.now().Before(e.expireAt) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

// Sweep 删除所有已过期的 key，返回删除数量
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.data {
		if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Len 当前保存的 key 数量，含尚未清理的过期 key
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// StartJanitor 每隔 every 清理一次过期 key，ctx 取消后退出
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

func (s *MemoryStore) put(key, val string, ttl time.Duration) {
	s.data[key] = &memEntry{str: val, expireAt: s.deadline(ttl)}
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) BindSlot(_ context.Context, slotID, sessionID uint64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.keys.SlotSession(slotID), u(sessionID), ttl)
	return nil
}

func (s *MemoryStore) SlotSession(_ context.Context, slotID uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.SlotSession(slotID))
	if !ok {
		return 0, false, nil
	}
	id, err := strconv.ParseUint(e.str, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("时段绑定值非法 slot=%d: %q", slotID, e.str)
	}
	return id, true, nil
}

func (s *MemoryStore) InitStock(_ context.Context, slotID uint64, permits int, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Stock(slotID)
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.put(key, strconv.Itoa(permits), ttl)
	return true, nil
}

func (s *MemoryStore) TryAcquireStock(_ context.Context, slotID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.Stock(slotID))
	if !ok {
		return false, nil
	}
	n, _ := strconv.Atoi(e.str)
	if n <= 0 {
		return false, nil
	}
	e.str = strconv.Itoa(n - 1)
	return true, nil
}

func (s *MemoryStore) ReleaseStock(_ context.Context, slotID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.Stock(slotID))
	if !ok {
		return false, nil
	}
	n, _ := strconv.Atoi(e.str)
	e.str = strconv.Itoa(n + 1)
	return true, nil
}

func (s *MemoryStore) Stock(_ context.Context, slotID uint64) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.Stock(slotID))
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(e.str)
	if err != nil {
		return 0, false, fmt.Errorf("库存值非法 slot=%d: %q", slotID, e.str)
	}
	return n, true, nil
}

func (s *MemoryStore) InitDedup(_ context.Context, slotID uint64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Dedup(slotID)
	if _, ok := s.get(key); ok {
		return nil
	}
	s.data[key] = &memEntry{set: map[string]struct{}{dedupPlaceholder: {}}, expireAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) AddClaimant(_ context.Context, slotID, userID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Dedup(slotID)
	e, ok := s.get(key)
	if !ok {
		// 与 SADD 一致：集合不存在时新建且不带过期
		e = &memEntry{set: map[string]struct{}{}}
		s.data[key] = e
	}
	if _, dup := e.set[u(userID)]; dup {
		return false, nil
	}
	e.set[u(userID)] = struct{}{}
	return true, nil
}

func (s *MemoryStore) RemoveClaimant(_ context.Context, slotID, userID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Dedup(slotID)
	if e, ok := s.get(key); ok {
		delete(e.set, u(userID))
		if len(e.set) == 0 {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *MemoryStore) IsClaimant(_ context.Context, slotID, userID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.Dedup(slotID))
	if !ok {
		return false, nil
	}
	_, member := e.set[u(userID)]
	return member, nil
}

func (s *MemoryStore) HasDedup(ctx context.Context, slotID uint64) (bool, error) {
	return s.HasFlag(ctx, s.keys.Dedup(slotID))
}

func (s *MemoryStore) InitGate(_ context.Context, sessionID uint64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Gate(sessionID)
	if _, ok := s.get(key); !ok {
		s.put(key, "0", ttl)
	}
	return nil
}

func (s *MemoryStore) OpenGate(_ context.Context, sessionID uint64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.keys.Gate(sessionID), "1", ttl)
	return nil
}

func (s *MemoryStore) IsGateOpen(_ context.Context, sessionID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.Gate(sessionID))
	return ok && e.str == "1", nil
}

func (s *MemoryStore) HasGate(ctx context.Context, sessionID uint64) (bool, error) {
	return s.HasFlag(ctx, s.keys.Gate(sessionID))
}

func (s *MemoryStore) SetGateEpoch(_ context.Context, sessionID uint64, epoch int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.keys.GateTime(sessionID), strconv.FormatInt(epoch, 10), ttl)
	return nil
}

func (s *MemoryStore) GateEpoch(_ context.Context, sessionID uint64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(s.keys.GateTime(sessionID))
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("开闸时间非法 session=%d: %q", sessionID, e.str)
	}
	return v, true, nil
}

func (s *MemoryStore) PutPending(_ context.Context, traceID string, claim interfaces.PendingClaim, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(s.keys.Pending(traceID), encodePending(claim), ttl)
	return nil
}

func (s *MemoryStore) TakePending(_ context.Context, traceID string) (interfaces.PendingClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keys.Pending(traceID)
	e, ok := s.get(key)
	if !ok {
		return interfaces.PendingClaim{}, false, nil
	}
	delete(s.data, key)
	claim, err := decodePending(e.str)
	if err != nil {
		return interfaces.PendingClaim{}, false, err
	}
	return claim, true, nil
}

func (s *MemoryStore) HasPending(ctx context.Context, traceID string) (bool, error) {
	return s.HasFlag(ctx, s.keys.Pending(traceID))
}

func (s *MemoryStore) ClearPending(ctx context.Context, traceID string) error {
	return s.Delete(ctx, s.keys.Pending(traceID))
}

func (s *MemoryStore) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, "1", ttl)
	return nil
}

func (s *MemoryStore) HasFlag(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key)
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) TryLease(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.put(key, token, ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.get(key); ok && e.str == token {
		delete(s.data, key)
	}
	return nil
}
