package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"BadmintonFlash/internal/interfaces"

	"github.com/redis/go-redis/v9"
)

var (
	// 计数器不存在返回 -1，库存不足返回 0
	acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return -1
end
if tonumber(v) > 0 then
  redis.call('DECR', KEYS[1])
  return 1
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('INCR', KEYS[1])
  return 1
end
return 0`)

	initDedupScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SADD', KEYS[1], ARGV[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0`)

	releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0`)
)

// RedisStore 基于 Redis 的容量存储
type RedisStore struct {
	rdb  redis.UniversalClient
	keys Keys
}

var _ interfaces.CapacityStore = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 容量存储
func NewRedisStore(rdb redis.UniversalClient, keys Keys) *RedisStore {
	return &RedisStore{rdb: rdb, keys: keys}
}

func (s *RedisStore) Keys() Keys { return s.keys }

func (s *RedisStore) BindSlot(ctx context.Context, slotID, sessionID uint64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.keys.SlotSession(slotID), u(sessionID), ttl).Err(); err != nil {
		return fmt.Errorf("绑定时段场次失败 slot=%d: %w", slotID, err)
	}
	return nil
}

func (s *RedisStore) SlotSession(ctx context.Context, slotID uint64) (uint64, bool, error) {
	v, err := s.rdb.Get(ctx, s.keys.SlotSession(slotID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取时段绑定失败 slot=%d: %w", slotID, err)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("时段绑定值非法 slot=%d: %q", slotID, v)
	}
	return id, true, nil
}

func (s *RedisStore) InitStock(ctx context.Context, slotID uint64, permits int, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keys.Stock(slotID), permits, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("初始化库存失败 slot=%d: %w", slotID, err)
	}
	return ok, nil
}

func (s *RedisStore) TryAcquireStock(ctx context.Context, slotID uint64) (bool, error) {
	n, err := acquireScript.Run(ctx, s.rdb, []string{s.keys.Stock(slotID)}).Int()
	if err != nil {
		return false, fmt.Errorf("扣减库存失败 slot=%d: %w", slotID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseStock(ctx context.Context, slotID uint64) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.keys.Stock(slotID)}).Int()
	if err != nil {
		return false, fmt.Errorf("归还库存失败 slot=%d: %w", slotID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Stock(ctx context.Context, slotID uint64) (int, bool, error) {
	n, err := s.rdb.Get(ctx, s.keys.Stock(slotID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取库存失败 slot=%d: %w", slotID, err)
	}
	return n, true, nil
}

func (s *RedisStore) InitDedup(ctx context.Context, slotID uint64, ttl time.Duration) error {
	err := initDedupScript.Run(ctx, s.rdb, []string{s.keys.Dedup(slotID)}, dedupPlaceholder, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("初始化去重集合失败 slot=%d: %w", slotID, err)
	}
	return nil
}

func (s *RedisStore) AddClaimant(ctx context.Context, slotID, userID uint64) (bool, error) {
	n, err := s.rdb.SAdd(ctx, s.keys.Dedup(slotID), u(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("写入去重集合失败 slot=%d: %w", slotID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) RemoveClaimant(ctx context.Context, slotID, userID uint64) error {
	if err := s.rdb.SRem(ctx, s.keys.Dedup(slotID), u(userID)).Err(); err != nil {
		return fmt.Errorf("移除去重成员失败 slot=%d user=%d: %w", slotID, userID, err)
	}
	return nil
}

func (s *RedisStore) IsClaimant(ctx context.Context, slotID, userID uint64) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.keys.Dedup(slotID), u(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("查询去重成员失败 slot=%d: %w", slotID, err)
	}
	return ok, nil
}

func (s *RedisStore) HasDedup(ctx context.Context, slotID uint64) (bool, error) {
	return s.exists(ctx, s.keys.Dedup(slotID))
}

func (s *RedisStore) InitGate(ctx context.Context, sessionID uint64, ttl time.Duration) error {
	if err := s.rdb.SetNX(ctx, s.keys.Gate(sessionID), "0", ttl).Err(); err != nil {
		return fmt.Errorf("初始化闸门失败 session=%d: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) OpenGate(ctx context.Context, sessionID uint64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.keys.Gate(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("开启闸门失败 session=%d: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) IsGateOpen(ctx context.Context, sessionID uint64) (bool, error) {
	v, err := s.rdb.Get(ctx, s.keys.Gate(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取闸门失败 session=%d: %w", sessionID, err)
	}
	return v == "1", nil
}

func (s *RedisStore) HasGate(ctx context.Context, sessionID uint64) (bool, error) {
	return s.exists(ctx, s.keys.Gate(sessionID))
}

func (s *RedisStore) SetGateEpoch(ctx context.Context, sessionID uint64, epoch int64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.keys.GateTime(sessionID), epoch, ttl).Err(); err != nil {
		return fmt.Errorf("写入开闸时间失败 session=%d: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) GateEpoch(ctx context.Context, sessionID uint64) (int64, bool, error) {
	v, err := s.rdb.Get(ctx, s.keys.GateTime(sessionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取开闸时间失败 session=%d: %w", sessionID, err)
	}
	return v, true, nil
}

func (s *RedisStore) PutPending(ctx context.Context, traceID string, claim interfaces.PendingClaim, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.keys.Pending(traceID), encodePending(claim), ttl).Err(); err != nil {
		return fmt.Errorf("写入待落库凭据失败 trace=%s: %w", traceID, err)
	}
	return nil
}

func (s *RedisStore) TakePending(ctx context.Context, traceID string) (interfaces.PendingClaim, bool, error) {
	v, err := s.rdb.GetDel(ctx, s.keys.Pending(traceID)).Result()
	if errors.Is(err, redis.Nil) {
		return interfaces.PendingClaim{}, false, nil
	}
	if err != nil {
		return interfaces.PendingClaim{}, false, fmt.Errorf("取出待落库凭据失败 trace=%s: %w", traceID, err)
	}
	claim, err := decodePending(v)
	if err != nil {
		return interfaces.PendingClaim{}, false, err
	}
	return claim, true, nil
}

func (s *RedisStore) HasPending(ctx context.Context, traceID string) (bool, error) {
	return s.exists(ctx, s.keys.Pending(traceID))
}

func (s *RedisStore) ClearPending(ctx context.Context, traceID string) error {
	return s.Delete(ctx, s.keys.Pending(traceID))
}

func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("写入标记 %s 失败: %w", key, err)
	}
	return nil
}

func (s *RedisStore) HasFlag(ctx context.Context, key string) (bool, error) {
	return s.exists(ctx, key)
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("删除缓存 key 失败: %w", err)
	}
	return nil
}

func (s *RedisStore) TryLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取租约 %s 失败: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, key, token string) error {
	if err := releaseLeaseScript.Run(ctx, s.rdb, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("释放租约 %s 失败: %w", key, err)
	}
	return nil
}

func (s *RedisStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("查询 key %s 失败: %w", key, err)
	}
	return n > 0, nil
}
