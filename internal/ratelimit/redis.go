package ratelimit

import (
	"context"
	"fmt"
	"time"

	"BadmintonFlash/internal/cache"
	"BadmintonFlash/internal/interfaces"

	"github.com/redis/go-redis/v9"
)

// 令牌桶：容量 ARGV[1]，ARGV[2] 毫秒内匀速补满
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local period = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
local elapsed = now - ts
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(capacity, tokens + elapsed * capacity / period)
local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], period * 2)
return allowed`)

// RedisBucket 多实例共享的按用户令牌桶
type RedisBucket struct {
	rdb      redis.UniversalClient
	keys     cache.Keys
	capacity int
	period   time.Duration
	now      func() time.Time
}

var _ interfaces.RateLimiter = (*RedisBucket)(nil)

type BucketOption func(*RedisBucket)

// WithBucketClock 替换令牌计算使用的时钟
func WithBucketClock(now func() time.Time) BucketOption {
	return func(b *RedisBucket) { b.now = now }
}

// NewRedisBucket 每 period 最多 capacity 次
func NewRedisBucket(rdb redis.UniversalClient, keys cache.Keys, capacity int, period time.Duration, opts ...BucketOption) *RedisBucket {
	b := &RedisBucket{rdb: rdb, keys: keys, capacity: capacity, period: period, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBucket) Allow(ctx context.Context, key string) (bool, error) {
	n, err := tokenBucketScript.Run(ctx, b.rdb, []string{b.keys.Limit(key)},
		b.capacity, b.period.Milliseconds(), b.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("限流脚本执行失败 key=%s: %w", key, err)
	}
	return n == 1, nil
}
