package interfaces

import "context"

// RateLimiter 按 key 限流
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
