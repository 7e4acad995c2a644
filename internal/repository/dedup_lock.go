package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DedupLocker 串行化同一去重键上的入库请求。
type DedupLocker interface {
	// Acquire 尝试加锁，已被占用时返回 false。
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisDedupLocker struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewDedupLocker 创建基于 Redis SETNX 的锁，ttl 防止进程崩溃后锁不释放。
func NewDedupLocker(redisClient *redis.Client, ttl time.Duration) DedupLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &redisDedupLocker{redisClient: redisClient, ttl: ttl}
}

func dedupLockKey(key string) string {
	return "ingest:lock:" + key
}

func (l *redisDedupLocker) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.redisClient.SetNX(ctx, dedupLockKey(key), 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedup lock: %w", err)
	}
	return ok, nil
}

func (l *redisDedupLocker) Release(ctx context.Context, key string) error {
	return l.redisClient.Del(ctx, dedupLockKey(key)).Err()
}
