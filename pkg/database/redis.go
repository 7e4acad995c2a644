package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ragdesk-go/pkg/log"
)

// NewRedis 初始化 Redis 客户端连接并做一次 Ping。
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Redis client connected successfully")
	return rdb, nil
}
