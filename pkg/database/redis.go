package database

import (
	"context"
	"time"

	"kenny-gateway/internal/config"
	"kenny-gateway/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。
// 连接失败时只记录告警：网络缓存层不可用时会话仍可从数据库恢复。
func InitRedis(cfg config.RedisConfig) {
	RDB = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Warnf("failed to connect to redis, continuing without network cache: %v", err)
		return
	}

	log.Info("Redis client connected successfully")
}
