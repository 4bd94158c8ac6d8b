package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown 通知重发冷却。服务可能多实例部署，
// 冷却计数放 Redis（带 TTL）而不是进程内存
type Cooldown struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCooldown 创建冷却器
func NewCooldown(rdb redis.UniversalClient, ttl time.Duration) *Cooldown {
	return &Cooldown{rdb: rdb, ttl: ttl}
}

// Allow 判断某键是否允许发送；允许时原子占位，TTL 到期自动释放。
// Redis 不可用时放行，宁可重发不可漏发
func (c *Cooldown) Allow(ctx context.Context, key string) bool {
	if c == nil || c.rdb == nil {
		return true
	}
	ok, err := c.rdb.SetNX(ctx, c.key(key), time.Now().UTC().Format(time.RFC3339), c.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

func (c *Cooldown) key(key string) string {
	return fmt.Sprintf("certhub:notify:cooldown:%s", key)
}
