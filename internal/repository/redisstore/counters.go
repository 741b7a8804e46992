// Package redisstore Redis 计数器，替换主存储自带的序号实现
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/redis/go-redis/v9"
)

// Counters 基于 INCR 的计数器，键为 prefix + 计数器文档名
type Counters struct {
	client redis.UniversalClient
	prefix string
}

// NewCounters 创建计数器，client 由调用方关闭
func NewCounters(client redis.UniversalClient, prefix string) *Counters {
	return &Counters{client: client, prefix: prefix}
}

func (c *Counters) key(k models.CounterKey) string {
	return c.prefix + k.DocumentID()
}

// Increment INCR 原子自增，首次调用返回 1
func (c *Counters) Increment(ctx context.Context, key models.CounterKey) (int64, error) {
	n, err := c.client.Incr(ctx, c.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return n, nil
}

func (c *Counters) Set(ctx context.Context, key models.CounterKey, value int64) error {
	if err := c.client.Set(ctx, c.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}

func (c *Counters) Get(ctx context.Context, key models.CounterKey) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return n, nil
}
