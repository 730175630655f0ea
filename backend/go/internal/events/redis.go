package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisSink 通过 Redis pub/sub 广播任务事件，适合多个控制面实例共享进度。
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink 创建 Redis 出口。client 的生命周期由调用方管理。
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultTopic
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis:" + s.channel }

// Publish 把事件以 JSON 发布到频道。
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Close 不关闭共享的 client。
func (s *RedisSink) Close() error { return nil }
