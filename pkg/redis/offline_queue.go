package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"freight-chat/pkg/realtime"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 离线队列相关常量
const (
	OfflineQueueKeyPrefix = "freight:rt:queue:" // 离线操作队列key前缀
	OfflineQueueTTL       = 7 * 24 * time.Hour  // 7天未刷新则过期
)

// OfflineQueue 基于Redis列表的离线操作队列，进程重启后仍保留
// RPUSH 入队，LINDEX 0 查看队首，LPOP 出队
type OfflineQueue struct {
	client   *redis.Client
	key      string
	capacity int
	log      *zap.Logger
}

var _ realtime.Queue = (*OfflineQueue)(nil)

// NewOfflineQueue 创建用户的离线队列，capacity <= 0 表示不限
func NewOfflineQueue(c *redis.Client, userID string, capacity int, log *zap.Logger) *OfflineQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &OfflineQueue{
		client:   c,
		key:      OfflineQueueKeyPrefix + userID,
		capacity: capacity,
		log:      log,
	}
}

// Key 返回队列使用的Redis key
func (q *OfflineQueue) Key() string {
	return q.key
}

func (q *OfflineQueue) Push(ctx context.Context, op realtime.Op) error {
	if q.capacity > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("获取离线队列长度失败: %w", err)
		}
		if n >= int64(q.capacity) {
			return realtime.ErrQueueFull
		}
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("序列化离线操作失败: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, q.key, data)
		pipe.Expire(ctx, q.key, OfflineQueueTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("添加离线操作失败: %w", err)
	}
	return nil
}

// Peek 查看队首；无法解析的条目会被丢弃
func (q *OfflineQueue) Peek(ctx context.Context) (realtime.Op, bool, error) {
	for {
		raw, err := q.client.LIndex(ctx, q.key, 0).Result()
		if errors.Is(err, redis.Nil) {
			return realtime.Op{}, false, nil
		}
		if err != nil {
			return realtime.Op{}, false, fmt.Errorf("读取离线队列失败: %w", err)
		}

		var op realtime.Op
		if err := json.Unmarshal([]byte(raw), &op); err == nil {
			return op, true, nil
		}
		q.log.Warn("丢弃无法解析的离线操作", zap.String("key", q.key))
		if err := q.Remove(ctx); err != nil {
			return realtime.Op{}, false, err
		}
	}
}

func (q *OfflineQueue) Remove(ctx context.Context) error {
	err := q.client.LPop(ctx, q.key).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("移除离线操作失败: %w", err)
	}
	return nil
}

func (q *OfflineQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("获取离线队列长度失败: %w", err)
	}
	return int(n), nil
}

// Clear 清空队列
func (q *OfflineQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, q.key).Err(); err != nil {
		return fmt.Errorf("清空离线队列失败: %w", err)
	}
	return nil
}
