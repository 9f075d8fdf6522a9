package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 在线状态相关常量
const (
	PresenceKeyPrefix = "freight:rt:presence:" // 用户在线状态key前缀
	OnlineUsersKey    = "freight:rt:online"    // 在线用户集合key
	PresenceTTL       = 2 * time.Minute        // 在线状态TTL（约两倍心跳周期）
)

// Presence 在 Redis 中镜像 relay 的在线用户，供多实例查询
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPresence 创建在线状态存储，ttl 为 0 时使用 PresenceTTL
func NewPresence(c *redis.Client, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = PresenceTTL
	}
	return &Presence{client: c, ttl: ttl}
}

// SetOnline 标记用户在线
func (p *Presence) SetOnline(ctx context.Context, userID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, PresenceKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), p.ttl)
		pipe.SAdd(ctx, OnlineUsersKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("设置用户在线状态失败: %w", err)
	}
	return nil
}

// SetOffline 标记用户离线
func (p *Presence) SetOffline(ctx context.Context, userID string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, PresenceKeyPrefix+userID)
		pipe.SRem(ctx, OnlineUsersKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("设置用户离线状态失败: %w", err)
	}
	return nil
}

// Refresh 延长在线状态TTL（心跳时调用）
func (p *Presence) Refresh(ctx context.Context, userID string) error {
	ok, err := p.client.Expire(ctx, PresenceKeyPrefix+userID, p.ttl).Result()
	if err != nil {
		return fmt.Errorf("刷新用户在线状态失败: %w", err)
	}
	if !ok {
		return p.SetOnline(ctx, userID)
	}
	return nil
}

// IsOnline 检查用户是否在线
func (p *Presence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, PresenceKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("检查用户在线状态失败: %w", err)
	}
	return n > 0, nil
}

// OnlineUsers 获取在线用户，顺带清理状态已过期的成员
func (p *Presence) OnlineUsers(ctx context.Context) ([]string, error) {
	members, err := p.client.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %w", err)
	}

	online := make([]string, 0, len(members))
	for _, userID := range members {
		ok, err := p.IsOnline(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.client.SRem(ctx, OnlineUsersKey, userID)
			continue
		}
		online = append(online, userID)
	}
	return online, nil
}
