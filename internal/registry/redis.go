package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key 前缀
	sessionKeyPrefix   = "conn:session:"
	downKeyPrefix      = "conn:down:"
	reconnectKeyPrefix = "conn:recent:"
	leaveKeyPrefix     = "conn:leave:"

	// 条件写事务的最大重试次数
	maxTxRetries = 3
)

// RedisRegistry Redis 连接注册表
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry 创建 Redis 连接注册表
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

var _ Registry = (*RedisRegistry)(nil)

func sessionKey(userID string) string   { return sessionKeyPrefix + userID }
func downKey(userID string) string      { return downKeyPrefix + userID }
func reconnectKey(userID string) string { return reconnectKeyPrefix + userID }
func leaveKey(userID string) string     { return leaveKeyPrefix + userID }

// Register 无条件登记新连接，后登记者总是胜出
func (r *RedisRegistry) Register(ctx context.Context, s Session) error {
	s.Connected = true
	s.DisconnectedAt = 0

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("序列化会话失败: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.UserID), data, SessionTTL)
	pipe.Del(ctx, downKey(s.UserID))
	pipe.Set(ctx, reconnectKey(s.UserID), time.Now().UnixMilli(), ReconnectMarkerTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// MarkDisconnected 条件标记断线。
// WATCH 会话 key，事务内重读连接 ID：若新连接已在检查之后登记，事务失败，
// 不开启宽限期。
func (r *RedisRegistry) MarkDisconnected(ctx context.Context, userID, connID string, grace time.Duration) (bool, error) {
	started := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, sessionKey(userID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil // 会话不存在，无事可做
		}
		if err != nil {
			return err
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("反序列化会话失败: %w", err)
		}

		// 连接 ID 已被新连接覆盖，放弃
		if s.ConnectionID != connID {
			return nil
		}

		now := time.Now().UnixMilli()
		s.Connected = false
		s.DisconnectedAt = now

		updated, err := json.Marshal(&s)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(userID), updated, SessionTTL)
			pipe.Set(ctx, downKey(userID), now, grace+graceSlack)
			// 断线后只有更晚的 Register 才算"刚刚重连"
			pipe.Del(ctx, reconnectKey(userID))
			return nil
		})
		if err == nil {
			started = true
		}
		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, sessionKey(userID))
		if errors.Is(err, redis.TxFailedErr) {
			// 会话在事务执行期间被改写。冲突未必是新连接抢先登记，
			// 也可能只是同连接刷新会话，重试时在事务内重读再判断
			started = false
			continue
		}
		if err != nil {
			return false, err
		}
		return started, nil
	}
	// 重试耗尽仍在冲突，按被新连接顶替处理
	return false, nil
}

// GraceStatus 基于当前存储状态计算宽限期状态
func (r *RedisRegistry) GraceStatus(ctx context.Context, userID string, grace time.Duration) (GraceStatus, error) {
	s, err := r.Get(ctx, userID)
	if err != nil {
		return GraceStatus{}, err
	}

	// 会话已不存在：用户早已离开，视作宽限期届满
	if s == nil {
		return GraceStatus{StillDisconnected: true, Expired: true}, nil
	}

	if s.Connected {
		return GraceStatus{Reconnected: true}, nil
	}

	status := GraceStatus{StillDisconnected: true}

	downAt, err := r.client.Get(ctx, downKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		// 断线标记已过期，宽限期必然早已届满
		status.Expired = true
		return status, nil
	}
	if err != nil {
		return GraceStatus{}, err
	}

	if time.Since(time.UnixMilli(downAt)) >= grace {
		status.Expired = true
	}
	return status, nil
}

// ClearSession 仅当 connID 仍是当前连接时移除会话及附属标记
func (r *RedisRegistry) ClearSession(ctx context.Context, userID, connID string) error {
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, sessionKey(userID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.ConnectionID != connID {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, sessionKey(userID), downKey(userID), reconnectKey(userID))
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, sessionKey(userID))
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// CurrentConnection 返回当前登记的连接 ID
func (r *RedisRegistry) CurrentConnection(ctx context.Context, userID string) (string, error) {
	s, err := r.Get(ctx, userID)
	if err != nil || s == nil {
		return "", err
	}
	return s.ConnectionID, nil
}

// Get 返回当前会话快照
func (r *RedisRegistry) Get(ctx context.Context, userID string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("反序列化会话失败: %w", err)
	}
	return &s, nil
}

// RecentlyReconnected 查询"刚刚重连"标记
func (r *RedisRegistry) RecentlyReconnected(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, reconnectKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetLeaveIntent 记录主动离开意图
func (r *RedisRegistry) SetLeaveIntent(ctx context.Context, userID string) error {
	return r.client.Set(ctx, leaveKey(userID), 1, LeaveIntentTTL).Err()
}

// HasLeaveIntent 查询离开意图标记
func (r *RedisRegistry) HasLeaveIntent(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, leaveKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
