package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key
	matchRecordKeyPrefix = "match:record:"
	matchRecentKey       = "match:recent"
	matchPlayerKeyPrefix = "match:player:"

	// 保留的历史条数
	recentHistoryLimit = 100
	playerHistoryLimit = 50

	// 战绩记录的过期时间
	historyExpiration = 30 * 24 * time.Hour
)

// MatchRecord 一场已结束对局的战绩记录
type MatchRecord struct {
	RoomID       string   `json:"room_id"`
	Players      []string `json:"players"` // 两名玩家的用户 ID
	WinnerID     string   `json:"winner_id"`
	LoserID      string   `json:"loser_id"`
	Reason       string   `json:"reason"` // all_sunk / forfeit / leave / timeout
	DurationSecs int      `json:"duration_secs"`
	FinishedAt   int64    `json:"finished_at"` // Unix 毫秒
}

// MatchHistory 战绩存储。对局进入 Finished 时写入一次，且只写一次。
type MatchHistory struct {
	client *redis.Client
}

// NewMatchHistory 创建战绩存储
func NewMatchHistory(client *redis.Client) *MatchHistory {
	return &MatchHistory{client: client}
}

// Record 记录一场已结束的对局。
// 以房间 ID 做 SetNX 哨兵，重复调用（迟到的掉线事件、重复的结束路径）不会写入第二份。
// 返回是否真正写入。
func (h *MatchHistory) Record(ctx context.Context, rec *MatchRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("序列化战绩失败: %w", err)
	}

	ok, err := h.client.SetNX(ctx, matchRecordKeyPrefix+rec.RoomID, data, historyExpiration).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil // 已记录过
	}

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, matchRecentKey, data)
	pipe.LTrim(ctx, matchRecentKey, 0, recentHistoryLimit-1)
	for _, playerID := range rec.Players {
		key := matchPlayerKeyPrefix + playerID
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, playerHistoryLimit-1)
		pipe.Expire(ctx, key, historyExpiration)
	}
	_, err = pipe.Exec(ctx)
	return true, err
}

// Recent 返回最近的若干条战绩
func (h *MatchHistory) Recent(ctx context.Context, n int64) ([]*MatchRecord, error) {
	return h.list(ctx, matchRecentKey, n)
}

// ByPlayer 返回某玩家最近的若干条战绩
func (h *MatchHistory) ByPlayer(ctx context.Context, playerID string, n int64) ([]*MatchRecord, error) {
	return h.list(ctx, matchPlayerKeyPrefix+playerID, n)
}

func (h *MatchHistory) list(ctx context.Context, key string, n int64) ([]*MatchRecord, error) {
	items, err := h.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*MatchRecord, 0, len(items))
	for _, item := range items {
		var rec MatchRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("反序列化战绩失败: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
