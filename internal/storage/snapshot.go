package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key 前缀：按内部 ID 与房间号双写
	roomIDKeyPrefix   = "room:id:"
	roomCodeKeyPrefix = "room:code:"

	// SnapshotTTL 快照过期时间
	SnapshotTTL = 2 * time.Hour
)

// RoomSnapshot 房间快照（用于 Redis 序列化）。
// 重连落到另一个进程实例、或进程重启后，凭快照重建房间与对局。
type RoomSnapshot struct {
	RoomID     string           `json:"room_id"`
	Code       string           `json:"code,omitempty"`
	Visibility string           `json:"visibility"`
	Phase      string           `json:"phase"`
	Players    []PlayerSnapshot `json:"players"`
	Game       *GameSnapshot    `json:"game,omitempty"`
	CreatedAt  int64            `json:"created_at"`
}

// PlayerSnapshot 玩家数据
type PlayerSnapshot struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Slot         int    `json:"slot"`
	Ready        bool   `json:"ready"`
	CharacterID  string `json:"character_id,omitempty"`
	Deployed     bool   `json:"deployed"`
	Disconnected bool   `json:"disconnected"`
}

// GameSnapshot 对局数据
type GameSnapshot struct {
	Boards        map[string]BoardSnapshot `json:"boards"` // key: userID
	CurrentTurn   string                   `json:"current_turn"`
	TurnDeadline  int64                    `json:"turn_deadline"` // Unix 毫秒
	TurnLimits    map[string]int           `json:"turn_limits"`   // 每人当前回合时限（秒）
	TimeoutCounts map[string]int           `json:"timeout_counts"`
}

// BoardSnapshot 单个玩家的棋盘数据
type BoardSnapshot struct {
	Ships   []ShipSnapshot   `json:"ships"`
	Attacks []AttackSnapshot `json:"attacks"` // 该玩家发出的攻击
}

// ShipSnapshot 船只数据
type ShipSnapshot struct {
	Name     string   `json:"name"`
	Size     int      `json:"size"`
	Cells    [][2]int `json:"cells"`
	HitCount int      `json:"hit_count"`
}

// AttackSnapshot 攻击记录
type AttackSnapshot struct {
	Row int  `json:"row"`
	Col int  `json:"col"`
	Hit bool `json:"hit"`
}

// SnapshotStore 房间快照存储
type SnapshotStore struct {
	client *redis.Client
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

// Save 保存快照。私人房间同时写入房间号 key，公开房间只写 ID key。
func (s *SnapshotStore) Save(ctx context.Context, snap *RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("序列化房间快照失败: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomIDKeyPrefix+snap.RoomID, data, SnapshotTTL)
	if snap.Code != "" {
		pipe.Set(ctx, roomCodeKeyPrefix+snap.Code, data, SnapshotTTL)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// LoadByID 按内部 ID 加载快照，不存在时返回 nil
func (s *SnapshotStore) LoadByID(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	return s.load(ctx, roomIDKeyPrefix+roomID)
}

// LoadByCode 按房间号加载快照，不存在时返回 nil
func (s *SnapshotStore) LoadByCode(ctx context.Context, code string) (*RoomSnapshot, error) {
	return s.load(ctx, roomCodeKeyPrefix+code)
}

func (s *SnapshotStore) load(ctx context.Context, key string) (*RoomSnapshot, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap RoomSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("反序列化房间快照失败: %w", err)
	}
	return &snap, nil
}

// Delete 删除快照的两个 key
func (s *SnapshotStore) Delete(ctx context.Context, roomID, code string) error {
	keys := []string{roomIDKeyPrefix + roomID}
	if code != "" {
		keys = append(keys, roomCodeKeyPrefix+code)
	}
	return s.client.Del(ctx, keys...).Err()
}

// CodeInUse 房间号是否已被某个存活房间占用。
// 跨实例的房间号唯一性由快照 key 保证。
func (s *SnapshotStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, roomCodeKeyPrefix+code).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
