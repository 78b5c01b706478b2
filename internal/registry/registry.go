// Package registry 维护"哪个用户当前通过哪条连接在线"的唯一权威状态。
// 所有不可逆的判定（判负、解散房间）都必须基于调用时刻的最新读取，
// 因为从调度宽限期计时器到计时器触发之间，正是重连可能赶到的窗口。
package registry

import (
	"context"
	"time"
)

// Session 玩家连接会话
type Session struct {
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	ConnectionID   string `json:"connection_id"`
	Connected      bool   `json:"connected"`
	DisconnectedAt int64  `json:"disconnected_at,omitempty"` // Unix 毫秒，在线时为 0
	RoomID         string `json:"room_id,omitempty"`
}

// GraceStatus 宽限期状态，只由当前存储的状态计算得出
type GraceStatus struct {
	Reconnected       bool // 用户已通过新连接恢复在线
	StillDisconnected bool // 仍处于断线状态
	Expired           bool // 宽限期已确认届满
}

// Registry 连接注册表。Redis 实现是多实例部署下的唯一真相源；
// Redis 不可用时退化为进程内实现，单进程对局不中断。
type Registry interface {
	// Register 无条件登记新连接：覆盖连接 ID、置为在线、清除断线时间戳，
	// 并写入一个短 TTL 的"刚刚重连"标记。幂等。
	Register(ctx context.Context, s Session) error

	// MarkDisconnected 条件写：仅当 connID 仍是当前登记的连接时才标记断线。
	// 写入前在事务内重读连接 ID，关闭"检查与写入之间新连接已登记"的窗口。
	// 返回是否真正开启了宽限期。
	MarkDisconnected(ctx context.Context, userID, connID string, grace time.Duration) (bool, error)

	// GraceStatus 宽限期状态。唯一允许授权判负或解散房间的函数，
	// 只依据当前存储的在线标志与断线时间戳，绝不使用调用方早先缓存的值。
	GraceStatus(ctx context.Context, userID string, grace time.Duration) (GraceStatus, error)

	// ClearSession 仅当 connID 仍是当前连接时移除会话
	ClearSession(ctx context.Context, userID, connID string) error

	// CurrentConnection 返回当前登记的连接 ID，无会话时返回空串
	CurrentConnection(ctx context.Context, userID string) (string, error)

	// Get 返回当前会话快照，无会话时返回 nil
	Get(ctx context.Context, userID string) (*Session, error)

	// RecentlyReconnected 查询"刚刚重连"标记是否仍然存在，
	// 用于区分快速重连与首次连接。
	RecentlyReconnected(ctx context.Context, userID string) (bool, error)

	// SetLeaveIntent 记录用户的主动离开意图（短 TTL）。
	// 主动离开不是掉线，仲裁流程看到该标记后直接跳过宽限期。
	SetLeaveIntent(ctx context.Context, userID string) error

	// HasLeaveIntent 查询离开意图标记
	HasLeaveIntent(ctx context.Context, userID string) (bool, error)
}

const (
	// ReconnectMarkerTTL "刚刚重连"标记的存活时间
	ReconnectMarkerTTL = 10 * time.Second

	// LeaveIntentTTL 离开意图标记的存活时间
	LeaveIntentTTL = 15 * time.Second

	// SessionTTL 会话本体的兜底过期时间，每次 Register 刷新
	SessionTTL = 24 * time.Hour

	// graceSlack 断线标记 TTL 在宽限期之上的余量
	graceSlack = 5 * time.Second
)
