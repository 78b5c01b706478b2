package protocol

// --- 客户端请求 Payloads ---

// PingPayload 心跳请求
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // 客户端时间戳（毫秒）
}

// JoinRoomPayload 加入房间请求
type JoinRoomPayload struct {
	RoomCode string `json:"room_code"`
}

// RoomInfoPayload 房间信息请求（页面刷新后重新附加）
type RoomInfoPayload struct {
	Room string `json:"room"` // 房间 ID 或 6 位房间号，两者皆可
}

// SelectCharacterPayload 选择角色请求
type SelectCharacterPayload struct {
	CharacterID string `json:"character_id"`
}

// ShipPlacement 单艘船的布阵
type ShipPlacement struct {
	Name       string `json:"name"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Horizontal bool   `json:"horizontal"`
}

// PlaceShipsPayload 提交布阵请求
type PlaceShipsPayload struct {
	Ships []ShipPlacement `json:"ships"`
}

// AttackPayload 攻击请求
type AttackPayload struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// --- 服务端响应 Payloads ---

// ConnectedPayload 连接成功响应
type ConnectedPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Guest    bool   `json:"guest"` // 是否为临时访客身份
}

// PongPayload 心跳响应
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"` // 客户端发送的时间戳
	ServerTimestamp int64 `json:"server_timestamp"` // 服务器时间戳（毫秒）
}

// PlayerInfo 房间内玩家信息
type PlayerInfo struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Slot         int    `json:"slot"` // 1 或 2
	Ready        bool   `json:"ready"`
	CharacterID  string `json:"character_id,omitempty"`
	Deployed     bool   `json:"deployed"`     // 是否已提交布阵
	Disconnected bool   `json:"disconnected"` // 是否处于掉线宽限期
}

// RoomInfo 房间快照
type RoomInfo struct {
	RoomID     string       `json:"room_id"`
	Code       string       `json:"code,omitempty"` // 仅私人房间
	Visibility string       `json:"visibility"`     // public / private
	Phase      string       `json:"phase"`
	Players    []PlayerInfo `json:"players"`
	Game       *GameState   `json:"game,omitempty"` // 战斗中时附带
}

// GameState 战斗状态（按请求者视角裁剪）
type GameState struct {
	YourShips     []ShipState `json:"your_ships"`
	YourAttacks   []CellState `json:"your_attacks"`   // 你对对手的攻击记录
	EnemyAttacks  []CellState `json:"enemy_attacks"`  // 对手对你的攻击记录
	CurrentTurn   string      `json:"current_turn"`   // 当前回合玩家 ID
	TurnDeadline  int64       `json:"turn_deadline"`  // 回合截止（Unix 毫秒）
	TurnLimitSecs int         `json:"turn_limit_secs"`
}

// ShipState 船只状态
type ShipState struct {
	Name     string   `json:"name"`
	Size     int      `json:"size"`
	Cells    [][2]int `json:"cells"`
	HitCount int      `json:"hit_count"`
	Sunk     bool     `json:"sunk"`
}

// CellState 已攻击格子
type CellState struct {
	Row int  `json:"row"`
	Col int  `json:"col"`
	Hit bool `json:"hit"`
}

// RoomCreatedPayload 房间创建成功响应
type RoomCreatedPayload struct {
	Room RoomInfo `json:"room"`
}

// RoomJoinedPayload 加入房间成功响应
type RoomJoinedPayload struct {
	Room RoomInfo `json:"room"`
}

// RoomUpdatedPayload 房间状态变更广播
type RoomUpdatedPayload struct {
	Room RoomInfo `json:"room"`
}

// RoomClosedPayload 房间解散广播
type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// MatchFoundPayload 匹配成功响应
type MatchFoundPayload struct {
	Room RoomInfo `json:"room"`
}

// DeployStartPayload 进入布阵阶段广播
type DeployStartPayload struct {
	Deadline int64 `json:"deadline"` // 布阵截止（Unix 毫秒）
}

// GameStartPayload 战斗开始广播
type GameStartPayload struct {
	CurrentTurn  string `json:"current_turn"`
	TurnDeadline int64  `json:"turn_deadline"`
}

// TurnChangedPayload 回合切换广播
type TurnChangedPayload struct {
	CurrentTurn  string `json:"current_turn"`
	TurnDeadline int64  `json:"turn_deadline"`
	Reason       string `json:"reason"` // miss / timeout
}

// AttackResultPayload 攻击结果广播
type AttackResultPayload struct {
	AttackerID string `json:"attacker_id"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Hit        bool   `json:"hit"`
	Sunk       bool   `json:"sunk"`
	ShipName   string `json:"ship_name,omitempty"` // 击沉时附带
	GameOver   bool   `json:"game_over"`
}

// GameOverPayload 游戏结束广播
type GameOverPayload struct {
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
	Reason   string `json:"reason"` // all_sunk / forfeit / leave / timeout
}

// PlayerOfflinePayload 对手掉线通知
type PlayerOfflinePayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	GraceSecs int    `json:"grace_secs"` // 宽限期（秒），仅供 UI 提示
}

// PlayerOnlinePayload 对手重连通知
type PlayerOnlinePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ErrorPayload 错误响应
type ErrorPayload struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
}

// MatchHistoryPayload 查询战绩。Global 为 true 时返回全服最近对局，
// 否则返回请求者自己的战绩。
type MatchHistoryPayload struct {
	Global bool  `json:"global,omitempty"`
	Limit  int64 `json:"limit,omitempty"`
}

// MatchSummary 一场已结束对局的摘要
type MatchSummary struct {
	RoomID       string   `json:"room_id"`
	Players      []string `json:"players"`
	WinnerID     string   `json:"winner_id"`
	LoserID      string   `json:"loser_id"`
	Reason       string   `json:"reason"`
	DurationSecs int      `json:"duration_secs"`
	FinishedAt   int64    `json:"finished_at"` // Unix 毫秒
}

// MatchHistoryResultPayload 战绩查询结果
type MatchHistoryResultPayload struct {
	Matches []MatchSummary `json:"matches"`
}
