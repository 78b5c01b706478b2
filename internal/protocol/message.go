package protocol

import "encoding/json"

// Message 基础消息结构
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageType 消息类型
type MessageType string

// 客户端 → 服务端 消息类型
const (
	// 连接操作
	MsgPing MessageType = "ping" // 心跳 ping

	// 匹配操作
	MsgQueueJoin   MessageType = "queue_join"   // 加入匹配队列
	MsgQueueCancel MessageType = "queue_cancel" // 取消匹配

	// 房间操作
	MsgCreateRoom MessageType = "create_room" // 创建私人房间
	MsgJoinRoom   MessageType = "join_room"   // 凭房间号加入
	MsgRoomInfo   MessageType = "room_info"   // 查询/重新附加房间
	MsgLeaveRoom  MessageType = "leave_room"  // 主动离开房间

	// 大厅操作
	MsgReady           MessageType = "ready"            // 准备就绪
	MsgSelectCharacter MessageType = "select_character" // 选择角色

	// 游戏操作
	MsgPlaceShips MessageType = "place_ships" // 提交布阵
	MsgAttack     MessageType = "attack"      // 攻击

	// 战绩查询
	MsgMatchHistory MessageType = "match_history" // 查询战绩
)

// 服务端 → 客户端 消息类型
const (
	// 连接相关
	MsgConnected     MessageType = "connected"      // 连接成功（含身份）
	MsgPong          MessageType = "pong"           // 心跳 pong
	MsgPlayerOffline MessageType = "player_offline" // 对手掉线通知（仅提示）
	MsgPlayerOnline  MessageType = "player_online"  // 对手重连通知

	// 房间相关
	MsgRoomCreated MessageType = "room_created" // 房间创建成功
	MsgRoomJoined  MessageType = "room_joined"  // 加入房间成功
	MsgRoomUpdated MessageType = "room_updated" // 房间状态变更
	MsgRoomClosed  MessageType = "room_closed"  // 房间解散
	MsgMatchFound  MessageType = "match_found"  // 匹配成功

	// 游戏流程
	MsgDeployStart  MessageType = "deploy_start"  // 进入布阵阶段
	MsgGameStart    MessageType = "game_start"    // 战斗开始
	MsgTurnChanged  MessageType = "turn_changed"  // 回合切换
	MsgAttackResult MessageType = "attack_result" // 攻击结果
	MsgGameOver     MessageType = "game_over"     // 游戏结束

	// 战绩查询
	MsgMatchHistoryResult MessageType = "match_history_result" // 战绩查询结果

	// 错误
	MsgError MessageType = "error" // 错误消息
)
