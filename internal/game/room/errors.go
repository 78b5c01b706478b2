package room

import "github.com/quartermoon/sea-battle/internal/protocol"

// GameError 带协议错误码的游戏错误
type GameError struct {
	Code    protocol.ErrCode
	Message string
}

func (e *GameError) Error() string {
	return e.Message
}

// 预定义错误
var (
	ErrRoomNotFound     = &GameError{Code: protocol.ErrCodeRoomNotFound, Message: "房间不存在"}
	ErrRoomFull         = &GameError{Code: protocol.ErrCodeRoomFull, Message: "房间已满"}
	ErrAlreadyInRoom    = &GameError{Code: protocol.ErrCodeAlreadyInRoom, Message: "您已在房间中"}
	ErrNotInRoom        = &GameError{Code: protocol.ErrCodeNotInRoom, Message: "您不在房间中"}
	ErrWrongPhase       = &GameError{Code: protocol.ErrCodeWrongPhase, Message: "当前阶段不允许此操作"}
	ErrNotYourTurn      = &GameError{Code: protocol.ErrCodeNotYourTurn, Message: "还没轮到您"}
	ErrInvalidPlacement = &GameError{Code: protocol.ErrCodeInvalidPlacement, Message: "无效的布阵"}
	ErrInvalidCoord     = &GameError{Code: protocol.ErrCodeInvalidCoord, Message: "坐标超出棋盘范围"}
	ErrCellAttacked     = &GameError{Code: protocol.ErrCodeCellAttacked, Message: "该格子已被攻击过"}
	ErrInvalidCode      = &GameError{Code: protocol.ErrCodeInvalidCode, Message: "无效的房间号"}
)
