package protocol

// ErrCode 协议错误码
type ErrCode int

// 错误码定义
const (
	// 通用错误 (1xxx)
	ErrCodeUnknown    ErrCode = 1000
	ErrCodeInvalidMsg ErrCode = 1001
	ErrCodeRateLimit  ErrCode = 1002

	// 校验错误 (2xxx)
	ErrCodeInvalidCoord     ErrCode = 2001
	ErrCodeInvalidPlacement ErrCode = 2002
	ErrCodeInvalidCode      ErrCode = 2003
	ErrCodeCellAttacked     ErrCode = 2004

	// 状态错误 (3xxx)
	ErrCodeWrongPhase    ErrCode = 3001
	ErrCodeRoomFull      ErrCode = 3002
	ErrCodeAlreadyInRoom ErrCode = 3003
	ErrCodeNotInRoom     ErrCode = 3004
	ErrCodeNotYourTurn   ErrCode = 3005

	// 未找到 (4xxx)
	ErrCodeRoomNotFound ErrCode = 4001
)

// errorTexts 错误码默认提示文本
var errorTexts = map[ErrCode]string{
	ErrCodeUnknown:          "未知错误",
	ErrCodeInvalidMsg:       "无效的消息格式",
	ErrCodeRateLimit:        "请求过于频繁",
	ErrCodeInvalidCoord:     "坐标超出棋盘范围",
	ErrCodeInvalidPlacement: "无效的布阵",
	ErrCodeInvalidCode:      "无效的房间号",
	ErrCodeCellAttacked:     "该格子已被攻击过",
	ErrCodeWrongPhase:       "当前阶段不允许此操作",
	ErrCodeRoomFull:         "房间已满",
	ErrCodeAlreadyInRoom:    "您已在房间中",
	ErrCodeNotInRoom:        "您不在房间中",
	ErrCodeNotYourTurn:      "还没轮到您",
	ErrCodeRoomNotFound:     "房间不存在",
}

// Text 返回错误码的默认提示文本，未定义的码回落到通用提示
func (c ErrCode) Text() string {
	if text, ok := errorTexts[c]; ok {
		return text
	}
	return errorTexts[ErrCodeUnknown]
}
