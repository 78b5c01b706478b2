package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/game/match"
	"github.com/quartermoon/sea-battle/internal/game/room"
	"github.com/quartermoon/sea-battle/internal/protocol"
	"github.com/quartermoon/sea-battle/internal/storage"
)

// 单条消息处理的超时上限，覆盖其中的 Redis 往返
const handleTimeout = 5 * time.Second

// handleMessage 消息分发
func (s *Server) handleMessage(c *Client, msg *protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch msg.Type {
	// 连接操作
	case protocol.MsgPing:
		s.handlePing(c, msg)

	// 匹配操作
	case protocol.MsgQueueJoin:
		s.handleQueueJoin(ctx, c)
	case protocol.MsgQueueCancel:
		s.matcher.Cancel(c.UserID)

	// 房间操作
	case protocol.MsgCreateRoom:
		s.handleCreateRoom(ctx, c)
	case protocol.MsgJoinRoom:
		s.handleJoinRoom(ctx, c, msg)
	case protocol.MsgRoomInfo:
		s.handleRoomInfo(ctx, c, msg)
	case protocol.MsgLeaveRoom:
		s.sendIfError(c, s.rooms.Leave(ctx, c.UserID))

	// 大厅操作
	case protocol.MsgReady:
		s.sendIfError(c, s.rooms.SetReady(ctx, c.UserID, true))
	case protocol.MsgSelectCharacter:
		s.handleSelectCharacter(ctx, c, msg)

	// 对局操作
	case protocol.MsgPlaceShips:
		s.handlePlaceShips(ctx, c, msg)
	case protocol.MsgAttack:
		s.handleAttack(ctx, c, msg)

	// 战绩查询
	case protocol.MsgMatchHistory:
		s.handleMatchHistory(ctx, c, msg)

	default:
		log.Printf("未知消息类型: %s", msg.Type)
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
	}
}

// handlePing 心跳，立即回复 pong
func (s *Server) handlePing(c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.PingPayload](msg)
	if err != nil {
		return
	}
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, protocol.PongPayload{
		ClientTimestamp: payload.Timestamp,
		ServerTimestamp: time.Now().UnixMilli(),
	}))
}

func (s *Server) handleQueueJoin(ctx context.Context, c *Client) {
	err := s.matcher.Join(ctx, match.Ticket{
		UserID:       c.UserID,
		Username:     c.Username,
		ConnectionID: c.ConnID,
	})
	s.sendIfError(c, err)
}

func (s *Server) handleCreateRoom(ctx context.Context, c *Client) {
	info, err := s.rooms.CreatePrivate(ctx, c.occupant())
	if err != nil {
		s.sendIfError(c, err)
		return
	}
	c.SendMessage(protocol.MustNewMessage(protocol.MsgRoomCreated, protocol.RoomCreatedPayload{Room: info}))
}

func (s *Server) handleJoinRoom(ctx context.Context, c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.JoinRoomPayload](msg)
	if err != nil {
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	info, err := s.rooms.JoinByCode(ctx, payload.RoomCode, c.occupant())
	if err != nil {
		s.sendIfError(c, err)
		return
	}
	c.SendMessage(protocol.MustNewMessage(protocol.MsgRoomJoined, protocol.RoomJoinedPayload{Room: info}))
}

func (s *Server) handleRoomInfo(ctx context.Context, c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.RoomInfoPayload](msg)
	if err != nil {
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	target := payload.Room
	if target == "" {
		target = s.rooms.RoomOf(c.UserID)
	}
	info, err := s.rooms.RequestInfo(ctx, target, c.occupant())
	if err != nil {
		s.sendIfError(c, err)
		return
	}
	c.SendMessage(protocol.MustNewMessage(protocol.MsgRoomUpdated, protocol.RoomUpdatedPayload{Room: info}))
}

func (s *Server) handleSelectCharacter(ctx context.Context, c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.SelectCharacterPayload](msg)
	if err != nil {
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	s.sendIfError(c, s.rooms.SelectCharacter(ctx, c.UserID, payload.CharacterID))
}

func (s *Server) handlePlaceShips(ctx context.Context, c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.PlaceShipsPayload](msg)
	if err != nil {
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	placements := make([]battle.Placement, len(payload.Ships))
	for i, p := range payload.Ships {
		placements[i] = battle.Placement{Name: p.Name, Row: p.Row, Col: p.Col, Horizontal: p.Horizontal}
	}
	s.sendIfError(c, s.rooms.SubmitPlacement(ctx, c.UserID, placements))
}

func (s *Server) handleAttack(ctx context.Context, c *Client, msg *protocol.Message) {
	payload, err := protocol.ParsePayload[protocol.AttackPayload](msg)
	if err != nil {
		c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
		return
	}
	s.sendIfError(c, s.rooms.Attack(ctx, c.UserID, payload.Row, payload.Col))
}

// handleMatchHistory 查询战绩。默认返回请求者自己的对局，
// Global 为 true 时返回全服最近对局。降级模式下返回空列表。
func (s *Server) handleMatchHistory(ctx context.Context, c *Client, msg *protocol.Message) {
	payload := &protocol.MatchHistoryPayload{}
	if len(msg.Payload) > 0 {
		var err error
		payload, err = protocol.ParsePayload[protocol.MatchHistoryPayload](msg)
		if err != nil {
			c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeInvalidMsg))
			return
		}
	}
	limit := payload.Limit
	if limit <= 0 || limit > 20 {
		limit = 10
	}

	var records []*storage.MatchRecord
	if s.history != nil {
		var err error
		if payload.Global {
			records, err = s.history.Recent(ctx, limit)
		} else {
			records, err = s.history.ByPlayer(ctx, c.UserID, limit)
		}
		if err != nil {
			log.Printf("查询战绩失败: %v", err)
			c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeUnknown))
			return
		}
	}

	matches := make([]protocol.MatchSummary, 0, len(records))
	for _, rec := range records {
		matches = append(matches, protocol.MatchSummary{
			RoomID:       rec.RoomID,
			Players:      rec.Players,
			WinnerID:     rec.WinnerID,
			LoserID:      rec.LoserID,
			Reason:       rec.Reason,
			DurationSecs: rec.DurationSecs,
			FinishedAt:   rec.FinishedAt,
		})
	}
	c.SendMessage(protocol.MustNewMessage(protocol.MsgMatchHistoryResult,
		protocol.MatchHistoryResultPayload{Matches: matches}))
}

// sendIfError 把房间层错误转成协议错误消息回给发送方
func (s *Server) sendIfError(c *Client, err error) {
	if err == nil {
		return
	}
	var gameErr *room.GameError
	if errors.As(err, &gameErr) {
		c.SendMessage(protocol.NewErrorMessageWithText(gameErr.Code, gameErr.Message))
		return
	}
	log.Printf("处理消息失败: %v", err)
	c.SendMessage(protocol.NewErrorMessage(protocol.ErrCodeUnknown))
}

// occupant 客户端的入座身份
func (c *Client) occupant() room.Occupant {
	return room.Occupant{UserID: c.UserID, Username: c.Username, ConnectionID: c.ConnID}
}
