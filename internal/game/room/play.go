package room

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/protocol"
	"github.com/quartermoon/sea-battle/internal/storage"
)

// 回合时限的惩罚性缩短：每次超时扣去三分之一，不低于配置下限
func nextTurnLimit(current, floor time.Duration) time.Duration {
	next := current * 2 / 3
	if next < floor {
		return floor
	}
	return next
}

// Attack 处理一次攻击。命中保留回合并重置计时器，未命中换边。
// 攻击结果广播给双方；若击沉最后一艘船，本次调用内直接终局。
func (m *Manager) Attack(ctx context.Context, userID string, row, col int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return ErrNotInRoom
	}
	if r.Phase != PhasePlaying {
		return ErrWrongPhase
	}
	if r.CurrentTurn != userID {
		return ErrNotYourTurn
	}

	attacker := r.player(userID)
	defender := r.opponent(userID)

	result, record, err := battle.ResolveAttack(defender.Ships, row, col, attacker.Attacks)
	if err != nil {
		switch {
		case errors.Is(err, battle.ErrInvalidCoord):
			return ErrInvalidCoord
		case errors.Is(err, battle.ErrCellAttacked):
			return ErrCellAttacked
		default:
			return err
		}
	}
	attacker.Attacks = append(attacker.Attacks, record)

	msg := protocol.MustNewMessage(protocol.MsgAttackResult, protocol.AttackResultPayload{
		AttackerID: userID,
		Row:        row,
		Col:        col,
		Hit:        result.Hit,
		Sunk:       result.Sunk,
		ShipName:   result.ShipName,
		GameOver:   result.GameOver,
	})
	for _, p := range r.players() {
		m.publisher.PublishTo(p.UserID, msg)
	}

	if result.GameOver {
		m.finishGame(r, userID, defender.UserID, "all_sunk")
		return nil
	}

	if result.Hit {
		// 命中保留回合，计时器重新计满
		m.setTurn(r, userID)
	} else {
		m.setTurn(r, defender.UserID)
		m.publishTurnChanged(r, "miss")
	}
	m.saveSnapshot(r)
	return nil
}

// setTurn 指派回合并启动回合计时器。旧计时器作废。调用方持锁。
func (m *Manager) setTurn(r *Room, userID string) {
	gen := r.bumpTurnGen()
	if r.turnTimer != nil {
		r.turnTimer.Stop()
	}

	p := r.player(userID)
	r.CurrentTurn = userID
	r.TurnDeadline = time.Now().Add(p.TurnLimit)

	roomID := r.ID
	r.turnTimer = time.AfterFunc(p.TurnLimit, func() {
		m.onTurnTimeout(roomID, gen)
	})
}

// onTurnTimeout 回合超时：累计次数判负，否则缩短时限并换边
func (m *Manager) onTurnTimeout(roomID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.turnGen != gen || r.Phase != PhasePlaying {
		return
	}

	p := r.player(r.CurrentTurn)
	p.TimeoutCount++
	log.Printf("⏰ 玩家 %s 回合超时（第 %d 次）", p.Username, p.TimeoutCount)

	if p.TimeoutCount >= m.cfg.MaxTurnTimeouts {
		opp := r.opponent(p.UserID)
		m.finishGame(r, opp.UserID, p.UserID, "timeout")
		return
	}

	p.TurnLimit = nextTurnLimit(p.TurnLimit, m.cfg.TurnTimeoutMinDuration())
	opp := r.opponent(p.UserID)
	m.setTurn(r, opp.UserID)
	m.publishTurnChanged(r, "timeout")
	m.saveSnapshot(r)
}

// publishTurnChanged 广播回合切换。调用方持锁。
func (m *Manager) publishTurnChanged(r *Room, reason string) {
	msg := protocol.MustNewMessage(protocol.MsgTurnChanged, protocol.TurnChangedPayload{
		CurrentTurn:  r.CurrentTurn,
		TurnDeadline: r.TurnDeadline.UnixMilli(),
		Reason:       reason,
	})
	for _, p := range r.players() {
		m.publisher.PublishTo(p.UserID, msg)
	}
}

// finishGame 终局。幂等：房间已是结束阶段则直接返回，
// 保证 game_over 只广播一次、战绩只落一笔。调用方持锁。
func (m *Manager) finishGame(r *Room, winnerID, loserID, reason string) {
	if r.Phase == PhaseFinished {
		return
	}
	r.Phase = PhaseFinished
	r.stopTimers()

	msg := protocol.MustNewMessage(protocol.MsgGameOver, protocol.GameOverPayload{
		WinnerID: winnerID,
		LoserID:  loserID,
		Reason:   reason,
	})
	for _, p := range r.players() {
		m.publisher.PublishTo(p.UserID, msg)
	}

	m.recordMatch(r, winnerID, loserID, reason)
	m.saveSnapshot(r)

	// 短暂保留终局房间，之后自动清理
	gen := r.bumpPhaseGen()
	roomID := r.ID
	r.closeTimer = time.AfterFunc(closeLinger, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if fr, ok := m.rooms[roomID]; ok && fr.phaseGen == gen {
			m.destroyRoom(fr, "", false)
		}
	})

	log.Printf("🏁 房间 %s 终局：%s 胜（%s）", r.ID, winnerID, reason)
}

// recordMatch 异步写入战绩，写一次后续重复提交会被存储层拒绝
func (m *Manager) recordMatch(r *Room, winnerID, loserID, reason string) {
	if m.history == nil {
		return
	}
	rec := &storage.MatchRecord{
		RoomID:       r.ID,
		WinnerID:     winnerID,
		LoserID:      loserID,
		Reason:       reason,
		DurationSecs: int(time.Since(r.CreatedAt) / time.Second),
		FinishedAt:   time.Now().UnixMilli(),
	}
	for _, p := range r.players() {
		rec.Players = append(rec.Players, p.UserID)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, err := m.history.Record(ctx, rec); err != nil {
			log.Printf("写入战绩失败: %v", err)
		}
	}()
}
