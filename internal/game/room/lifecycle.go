package room

import (
	"context"
	"log"
	"math/rand/v2"
	"time"

	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/protocol"
)

// SetReady 设置准备状态。双方都准备后立即进入布阵阶段。
func (m *Manager) SetReady(ctx context.Context, userID string, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return ErrNotInRoom
	}
	if r.Phase != PhaseCharacterSelect {
		return ErrWrongPhase
	}

	r.player(userID).Ready = ready

	allReady := r.occupied() == 2
	for _, p := range r.players() {
		if !p.Ready {
			allReady = false
		}
	}
	if allReady {
		m.beginDeploying(r)
	} else {
		m.saveSnapshot(r)
	}
	m.publishRoomUpdate(r, "")
	return nil
}

// SelectCharacter 选择角色。仅大厅阶段可用，可反复更换。
func (m *Manager) SelectCharacter(ctx context.Context, userID, characterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return ErrNotInRoom
	}
	if r.Phase != PhaseCharacterSelect {
		return ErrWrongPhase
	}

	r.player(userID).CharacterID = characterID
	m.saveSnapshot(r)
	m.publishRoomUpdate(r, "")
	return nil
}

// SubmitPlacement 提交布阵。校验整支舰队合法后入座，
// 双方都提交即开战；后提交方无需等布阵倒计时。
func (m *Manager) SubmitPlacement(ctx context.Context, userID string, placements []battle.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return ErrNotInRoom
	}
	if r.Phase != PhaseDeploying {
		return ErrWrongPhase
	}

	ships, err := battle.BuildFleet(placements)
	if err != nil {
		return &GameError{Code: protocol.ErrCodeInvalidPlacement, Message: err.Error()}
	}

	p := r.player(userID)
	p.Ships = ships
	p.Deployed = true

	bothDeployed := r.occupied() == 2
	for _, q := range r.players() {
		if !q.Deployed {
			bothDeployed = false
		}
	}
	if bothDeployed {
		m.beginPlaying(r)
	} else {
		m.saveSnapshot(r)
	}
	m.publishRoomUpdate(r, "")
	return nil
}

// startLobbyCountdown 启动大厅倒计时。到点双方未全部准备则解散房间。
// 调用方持锁。
func (m *Manager) startLobbyCountdown(r *Room) {
	gen := r.bumpPhaseGen()
	roomID := r.ID
	r.lobbyTimer = time.AfterFunc(m.cfg.LobbyCountdownDuration(), func() {
		m.onLobbyTimeout(roomID, gen)
	})
}

func (m *Manager) onLobbyTimeout(roomID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.phaseGen != gen || r.Phase != PhaseCharacterSelect {
		return
	}
	log.Printf("⏰ 房间 %s 大厅倒计时结束，解散", roomID)
	m.destroyRoom(r, "lobby_timeout", true)
}

// beginDeploying 进入布阵阶段并启动布阵倒计时。调用方持锁。
func (m *Manager) beginDeploying(r *Room) {
	r.Phase = PhaseDeploying
	gen := r.bumpPhaseGen()
	if r.lobbyTimer != nil {
		r.lobbyTimer.Stop()
		r.lobbyTimer = nil
	}

	deadline := time.Now().Add(m.cfg.DeployCountdownDuration())
	roomID := r.ID
	r.deployTimer = time.AfterFunc(m.cfg.DeployCountdownDuration(), func() {
		m.onDeployTimeout(roomID, gen)
	})
	m.saveSnapshot(r)

	msg := protocol.MustNewMessage(protocol.MsgDeployStart,
		protocol.DeployStartPayload{Deadline: deadline.UnixMilli()})
	for _, p := range r.players() {
		m.publisher.PublishTo(p.UserID, msg)
	}
	log.Printf("⚓ 房间 %s 进入布阵阶段", r.ID)
}

// onDeployTimeout 布阵倒计时结束：未提交的玩家自动随机布阵，直接开战
func (m *Manager) onDeployTimeout(roomID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.phaseGen != gen || r.Phase != PhaseDeploying {
		return
	}

	for _, p := range r.players() {
		if !p.Deployed {
			p.Ships = battle.RandomFleet()
			p.Deployed = true
			log.Printf("🎲 玩家 %s 布阵超时，自动随机布阵", p.Username)
		}
	}
	m.beginPlaying(r)
	m.publishRoomUpdate(r, "")
}

// beginPlaying 开战：随机先手，发放初始回合时限，启动回合计时器。调用方持锁。
func (m *Manager) beginPlaying(r *Room) {
	r.Phase = PhasePlaying
	r.bumpPhaseGen()
	if r.deployTimer != nil {
		r.deployTimer.Stop()
		r.deployTimer = nil
	}

	players := r.players()
	for _, p := range players {
		p.TurnLimit = m.cfg.TurnTimeoutDuration()
		p.TimeoutCount = 0
	}
	first := players[rand.IntN(len(players))]
	m.setTurn(r, first.UserID)
	m.saveSnapshot(r)

	msg := protocol.MustNewMessage(protocol.MsgGameStart, protocol.GameStartPayload{
		CurrentTurn:  r.CurrentTurn,
		TurnDeadline: r.TurnDeadline.UnixMilli(),
	})
	for _, p := range players {
		m.publisher.PublishTo(p.UserID, msg)
	}
	log.Printf("⚔️ 房间 %s 开战，先手 %s", r.ID, first.UserID)
}
