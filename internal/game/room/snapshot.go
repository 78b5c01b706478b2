package room

import (
	"context"
	"log"
	"time"

	"github.com/quartermoon/sea-battle/internal/game/battle"
	"github.com/quartermoon/sea-battle/internal/storage"
)

// saveSnapshot 把房间快照排入该房间的持久化队列。降级模式下为空操作。
// 快照内容在锁内定格，入队顺序即落盘顺序。调用方持锁。
func (m *Manager) saveSnapshot(r *Room) {
	if m.snapshots == nil {
		return
	}
	snap := snapshotOf(r)
	m.enqueuePersist(r.ID, func(ctx context.Context) {
		if err := m.snapshots.Save(ctx, snap); err != nil {
			log.Printf("保存房间快照失败: %v", err)
		}
	})
}

// deleteSnapshot 排队删除快照，保证排在同房间所有已入队的写之后。调用方持锁。
func (m *Manager) deleteSnapshot(roomID, code string) {
	if m.snapshots == nil {
		return
	}
	m.enqueuePersist(roomID, func(ctx context.Context) {
		if err := m.snapshots.Delete(ctx, roomID, code); err != nil {
			log.Printf("删除房间快照失败: %v", err)
		}
	})
}

// enqueuePersist 每个房间一条串行持久化队列。
// 同房间的任务按入队顺序逐个执行，后写的状态不会被先写的覆盖，
// 解散时的删除也不会被迟到的写复活。不同房间互不阻塞。
func (m *Manager) enqueuePersist(roomID string, task func(context.Context)) {
	m.persistMu.Lock()
	m.persistQ[roomID] = append(m.persistQ[roomID], task)
	busy := m.persistBusy[roomID]
	m.persistBusy[roomID] = true
	m.persistMu.Unlock()

	if !busy {
		go m.drainPersist(roomID)
	}
}

func (m *Manager) drainPersist(roomID string) {
	for {
		m.persistMu.Lock()
		queue := m.persistQ[roomID]
		if len(queue) == 0 {
			delete(m.persistQ, roomID)
			delete(m.persistBusy, roomID)
			m.persistMu.Unlock()
			return
		}
		task := queue[0]
		m.persistQ[roomID] = queue[1:]
		m.persistMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		task(ctx)
		cancel()
	}
}

// rehydrateByID 从快照恢复房间。调用方持锁。
func (m *Manager) rehydrateByID(ctx context.Context, roomID string) *Room {
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.LoadByID(ctx, roomID)
	if err != nil {
		log.Printf("加载房间快照失败: %v", err)
		return nil
	}
	return m.adopt(snap)
}

// rehydrateByCode 按房间号从快照恢复房间。调用方持锁。
func (m *Manager) rehydrateByCode(ctx context.Context, code string) *Room {
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.LoadByCode(ctx, code)
	if err != nil {
		log.Printf("加载房间快照失败: %v", err)
		return nil
	}
	return m.adopt(snap)
}

// adopt 把快照重建为本进程持有的房间并补齐计时器。
// 已结束的对局不再恢复。调用方持锁。
func (m *Manager) adopt(snap *storage.RoomSnapshot) *Room {
	if snap == nil {
		return nil
	}
	// 快照写入与本地建房并发时以本地为准
	if r, ok := m.rooms[snap.RoomID]; ok {
		return r
	}
	r := roomFromSnapshot(snap)
	if r == nil || r.Phase == PhaseFinished {
		return nil
	}
	m.index(r)
	m.restartTimers(r)
	log.Printf("♻️ 房间 %s 从快照恢复（阶段 %s）", r.ID, r.Phase)
	return r
}

// restartTimers 恢复房间后按阶段补齐计时器。
// 战斗中的回合按剩余时间续走，大厅与布阵阶段重新计满。调用方持锁。
func (m *Manager) restartTimers(r *Room) {
	switch r.Phase {
	case PhaseCharacterSelect:
		m.startLobbyCountdown(r)
	case PhaseDeploying:
		gen := r.bumpPhaseGen()
		roomID := r.ID
		r.deployTimer = time.AfterFunc(m.cfg.DeployCountdownDuration(), func() {
			m.onDeployTimeout(roomID, gen)
		})
	case PhasePlaying:
		remaining := time.Until(r.TurnDeadline)
		if remaining < time.Second {
			remaining = time.Second
		}
		gen := r.bumpTurnGen()
		roomID := r.ID
		r.turnTimer = time.AfterFunc(remaining, func() {
			m.onTurnTimeout(roomID, gen)
		})
	}
}

// snapshotOf 导出房间快照
func snapshotOf(r *Room) *storage.RoomSnapshot {
	snap := &storage.RoomSnapshot{
		RoomID:     r.ID,
		Code:       r.Code,
		Visibility: string(r.Visibility),
		Phase:      r.Phase.String(),
		CreatedAt:  r.CreatedAt.UnixMilli(),
	}
	for _, p := range r.players() {
		snap.Players = append(snap.Players, storage.PlayerSnapshot{
			UserID:       p.UserID,
			Username:     p.Username,
			Slot:         p.Slot,
			Ready:        p.Ready,
			CharacterID:  p.CharacterID,
			Deployed:     p.Deployed,
			Disconnected: p.Disconnected,
		})
	}

	// 布阵开始后棋盘就是状态的一部分，恢复时不能丢
	if r.Phase == PhaseWaiting || r.Phase == PhaseCharacterSelect {
		return snap
	}

	game := &storage.GameSnapshot{
		Boards:        make(map[string]storage.BoardSnapshot),
		CurrentTurn:   r.CurrentTurn,
		TurnDeadline:  r.TurnDeadline.UnixMilli(),
		TurnLimits:    make(map[string]int),
		TimeoutCounts: make(map[string]int),
	}
	for _, p := range r.players() {
		board := storage.BoardSnapshot{}
		for _, s := range p.Ships {
			board.Ships = append(board.Ships, shipSnapshot(s))
		}
		for _, a := range p.Attacks {
			board.Attacks = append(board.Attacks, storage.AttackSnapshot{Row: a.Row, Col: a.Col, Hit: a.Hit})
		}
		game.Boards[p.UserID] = board
		game.TurnLimits[p.UserID] = int(p.TurnLimit / time.Second)
		game.TimeoutCounts[p.UserID] = p.TimeoutCount
	}
	snap.Game = game
	return snap
}

// roomFromSnapshot 从快照重建房间，数据不完整时返回 nil
func roomFromSnapshot(snap *storage.RoomSnapshot) *Room {
	r := &Room{
		ID:         snap.RoomID,
		Code:       snap.Code,
		Visibility: Visibility(snap.Visibility),
		Phase:      phaseFromString(snap.Phase),
		CreatedAt:  time.UnixMilli(snap.CreatedAt),
	}

	for _, ps := range snap.Players {
		p := &Player{
			UserID:       ps.UserID,
			Username:     ps.Username,
			Slot:         ps.Slot,
			Ready:        ps.Ready,
			CharacterID:  ps.CharacterID,
			Deployed:     ps.Deployed,
			Disconnected: ps.Disconnected,
		}
		if snap.Game != nil {
			board := snap.Game.Boards[ps.UserID]
			for _, ss := range board.Ships {
				p.Ships = append(p.Ships, shipFromSnapshot(ss))
			}
			for _, as := range board.Attacks {
				p.Attacks = append(p.Attacks, battle.Attack{Row: as.Row, Col: as.Col, Hit: as.Hit})
			}
			p.TurnLimit = time.Duration(snap.Game.TurnLimits[ps.UserID]) * time.Second
			p.TimeoutCount = snap.Game.TimeoutCounts[ps.UserID]
		}
		// 已布阵玩家的舰队必须完整合法，否则整份快照按损坏处理
		if p.Deployed && !battle.IsValidFleet(p.Ships) {
			return nil
		}
		switch ps.Slot {
		case 1:
			r.Slot1 = p
		case 2:
			r.Slot2 = p
		default:
			return nil
		}
	}

	if snap.Game != nil {
		r.CurrentTurn = snap.Game.CurrentTurn
		r.TurnDeadline = time.UnixMilli(snap.Game.TurnDeadline)
	}
	// 战斗阶段必须有明确的行动方
	if r.Phase == PhasePlaying && r.CurrentTurn == "" {
		return nil
	}
	return r
}

func shipSnapshot(s *battle.Ship) storage.ShipSnapshot {
	cells := make([][2]int, len(s.Cells))
	for i, c := range s.Cells {
		cells[i] = [2]int{c.Row, c.Col}
	}
	return storage.ShipSnapshot{Name: s.Name, Size: s.Size, Cells: cells, HitCount: s.HitCount}
}

func shipFromSnapshot(ss storage.ShipSnapshot) *battle.Ship {
	cells := make([]battle.Cell, len(ss.Cells))
	for i, c := range ss.Cells {
		cells[i] = battle.Cell{Row: c[0], Col: c[1]}
	}
	return &battle.Ship{Name: ss.Name, Size: ss.Size, Cells: cells, HitCount: ss.HitCount}
}
