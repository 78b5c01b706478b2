package room

import (
	"context"
	"log"
	"time"

	"github.com/quartermoon/sea-battle/internal/protocol"
)

// settleDelay 宽限期计时器触发后的静置时间。
// 重连的注册写入可能正在途中，先让它落盘再做最终读取。
const settleDelay = 250 * time.Millisecond

// HandleDisconnect 连接断开仲裁。断开从来不是立即判负的依据：
// 先确认断开的连接仍是该用户当前登记的连接（旧连接的关闭事件直接忽略），
// 再区分主动离开与意外掉线，意外掉线才进入宽限期。
func (m *Manager) HandleDisconnect(userID, connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 当前连接已经换人，说明这是被顶掉的旧连接在关闭，不做任何事
	current, err := m.registry.CurrentConnection(ctx, userID)
	if err != nil {
		log.Printf("读取当前连接失败: %v", err)
		return
	}
	if current != connID {
		return
	}

	// 主动离开的用户不走宽限期，房间侧的处理在 Leave 里已经完成
	if intent, err := m.registry.HasLeaveIntent(ctx, userID); err == nil && intent {
		if err := m.registry.ClearSession(ctx, userID, connID); err != nil {
			log.Printf("清理会话失败: %v", err)
		}
		return
	}

	grace := m.graceFor(userID)

	// 条件写：事务内重读连接 ID，新连接抢先登记则放弃标记
	marked, err := m.registry.MarkDisconnected(ctx, userID, connID, grace)
	if err != nil {
		log.Printf("标记断线失败: %v", err)
		return
	}
	if !marked {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil || r.Phase == PhaseFinished {
		return
	}
	p := r.player(userID)
	if p == nil {
		return
	}

	p.Disconnected = true
	m.saveSnapshot(r)

	if opp := r.opponent(userID); opp != nil {
		m.publisher.PublishTo(opp.UserID, protocol.MustNewMessage(protocol.MsgPlayerOffline,
			protocol.PlayerOfflinePayload{
				UserID:    p.UserID,
				Username:  p.Username,
				GraceSecs: int(grace / time.Second),
			}))
	}
	log.Printf("📴 玩家 %s 在房间 %s 中掉线，宽限期 %v", p.Username, r.ID, grace)

	if r.graceTimers == nil {
		r.graceTimers = make(map[string]*time.Timer)
	}
	if old, ok := r.graceTimers[userID]; ok {
		old.Stop()
	}
	roomID := r.ID
	r.graceTimers[userID] = time.AfterFunc(grace, func() {
		m.resolveGrace(roomID, userID, connID, grace)
	})
}

// graceFor 按用户所在房间的阶段决定宽限期长短。
// 战斗中给更长的宽限，大厅阶段短宽限避免拖住等待的对手。
func (m *Manager) graceFor(userID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.roomOf(userID)
	if r == nil {
		return m.cfg.GraceLobbyDuration()
	}
	switch r.Phase {
	case PhaseDeploying, PhasePlaying:
		return m.cfg.GraceBattleDuration()
	default:
		return m.cfg.GraceLobbyDuration()
	}
}

// resolveGrace 宽限期届满后的最终裁决。
// 计时器只负责"到点了该看一眼"，裁决本身完全基于注册表此刻的状态：
// 静置等待在途的重连写入，重新读取宽限状态，提交前再校验一次当前连接。
func (m *Manager) resolveGrace(roomID, userID, connID string, grace time.Duration) {
	time.Sleep(settleDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := m.registry.GraceStatus(ctx, userID, grace)
	if err != nil {
		log.Printf("读取宽限状态失败: %v", err)
		return
	}

	if status.Reconnected {
		m.clearGrace(roomID, userID)
		return
	}
	// 会话标志之外再看一眼"刚刚重连"标记，两个信号任取其一
	if recent, err := m.registry.RecentlyReconnected(ctx, userID); err == nil && recent {
		m.clearGrace(roomID, userID)
		return
	}
	if !status.Expired {
		return
	}

	// 最后一道校验：此刻登记的连接若已不是掉线的那条，视为已重连
	current, err := m.registry.CurrentConnection(ctx, userID)
	if err != nil {
		log.Printf("读取当前连接失败: %v", err)
		return
	}
	if current != "" && current != connID {
		m.clearGrace(roomID, userID)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || r.Phase == PhaseFinished {
		return
	}
	p := r.player(userID)
	if p == nil || !p.Disconnected {
		// 重新附加已经撤销了宽限期
		return
	}
	delete(r.graceTimers, userID)

	log.Printf("⛔ 玩家 %s 宽限期届满，房间 %s 裁决", p.Username, roomID)

	switch r.Phase {
	case PhaseDeploying, PhasePlaying:
		opp := r.opponent(userID)
		m.finishGame(r, opp.UserID, userID, "forfeit")
	default:
		m.removePregame(ctx, r, p)
	}

	if err := m.registry.ClearSession(ctx, userID, connID); err != nil {
		log.Printf("清理会话失败: %v", err)
	}
}

// clearGrace 撤销宽限期标记并通知对手玩家已恢复在线
func (m *Manager) clearGrace(roomID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return
	}
	p := r.player(userID)
	if p == nil || !p.Disconnected {
		return
	}

	p.Disconnected = false
	delete(r.graceTimers, userID)
	m.saveSnapshot(r)

	if opp := r.opponent(userID); opp != nil {
		m.publisher.PublishTo(opp.UserID, protocol.MustNewMessage(protocol.MsgPlayerOnline,
			protocol.PlayerOnlinePayload{UserID: p.UserID, Username: p.Username}))
	}
	log.Printf("📶 玩家 %s 在宽限期内重连", p.Username)
}
