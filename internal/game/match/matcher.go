// Package match 实现先到先得的匹配队列。
// 队列只存轻量票据，凑满两人立即撮合建房。
package match

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/quartermoon/sea-battle/internal/game/room"
)

// Ticket 匹配票据
type Ticket struct {
	UserID       string
	Username     string
	ConnectionID string
	QueuedAt     time.Time
}

// Matcher 匹配系统。FIFO：先入队的玩家先被撮合。
type Matcher struct {
	mu    sync.Mutex
	queue []*Ticket
	rooms *room.Manager
}

// NewMatcher 创建匹配器
func NewMatcher(rooms *room.Manager) *Matcher {
	return &Matcher{
		queue: make([]*Ticket, 0),
		rooms: rooms,
	}
}

// Join 加入匹配队列。队列中已有对手时立即撮合建房；
// 重复入队是空操作，已在房间中的玩家会被拒绝。
func (m *Matcher) Join(ctx context.Context, t Ticket) error {
	if m.rooms.RoomOf(t.UserID) != "" {
		return room.ErrAlreadyInRoom
	}

	m.mu.Lock()

	for _, q := range m.queue {
		if q.UserID == t.UserID {
			// 刷新连接 ID，断线重排队不产生重复票据
			q.ConnectionID = t.ConnectionID
			m.mu.Unlock()
			return nil
		}
	}

	t.QueuedAt = time.Now()
	m.queue = append(m.queue, &t)
	log.Printf("🔍 玩家 %s 加入匹配队列，当前队列长度: %d", t.Username, len(m.queue))

	if len(m.queue) < 2 {
		m.mu.Unlock()
		return nil
	}

	a, b := m.queue[0], m.queue[1]
	m.queue = m.queue[2:]
	m.mu.Unlock()

	return m.pair(ctx, a, b)
}

// Cancel 取消匹配。不在队列中时返回 false。
func (m *Matcher) Cancel(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, q := range m.queue {
		if q.UserID == userID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			log.Printf("🔍 玩家 %s 离开匹配队列", q.Username)
			return true
		}
	}
	return false
}

// Len 当前队列长度
func (m *Matcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// pair 撮合两名玩家建房。建房失败时把票据塞回队头，保持先来后到。
func (m *Matcher) pair(ctx context.Context, a, b *Ticket) error {
	_, err := m.rooms.CreatePublicPair(ctx,
		room.Occupant{UserID: a.UserID, Username: a.Username, ConnectionID: a.ConnectionID},
		room.Occupant{UserID: b.UserID, Username: b.Username, ConnectionID: b.ConnectionID},
	)
	if err != nil {
		log.Printf("匹配创建房间失败: %v", err)
		m.mu.Lock()
		m.queue = append([]*Ticket{a, b}, m.queue...)
		m.mu.Unlock()
		return err
	}
	return nil
}
