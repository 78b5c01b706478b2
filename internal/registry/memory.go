package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry 进程内连接注册表。
// Redis 不可用时的降级实现：跨进程重连与多实例一致性不再保证，
// 但单进程内的对局照常进行。
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

type memorySession struct {
	session     Session
	downUntil   time.Time // 断线标记的过期时间
	reconnectAt time.Time // "刚刚重连"标记的过期时间
	leaveUntil  time.Time // 离开意图标记的过期时间
}

// NewMemoryRegistry 创建进程内注册表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*memorySession)}
}

var _ Registry = (*MemoryRegistry)(nil)

// Register 无条件登记新连接
func (m *MemoryRegistry) Register(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.Connected = true
	s.DisconnectedAt = 0

	entry, ok := m.sessions[s.UserID]
	if !ok {
		entry = &memorySession{}
		m.sessions[s.UserID] = entry
	}
	entry.session = s
	entry.downUntil = time.Time{}
	entry.reconnectAt = time.Now().Add(ReconnectMarkerTTL)
	return nil
}

// MarkDisconnected 条件标记断线
func (m *MemoryRegistry) MarkDisconnected(_ context.Context, userID, connID string, grace time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[userID]
	if !ok || entry.session.ConnectionID != connID {
		return false, nil
	}

	now := time.Now()
	entry.session.Connected = false
	entry.session.DisconnectedAt = now.UnixMilli()
	entry.downUntil = now.Add(grace + graceSlack)
	// 断线后只有更晚的 Register 才算"刚刚重连"
	entry.reconnectAt = time.Time{}
	return true, nil
}

// GraceStatus 基于当前存储状态计算宽限期状态
func (m *MemoryRegistry) GraceStatus(_ context.Context, userID string, grace time.Duration) (GraceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[userID]
	if !ok {
		return GraceStatus{StillDisconnected: true, Expired: true}, nil
	}

	if entry.session.Connected {
		return GraceStatus{Reconnected: true}, nil
	}

	status := GraceStatus{StillDisconnected: true}
	if time.Now().After(entry.downUntil) {
		status.Expired = true
		return status, nil
	}
	if time.Since(time.UnixMilli(entry.session.DisconnectedAt)) >= grace {
		status.Expired = true
	}
	return status, nil
}

// ClearSession 仅当 connID 仍是当前连接时移除会话
func (m *MemoryRegistry) ClearSession(_ context.Context, userID, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[userID]; ok && entry.session.ConnectionID == connID {
		delete(m.sessions, userID)
	}
	return nil
}

// CurrentConnection 返回当前登记的连接 ID
func (m *MemoryRegistry) CurrentConnection(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[userID]; ok {
		return entry.session.ConnectionID, nil
	}
	return "", nil
}

// Get 返回当前会话快照
func (m *MemoryRegistry) Get(_ context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[userID]; ok {
		s := entry.session
		return &s, nil
	}
	return nil, nil
}

// RecentlyReconnected 查询"刚刚重连"标记
func (m *MemoryRegistry) RecentlyReconnected(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[userID]; ok {
		return time.Now().Before(entry.reconnectAt), nil
	}
	return false, nil
}

// SetLeaveIntent 记录主动离开意图
func (m *MemoryRegistry) SetLeaveIntent(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[userID]
	if !ok {
		entry = &memorySession{}
		m.sessions[userID] = entry
	}
	entry.leaveUntil = time.Now().Add(LeaveIntentTTL)
	return nil
}

// HasLeaveIntent 查询离开意图标记
func (m *MemoryRegistry) HasLeaveIntent(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[userID]; ok {
		return time.Now().Before(entry.leaveUntil), nil
	}
	return false, nil
}
