//go:build !production

package testutil

import (
	"sync"

	"github.com/quartermoon/sea-battle/internal/protocol"
)

// RecordingPublisher 录制下发消息的 Publisher 实现，
// 按用户缓存全部消息供测试断言。
type RecordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]*protocol.Message
}

// NewRecordingPublisher 创建录制型 Publisher
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{messages: make(map[string][]*protocol.Message)}
}

// PublishTo 记录一条发给指定用户的消息
func (p *RecordingPublisher) PublishTo(userID string, msg *protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[userID] = append(p.messages[userID], msg)
}

// MessagesFor 返回发给指定用户的全部消息副本
func (p *RecordingPublisher) MessagesFor(userID string) []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*protocol.Message, len(p.messages[userID]))
	copy(out, p.messages[userID])
	return out
}

// CountByType 统计发给指定用户的某类消息条数
func (p *RecordingPublisher) CountByType(userID string, msgType protocol.MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages[userID] {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// LastOfType 返回发给指定用户的最后一条某类消息，没有时返回 nil
func (p *RecordingPublisher) LastOfType(userID string, msgType protocol.MessageType) *protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.messages[userID]) - 1; i >= 0; i-- {
		if p.messages[userID][i].Type == msgType {
			return p.messages[userID][i]
		}
	}
	return nil
}

// Reset 清空全部录制
func (p *RecordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = make(map[string][]*protocol.Message)
}
