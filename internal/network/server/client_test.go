package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quartermoon/sea-battle/internal/protocol"
)

func newTestClient(buffer int) *Client {
	return &Client{
		ConnID:   "conn-test",
		UserID:   "user-test",
		Username: "tester",
		send:     make(chan []byte, buffer),
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()

	c := newTestClient(4)
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, protocol.PongPayload{ServerTimestamp: 1}))

	data := <-c.send
	msg, err := protocol.Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, protocol.MsgPong, msg.Type)
}

func TestSendMessage_AfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	c := newTestClient(4)
	c.Close()

	// Must not panic, and nothing lands in the buffer
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, nil))

	_, open := <-c.send
	assert.False(t, open)
}

func TestSendMessage_BufferFullClosesClient(t *testing.T) {
	t.Parallel()

	c := newTestClient(1)
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, nil))
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, nil)) // buffer full, triggers Close

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	assert.True(t, closed)

	// Further sends are no-ops
	c.SendMessage(protocol.MustNewMessage(protocol.MsgPong, nil))
}

// Close may race with deliveries from timer callbacks and broadcasts.
// Hammer both paths together; a send on the closed channel would panic
// and fail the run.
func TestSendMessage_ConcurrentWithClose(t *testing.T) {
	t.Parallel()

	msg := protocol.MustNewMessage(protocol.MsgPong, nil)
	for i := 0; i < 2000; i++ {
		c := newTestClient(1)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.SendMessage(msg)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
		wg.Wait()
	}
}
