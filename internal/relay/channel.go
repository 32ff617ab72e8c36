package relay

import (
	"sync"

	"github.com/syncline/syncline/internal/logger"
)

// broadcastBufferSize is the per-subscriber buffer capacity for a document's
// broadcast channel (§5: "bounded but large (>= 65,536)").
const broadcastBufferSize = 65536

// broadcastMsg is one published update, tagged with the connection_id that
// originated it so each subscriber's forwarder can filter its own echo.
type broadcastMsg struct {
	payload []byte
	origin  string
}

// docChannel fans a document's updates out to every subscribed connection,
// mirroring a tokio broadcast channel: every subscriber (including the
// publisher) receives every message, and origin filtering happens in the
// subscriber's own forwarder loop, not here.
type docChannel struct {
	mu   sync.Mutex
	subs map[string]chan broadcastMsg
}

func newDocChannel() *docChannel {
	return &docChannel{subs: make(map[string]chan broadcastMsg)}
}

func (c *docChannel) subscribe(connID string) chan broadcastMsg {
	ch := make(chan broadcastMsg, broadcastBufferSize)
	c.mu.Lock()
	c.subs[connID] = ch
	c.mu.Unlock()
	return ch
}

func (c *docChannel) unsubscribe(connID string) {
	c.mu.Lock()
	ch, ok := c.subs[connID]
	delete(c.subs, connID)
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// publish fans payload out to every subscriber. A subscriber whose buffer is
// full (a stalled forwarder) is logged and skipped for this message rather
// than blocking the publisher — equivalent to the source's Lagged(n) event.
func (c *docChannel) publish(payload []byte, origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := broadcastMsg{payload: payload, origin: origin}
	for connID, ch := range c.subs {
		select {
		case ch <- msg:
		default:
			log.Warn("subscriber lagged, dropping one update", logger.F("conn_id", connID))
		}
	}
}

func (c *docChannel) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) == 0
}
