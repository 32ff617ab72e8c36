// Package syncclient implements the client side of Syncline's wire
// protocol: a single multiplexed WebSocket connection shared by every
// document a replica tracks, with a fixed reconnect delay and two layers of
// echo suppression (the server filters by connection_id; this package
// filters by a per-document suppress flag around every remote apply).
package syncclient

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/wire"
)

// reconnectDelay is fixed rather than backed off, matching the original
// implementation and the spec's explicit "not required for conformance"
// allowance — kept deterministic so reconnection timing is easy to assert
// against in tests.
const reconnectDelay = 2 * time.Second

// outboundBuffer bounds the client's outbound queue. Unlike the relay's
// forwarder (which must never drop another replica's updates), a client
// only ever queues its own locally-produced updates, so a large fixed
// buffer is sufficient instead of the server's genuinely unbounded queue.
const outboundBuffer = 1 << 16

// docState is the per-document bookkeeping the spec calls DocState: the
// live document handle, the echo-suppression flag, the observer
// subscription, and the lock external callers use to serialize their own
// write transactions against the observer's reads.
type docState struct {
	doc    *crdt.Doc
	cancel func()

	mu       sync.Mutex
	suppress bool

	txnLock sync.Mutex
}

// Client is a single replica's connection to the relay: one socket shared
// across every tracked document.
type Client struct {
	url      string
	outbound chan []byte

	docsMu sync.RWMutex
	docs   map[string]*docState
}

// New creates a client that will dial url once Run is called.
func New(url string) *Client {
	return &Client{
		url:      url,
		outbound: make(chan []byte, outboundBuffer),
		docs:     make(map[string]*docState),
	}
}

// AddDoc registers doc under docID, attaches the update observer that
// re-broadcasts local (non-suppressed) changes, and sends an immediate
// SYNC_STEP_1 plus full-state UPDATE so a socket that is already connected
// catches the peer up without waiting for the next reconnect. The observer
// is attached before anything is sent, so a reply dispatched concurrently
// can never race ahead of the registry entry it needs.
//
// The returned lock is for external callers (the reconciler) to serialize
// their own write transactions on doc against the observer's reads; it is
// not used internally by syncclient.
func (c *Client) AddDoc(docID string, doc *crdt.Doc) *sync.Mutex {
	ds := &docState{doc: doc}
	ds.cancel = doc.Observe(func(u crdt.Update) {
		ds.mu.Lock()
		suppressed := ds.suppress
		ds.mu.Unlock()
		if suppressed {
			return
		}
		c.send(wire.Encode(wire.Update, docID, crdt.Encode(u)))
	})

	c.docsMu.Lock()
	c.docs[docID] = ds
	c.docsMu.Unlock()

	c.sendInitialSync(docID, ds)
	return &ds.txnLock
}

// RemoveDoc cancels the observer and drops the document from the registry,
// e.g. when the reconciler unclaims a deleted file's path.
func (c *Client) RemoveDoc(docID string) {
	c.docsMu.Lock()
	ds, ok := c.docs[docID]
	delete(c.docs, docID)
	c.docsMu.Unlock()
	if ok && ds.cancel != nil {
		ds.cancel()
	}
}

func (c *Client) sendInitialSync(docID string, ds *docState) {
	c.send(wire.Encode(wire.SyncStep1, docID, crdt.EncodeStateVector(ds.doc.StateVector())))
	if full := ds.doc.ExportFull(); full != nil {
		c.send(wire.Encode(wire.Update, docID, full))
	}
}

func (c *Client) send(frame []byte) {
	select {
	case c.outbound <- frame:
	default:
		logger.Warn("syncclient: outbound queue full, dropping a frame")
	}
}

// Run drives the connect loop until ctx is cancelled: dial, resync every
// registered document, pump outbound frames to the socket while dispatching
// inbound ones, and on any error fall back to the fixed reconnect delay.
func (c *Client) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logger.Warn("syncclient: dial %s: %v", c.url, err)
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}
		logger.Info("syncclient: connected to %s", c.url)
		c.resyncAll()

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.writePump(conn, stop)
		}()

		c.readLoop(conn)
		close(stop)
		conn.Close()
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
		logger.Warn("syncclient: disconnected from %s, reconnecting in %s", c.url, reconnectDelay)
		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

func (c *Client) resyncAll() {
	c.docsMu.RLock()
	defer c.docsMu.RUnlock()
	for docID, ds := range c.docs {
		c.sendInitialSync(docID, ds)
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	for {
		select {
		case payload := <-c.outbound:
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				logger.Warn("syncclient: write failed: %v", err)
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, ok := wire.Decode(data)
		if !ok {
			logger.Warn("syncclient: dropping malformed frame")
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch applies SYNC_STEP_2 and UPDATE frames for known documents under
// the suppress flag, so the observer attached in AddDoc does not
// re-broadcast what the server just sent. SYNC_STEP_1 never arrives from a
// server and an update for an unregistered doc_id is dropped with a log.
func (c *Client) dispatch(frame wire.Frame) {
	if frame.Type != wire.SyncStep2 && frame.Type != wire.Update {
		logger.Debug("syncclient: ignoring unexpected frame type %s", frame.Type)
		return
	}

	c.docsMu.RLock()
	ds, ok := c.docs[frame.DocID]
	c.docsMu.RUnlock()
	if !ok {
		logger.Debug("syncclient: update for unregistered doc %s", frame.DocID)
		return
	}

	ds.mu.Lock()
	ds.suppress = true
	ds.mu.Unlock()
	defer func() {
		ds.mu.Lock()
		ds.suppress = false
		ds.mu.Unlock()
	}()

	if err := ds.doc.ApplyUpdate(frame.Payload); err != nil {
		logger.Warn("syncclient: apply update for %s: %v", frame.DocID, err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
