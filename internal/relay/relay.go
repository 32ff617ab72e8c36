// Package relay implements the server side of Syncline: a single
// WebSocket endpoint multiplexing every document over one connection per
// client, backed by a durable update log and an in-process broadcast fan-out
// per document.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncline/syncline/internal/crdt"
	"github.com/syncline/syncline/internal/logger"
	"github.com/syncline/syncline/internal/store"
	"github.com/syncline/syncline/internal/wire"
)

// IndexDocID is the well-known document ID for the replicated file index.
const IndexDocID = "__index__"

var log = logger.Named("relay")

// Relay is the server-side half of Syncline: HTTP router, connection
// registry, and per-document broadcast channels, all backed by a durable
// update log.
type Relay struct {
	store *store.Store

	mu       sync.RWMutex
	channels map[string]*docChannel

	connMu      sync.Mutex
	connections int

	upgrader websocket.Upgrader
	router   *gin.Engine
}

// New builds a Relay over an already-open Store, warming its broadcast
// channel set from every document ID the store has ever logged an update
// for — so a document that had subscribers before a restart shows up in
// /stats and is ready to fan out to its first reconnecting client without
// waiting for a fresh SYNC_STEP_1 to lazily create its channel.
func New(ctx context.Context, st *store.Store) (*Relay, error) {
	r := &Relay{
		store:    st,
		channels: make(map[string]*docChannel),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	ids, err := st.ListDocIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("relay: warm document set: %w", err)
	}
	for _, id := range ids {
		r.channels[id] = newDocChannel()
	}
	log.Info("warmed document set", logger.F("documents", len(ids)))

	r.router = gin.New()
	r.router.Use(gin.Recovery())
	r.router.GET("/sync", r.handleSync)
	r.router.GET("/healthz", r.handleHealthz)
	r.router.GET("/stats", r.handleStats)
	return r, nil
}

// Handler exposes the configured router for embedding in an http.Server.
func (r *Relay) Handler() http.Handler { return r.router }

func (r *Relay) channelFor(docID string) *docChannel {
	r.mu.RLock()
	ch, ok := r.channels[docID]
	r.mu.RUnlock()
	if ok {
		return ch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[docID]; ok {
		return ch
	}
	ch = newDocChannel()
	r.channels[docID] = ch
	return ch
}

func (r *Relay) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Relay) handleStats(c *gin.Context) {
	r.mu.RLock()
	docCount := len(r.channels)
	r.mu.RUnlock()

	r.connMu.Lock()
	connCount := r.connections
	r.connMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"documents":   docCount,
		"connections": connCount,
	})
}

// connection is the per-socket state the spec calls "per-connection state":
// a connection_id, an outgoing queue, and the set of per-document
// subscriptions it currently holds.
type connection struct {
	id    string
	ws    *websocket.Conn
	queue *outboundQueue

	mu      sync.Mutex
	cancels map[string]func() // doc_id -> stop forwarder + unsubscribe
}

func (r *Relay) handleSync(c *gin.Context) {
	ws, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("upgrade failed", logger.F("error", err))
		return
	}

	conn := &connection{
		id:      uuid.NewString(),
		ws:      ws,
		queue:   newOutboundQueue(),
		cancels: make(map[string]func()),
	}

	r.connMu.Lock()
	r.connections++
	r.connMu.Unlock()
	log.Info("connection opened", logger.F("conn_id", conn.id))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.writePump(conn)
	}()

	r.readLoop(conn)

	conn.queue.close()
	wg.Wait()
	r.teardown(conn)

	r.connMu.Lock()
	r.connections--
	r.connMu.Unlock()
	log.Info("connection closed", logger.F("conn_id", conn.id))
}

func (r *Relay) writePump(conn *connection) {
	for {
		payload, ok := conn.queue.pop()
		if !ok {
			return
		}
		if err := conn.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			log.Warn("write failed", logger.F("conn_id", conn.id), logger.F("error", err))
			conn.ws.Close()
			return
		}
	}
}

func (r *Relay) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		frame, ok := wire.Decode(data)
		if !ok {
			log.Warn("dropping malformed frame", logger.F("conn_id", conn.id))
			continue
		}
		r.dispatch(conn, frame)
	}
}

func (r *Relay) dispatch(conn *connection, frame wire.Frame) {
	switch frame.Type {
	case wire.SyncStep1:
		r.handleSyncStep1(conn, frame.DocID, frame.Payload)
	case wire.Update:
		r.handleUpdate(conn, frame.DocID, frame.Payload)
	case wire.SyncStep2:
		// the server is authoritative; a client never tells it what it's missing.
		log.Debug("ignoring SYNC_STEP_2 from client", logger.F("conn_id", conn.id))
	default:
		log.Warn("unknown frame type", logger.F("type", frame.Type), logger.F("conn_id", conn.id))
	}
}

func (r *Relay) handleSyncStep1(conn *connection, docID string, svBytes []byte) {
	ch := r.channelFor(docID)
	sub := ch.subscribe(conn.id)
	cancel := r.spawnForwarder(conn, docID, sub)

	conn.mu.Lock()
	conn.cancels[docID] = func() {
		cancel()
		ch.unsubscribe(conn.id)
	}
	conn.mu.Unlock()

	sv := crdt.DecodeStateVector(svBytes)
	delta, err := r.deltaSince(docID, sv)
	if err != nil {
		log.Error("delta_since failed", logger.F("doc_id", docID), logger.F("error", err))
		return
	}
	if delta != nil {
		conn.queue.push(wire.Encode(wire.SyncStep2, docID, delta))
	}
}

func (r *Relay) spawnForwarder(conn *connection, docID string, sub chan broadcastMsg) func() {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg, ok := <-sub:
				if !ok {
					return
				}
				if msg.origin == conn.id {
					continue // echo suppression by connection_id
				}
				conn.queue.push(wire.Encode(wire.Update, docID, msg.payload))
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (r *Relay) handleUpdate(conn *connection, docID string, payload []byte) {
	if err := r.store.Append(context.Background(), docID, payload); err != nil {
		log.Error("append update failed", logger.F("doc_id", docID), logger.F("error", err))
		return // a failed append is not broadcast, and not retried
	}
	r.channelFor(docID).publish(payload, conn.id)
}

// deltaSince replays docID's durable log into an ephemeral document and
// exports the difference against sv — the store's delta_since operation,
// factored here since it needs the crdt package's replay semantics, not
// just raw bytes.
func (r *Relay) deltaSince(docID string, sv crdt.StateVector) ([]byte, error) {
	updates, err := r.store.LoadAll(context.Background(), docID)
	if err != nil {
		return nil, err
	}
	doc := newEphemeralDoc(docID)
	for _, u := range updates {
		if err := doc.ApplyUpdate(u); err != nil {
			log.Warn("skipping corrupt stored update", logger.F("doc_id", docID), logger.F("error", err))
			continue
		}
	}
	return doc.ExportUpdate(sv), nil
}

func newEphemeralDoc(docID string) *crdt.Doc {
	if docID == IndexDocID {
		return crdt.NewMapDoc(crdt.NewClientID())
	}
	return crdt.NewTextDoc(crdt.NewClientID())
}

func (r *Relay) teardown(conn *connection) {
	conn.mu.Lock()
	cancels := conn.cancels
	conn.cancels = nil
	conn.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
