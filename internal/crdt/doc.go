// Package crdt implements Syncline's replicated document types: a
// sequence CRDT for text content (an RGA/YATA list, in the spirit of Yjs)
// and a map CRDT for the index document (an observed-remove, add-wins map).
// No third-party CRDT library in the retrieved corpus implements Yjs-style
// text replication for Go — the teacher repo itself hand-rolls a (much
// simpler, non-convergent) "Yjs-compatible" document rather than importing
// one — so this package is a from-scratch, idiomatic implementation in the
// same spirit, built to actually satisfy the convergence invariants the
// teacher's version only gestures at.
package crdt

import "sync"

// Kind distinguishes the two document shapes the spec defines.
type Kind uint8

const (
	KindText Kind = iota
	KindMap
)

// Observer is invoked synchronously, inside the mutating transaction,
// whenever a document changes — including when the change arrives from a
// remote ApplyUpdate. Observers must never call back into the same Doc's
// mutating methods; the doc's internal lock is not reentrant and the
// transaction that triggered the observer is still open.
type Observer func(Update)

// Doc is a single replicated document handle: one CRDT instance per
// (replica, doc_id) pair, matching the "document handle" of the data model.
type Doc struct {
	mu sync.Mutex

	kind   Kind
	client uint64
	clock  uint64

	sv StateVector

	// KindText state
	items []*textItem

	// KindMap state
	entries map[string]*mapEntry

	observers []Observer
}

// NewTextDoc creates an empty text document owned by client.
func NewTextDoc(client uint64) *Doc {
	return &Doc{
		kind:   KindText,
		client: client,
		sv:     StateVector{},
		items:  nil,
	}
}

// NewMapDoc creates an empty map document (used for the index document)
// owned by client.
func NewMapDoc(client uint64) *Doc {
	return &Doc{
		kind:    KindMap,
		client:  client,
		sv:      StateVector{},
		entries: make(map[string]*mapEntry),
	}
}

// Kind reports which shape this document is.
func (d *Doc) Kind() Kind {
	return d.kind
}

// StateVector returns a snapshot of the document's current state vector.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Clone()
}

// Observe registers fn to be called on every applied mutation, local or
// remote. The returned cancel function removes the subscription; per the
// spec's note on observer lifetime, callers must retain and eventually
// invoke it — a dropped (garbage collected) subscription is not
// automatically removed, but an un-cancelled one keeps firing for the life
// of the Doc, which is the common case (the registry entry owns it).
func (d *Doc) Observe(fn Observer) (cancel func()) {
	d.mu.Lock()
	idx := len(d.observers)
	d.observers = append(d.observers, fn)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if idx < len(d.observers) {
			d.observers[idx] = nil
		}
	}
}

// notify must be called with d.mu held; it fires every live observer with
// the just-applied update before the transaction is considered closed.
func (d *Doc) notify(u Update) {
	if u.Empty() {
		return
	}
	for _, obs := range d.observers {
		if obs != nil {
			obs(u)
		}
	}
}

// nextID consumes n clock ticks from this replica's local clock and
// returns the ID of the first one.
func (d *Doc) nextID(n uint64) ID {
	id := ID{Client: d.client, Clock: d.clock}
	d.clock += n
	d.sv.advance(d.client, d.clock)
	return id
}

// ApplyUpdate decodes and integrates a remote update, firing observers for
// whatever actually changed. Ops already covered by the document's state
// vector are skipped (invariant I3). A malformed update is reported as an
// error so the caller can log-and-skip per the error taxonomy; it never
// leaves the document partially mutated in a way that breaks convergence,
// since skip-if-seen is applied per-op.
func (d *Doc) ApplyUpdate(raw []byte) error {
	u, err := Decode(raw)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	applied := Update{}

	for _, op := range u.Inserts {
		if d.sv.covers(op.ID.Client, op.ID.Clock, op.length()) {
			continue
		}
		if d.kind != KindText {
			continue
		}
		d.integrateInsert(op)
		d.sv.advance(op.ID.Client, op.ID.Clock+op.length())
		applied.Inserts = append(applied.Inserts, op)
	}

	for _, op := range u.Deletes {
		if d.sv.covers(op.ID.Client, op.ID.Clock, 1) {
			continue
		}
		if d.kind != KindText {
			continue
		}
		d.applyDeleteRange(op)
		d.sv.advance(op.ID.Client, op.ID.Clock+1)
		applied.Deletes = append(applied.Deletes, op)
	}

	for _, op := range u.Sets {
		if d.sv.covers(op.ID.Client, op.ID.Clock, 1) {
			continue
		}
		if d.kind != KindMap {
			continue
		}
		d.applySet(op)
		d.sv.advance(op.ID.Client, op.ID.Clock+1)
		applied.Sets = append(applied.Sets, op)
	}

	for _, op := range u.Dels {
		if d.sv.covers(op.ID.Client, op.ID.Clock, 1) {
			continue
		}
		if d.kind != KindMap {
			continue
		}
		d.applyDel(op)
		d.sv.advance(op.ID.Client, op.ID.Clock+1)
		applied.Dels = append(applied.Dels, op)
	}

	d.notify(applied)
	return nil
}

// ExportUpdate computes the differential update that brings a peer whose
// state vector is sv to this document's current state — the "delta_since"
// operation factored out of the store so it can also back snapshot export
// (ExportFull calls it with an empty state vector).
func (d *Doc) ExportUpdate(sv StateVector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out Update
	switch d.kind {
	case KindText:
		out.Inserts, out.Deletes = d.exportText(sv)
	case KindMap:
		out.Sets, out.Dels = d.exportMap(sv)
	}
	if out.Empty() {
		return nil
	}
	return Encode(out)
}

// ExportFull exports the entire document state as a single update, as if
// addressed to a peer with an empty state vector. Used for full-state
// snapshots and the initial unsolicited UPDATE a sync client sends after
// SYNC_STEP_1.
func (d *Doc) ExportFull() []byte {
	return d.ExportUpdate(StateVector{})
}
