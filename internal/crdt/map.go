package crdt

// mapEntry is the current state of one key: the ID of the add currently
// visible (if any) and, once removed, the ID of the delete that removed it.
// The entry is kept even after deletion so a later, unrelated delete with a
// stale Target cannot resurrect it, and so a concurrent Set can tell whether
// it is superseding a live add or replacing a tombstoned one.
type mapEntry struct {
	addID     ID
	value     []byte
	deletedBy *ID
}

func (e *mapEntry) live() bool { return e.deletedBy == nil }

// idWins reports whether a should be treated as causally later than b for
// last-writer-wins conflict resolution: higher clock wins, client breaks ties.
func idWins(a, b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Client > b.Client
}

// Get returns the value currently visible under key.
func (d *Doc) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok || !e.live() {
		return nil, false
	}
	return e.value, true
}

// Keys returns every key with a currently visible (non-deleted) entry, in no
// particular order.
func (d *Doc) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.entries))
	for k, e := range d.entries {
		if e.live() {
			keys = append(keys, k)
		}
	}
	return keys
}

// SetKey assigns value to key, always registering as a new add — it wins
// over any concurrent delete of a prior add to the same key, since that
// delete names a different target ID (invariant: add-wins).
func (d *Doc) SetKey(key string, value []byte) (Update, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kind != KindMap {
		return Update{}, ErrWrongKind
	}
	id := d.nextID(1)
	body := append([]byte(nil), value...)
	d.entries[key] = &mapEntry{addID: id, value: body}

	u := Update{Sets: []SetOp{{ID: id, Key: key, Value: body}}}
	d.notify(u)
	return u, nil
}

// DeleteKey removes key, if it currently has a live entry. Deleting an
// already-absent or already-deleted key is a no-op.
func (d *Doc) DeleteKey(key string) (Update, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kind != KindMap {
		return Update{}, ErrWrongKind
	}
	e, ok := d.entries[key]
	if !ok || !e.live() {
		return Update{}, nil
	}
	id := d.nextID(1)
	e.deletedBy = &id

	u := Update{Dels: []DelOp{{ID: id, Key: key, Target: e.addID}}}
	d.notify(u)
	return u, nil
}

// applySet resolves a remote Set against any existing entry for op.Key. A
// tombstoned entry is always replaced (add-wins); a live entry is resolved
// by last-writer-wins, and a losing Set is simply discarded.
func (d *Doc) applySet(op SetOp) {
	existing, ok := d.entries[op.Key]
	if ok && existing.live() && !idWins(op.ID, existing.addID) {
		return
	}
	d.entries[op.Key] = &mapEntry{addID: op.ID, value: op.Value}
}

// applyDel removes op.Key only if the entry currently visible there is
// still the one produced by op.Target — observed-remove semantics. A
// concurrent Set that has already superseded op.Target survives untouched.
func (d *Doc) applyDel(op DelOp) {
	existing, ok := d.entries[op.Key]
	if !ok || existing.addID != op.Target {
		return
	}
	id := op.ID
	existing.deletedBy = &id
}

// exportMap always returns the document's complete current state rather
// than a true diff against sv: the index document this type backs is small
// (a set of watched file paths), so resending every entry is cheap, and it
// avoids tracking per-delete partial coverage the way text runs do. The
// receiving ApplyUpdate still skips any op already covered by its own state
// vector, so this costs bandwidth, not correctness.
func (d *Doc) exportMap(sv StateVector) ([]SetOp, []DelOp) {
	_ = sv
	var sets []SetOp
	var dels []DelOp
	for key, e := range d.entries {
		if e.live() {
			sets = append(sets, SetOp{ID: e.addID, Key: key, Value: append([]byte(nil), e.value...)})
		} else {
			dels = append(dels, DelOp{ID: *e.deletedBy, Key: key, Target: e.addID})
		}
	}
	return sets, dels
}
