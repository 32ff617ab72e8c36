package crdt

// textItem is one run of contiguous bytes in the RGA/YATA total order. A run
// is never re-merged once split: origin references are byte-precise IDs, and
// keeping every fragment addressable by its own ID is what lets ApplyUpdate
// and ExportUpdate reason about arbitrary byte ranges without re-minting IDs.
type textItem struct {
	id          ID
	length      uint64
	originLeft  *ID
	originRight *ID
	content     []byte

	// deletedBy is the ID of the DeleteRangeOp that tombstoned this run, or
	// nil if the run is still visible.
	deletedBy *ID
}

func (it *textItem) deleted() bool { return it.deletedBy != nil }

// lastID returns the ID of this item's final byte.
func (it *textItem) lastID() ID {
	return ID{Client: it.id.Client, Clock: it.id.Clock + it.length - 1}
}

// Length reports the current visible length of a text document, in bytes.
func (d *Doc) Length() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint64
	for _, it := range d.items {
		if !it.deleted() {
			n += it.length
		}
	}
	return n
}

// GetString renders the document's current visible content.
func (d *Doc) GetString() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []byte
	for _, it := range d.items {
		if !it.deleted() {
			out = append(out, it.content...)
		}
	}
	return out
}

// splitItem cuts d.items[i] into two runs at local byte offset at
// (1 <= at < length), preserving origins and deletion state on both halves.
func (d *Doc) splitItem(i int, at uint64) {
	it := d.items[i]
	mid := ID{Client: it.id.Client, Clock: it.id.Clock + at}

	left := &textItem{
		id:          it.id,
		length:      at,
		originLeft:  it.originLeft,
		originRight: &mid,
		content:     it.content[:at],
		deletedBy:   it.deletedBy,
	}
	midLeft := ID{Client: mid.Client, Clock: mid.Clock - 1}
	right := &textItem{
		id:          mid,
		length:      it.length - at,
		originLeft:  &midLeft,
		originRight: it.originRight,
		content:     it.content[at:],
		deletedBy:   it.deletedBy,
	}

	d.items = append(d.items, nil)
	copy(d.items[i+2:], d.items[i+1:])
	d.items[i] = left
	d.items[i+1] = right
}

// findVisibleItem locates the item (and intra-item offset) holding visible
// byte position pos, skipping tombstoned runs. ok is false once pos reaches
// the document's visible length.
func (d *Doc) findVisibleItem(pos uint64) (idx int, offset uint64, ok bool) {
	var visible uint64
	for i, it := range d.items {
		if it.deleted() {
			continue
		}
		if pos < visible+it.length {
			return i, pos - visible, true
		}
		visible += it.length
	}
	return 0, 0, false
}

// locateBoundary finds the origin pair (left, right byte IDs) for inserting
// at visible position pos, splitting an existing item if pos falls in its
// interior.
func (d *Doc) locateBoundary(pos uint64) (left, right *ID) {
	var visible uint64
	for i := 0; i < len(d.items); i++ {
		it := d.items[i]
		if it.deleted() {
			continue
		}
		if visible+it.length <= pos {
			visible += it.length
			continue
		}
		if pos == visible {
			var l *ID
			if i > 0 {
				id := d.items[i-1].lastID()
				l = &id
			}
			r := it.id
			return l, &r
		}
		offset := pos - visible
		d.splitItem(i, offset)
		l := d.items[i].lastID()
		r := d.items[i+1].id
		return &l, &r
	}
	if len(d.items) == 0 {
		return nil, nil
	}
	l := d.items[len(d.items)-1].lastID()
	return &l, nil
}

// ensureBoundaryAfter resolves an originLeft reference to the index of the
// item it names, splitting that item if id falls in its interior so the
// boundary becomes exact. Returns -1 for a nil id (start of sequence).
func (d *Doc) ensureBoundaryAfter(id *ID) int {
	if id == nil {
		return -1
	}
	for i, it := range d.items {
		if it.id.Client != id.Client || id.Clock < it.id.Clock || id.Clock >= it.id.Clock+it.length {
			continue
		}
		offset := id.Clock - it.id.Clock
		if offset == it.length-1 {
			return i
		}
		d.splitItem(i, offset+1)
		return i
	}
	return -1
}

// ensureBoundaryBefore resolves an originRight reference the same way,
// returning len(d.items) for a nil id (end of sequence).
func (d *Doc) ensureBoundaryBefore(id *ID) int {
	if id == nil {
		return len(d.items)
	}
	for i, it := range d.items {
		if it.id.Client != id.Client || id.Clock < it.id.Clock || id.Clock >= it.id.Clock+it.length {
			continue
		}
		offset := id.Clock - it.id.Clock
		if offset == 0 {
			return i
		}
		d.splitItem(i, offset)
		return i + 1
	}
	return len(d.items)
}

// integrate places item into the total order using the YATA conflict rule:
// among items competing for the same origin pair, higher client ID takes the
// leftmost position, which is what makes concurrent inserts converge
// regardless of delivery order (invariant I1).
func (d *Doc) integrate(item *textItem) {
	leftIdx := d.ensureBoundaryAfter(item.originLeft)
	rightIdx := d.ensureBoundaryBefore(item.originRight)

	dest := leftIdx + 1
	for dest < rightIdx {
		o := d.items[dest]
		oLeftIdx := d.ensureBoundaryAfter(o.originLeft)
		oRightIdx := d.ensureBoundaryBefore(o.originRight)

		if oLeftIdx < leftIdx {
			break
		} else if oLeftIdx == leftIdx {
			if oRightIdx < rightIdx {
				break
			} else if oRightIdx == rightIdx && item.id.Client > o.id.Client {
				break
			}
		}
		dest++
	}

	d.items = append(d.items, nil)
	copy(d.items[dest+1:], d.items[dest:])
	d.items[dest] = item
}

// InsertText inserts content at visible byte position pos, clamped to the
// document's current length, and returns the local update produced.
func (d *Doc) InsertText(pos uint64, content []byte) (Update, error) {
	if len(content) == 0 {
		return Update{}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kind != KindText {
		return Update{}, ErrWrongKind
	}

	var visible uint64
	for _, it := range d.items {
		if !it.deleted() {
			visible += it.length
		}
	}
	if pos > visible {
		pos = visible
	}

	left, right := d.locateBoundary(pos)
	id := d.nextID(uint64(len(content)))
	body := append([]byte(nil), content...)
	item := &textItem{id: id, length: uint64(len(content)), originLeft: left, originRight: right, content: body}
	d.integrate(item)

	u := Update{Inserts: []InsertOp{{ID: id, OriginLeft: left, OriginRight: right, Content: body}}}
	d.notify(u)
	return u, nil
}

// integrateInsert applies a remote InsertOp, reconstructing the item it
// describes and integrating it via the same YATA rule as local inserts.
func (d *Doc) integrateInsert(op InsertOp) {
	item := &textItem{
		id:          op.ID,
		length:      op.length(),
		originLeft:  op.OriginLeft,
		originRight: op.OriginRight,
		content:     op.Content,
	}
	d.integrate(item)
}

// DeleteRangeText tombstones the visible byte range [pos, pos+length),
// clamped to the document's current bounds. A single call may span several
// underlying runs contributed by different replicas; each contiguous run
// touched produces its own DeleteRangeOp, since a single op can only name one
// contiguous source range.
func (d *Doc) DeleteRangeText(pos, length uint64) (Update, error) {
	if length == 0 {
		return Update{}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.kind != KindText {
		return Update{}, ErrWrongKind
	}

	var ops []DeleteRangeOp
	remaining := length
	for remaining > 0 {
		idx, offset, ok := d.findVisibleItem(pos)
		if !ok {
			break
		}
		if offset > 0 {
			d.splitItem(idx, offset)
			idx++
		}
		it := d.items[idx]
		take := remaining
		if take > it.length {
			take = it.length
		}
		if take < it.length {
			d.splitItem(idx, take)
			it = d.items[idx]
		}

		opID := d.nextID(1)
		it.deletedBy = &opID
		ops = append(ops, DeleteRangeOp{ID: opID, Target: it.id, Length: it.length})
		remaining -= take
	}

	u := Update{Deletes: ops}
	d.notify(u)
	return u, nil
}

// applyDeleteRange marks every item fragment covering op.Target's absolute
// byte range as deleted under op.ID, splitting existing runs as needed.
// Applying the same delete twice is harmless: a run already tombstoned is
// simply tombstoned again.
func (d *Doc) applyDeleteRange(op DeleteRangeOp) {
	start := op.Target.Clock
	end := start + op.Length

	for i := 0; i < len(d.items); i++ {
		it := d.items[i]
		if it.id.Client != op.Target.Client {
			continue
		}
		itStart := it.id.Clock
		itEnd := itStart + it.length
		if itEnd <= start || itStart >= end {
			continue
		}

		lo := uint64(0)
		if start > itStart {
			lo = start - itStart
		}
		hi := it.length
		if end < itEnd {
			hi = end - itStart
		}

		if lo > 0 {
			d.splitItem(i, lo)
			i++
			hi -= lo
			it = d.items[i]
		}
		if hi < it.length {
			d.splitItem(i, hi)
			it = d.items[i]
		}
		id := op.ID
		it.deletedBy = &id
	}
}

// exportText computes the inserts and deletes sv has not yet seen. Deletes
// are always re-sent in full once unseen by ID, since the delete set is
// cheap relative to content and this sidesteps tracking partial-coverage of
// a delete across item fragments produced by later, unrelated splits.
func (d *Doc) exportText(sv StateVector) ([]InsertOp, []DeleteRangeOp) {
	var inserts []InsertOp
	for _, it := range d.items {
		if sv.covers(it.id.Client, it.id.Clock, it.length) {
			continue
		}
		overlapStart := it.id.Clock
		if s := sv.Get(it.id.Client); s > overlapStart {
			overlapStart = s
		}
		offset := overlapStart - it.id.Clock

		originLeft := it.originLeft
		if offset > 0 {
			l := ID{Client: it.id.Client, Clock: overlapStart - 1}
			originLeft = &l
		}
		inserts = append(inserts, InsertOp{
			ID:          ID{Client: it.id.Client, Clock: overlapStart},
			OriginLeft:  originLeft,
			OriginRight: it.originRight,
			Content:     append([]byte(nil), it.content[offset:]...),
		})
	}

	seen := map[ID]int{}
	var deletes []DeleteRangeOp
	for _, it := range d.items {
		if it.deletedBy == nil {
			continue
		}
		if sv.covers(it.deletedBy.Client, it.deletedBy.Clock, 1) {
			continue
		}
		if i, ok := seen[*it.deletedBy]; ok {
			// another fragment of the same delete: widen the op to cover it
			op := &deletes[i]
			start, end := op.Target.Clock, op.Target.Clock+op.Length
			if it.id.Clock < start {
				start = it.id.Clock
			}
			if e := it.id.Clock + it.length; e > end {
				end = e
			}
			op.Target.Clock, op.Length = start, end-start
			continue
		}
		seen[*it.deletedBy] = len(deletes)
		deletes = append(deletes, DeleteRangeOp{ID: *it.deletedBy, Target: it.id, Length: it.length})
	}
	return inserts, deletes
}
