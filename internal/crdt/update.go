package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// InsertOp inserts Content as a contiguous byte-run starting at ID, anchored
// between OriginLeft and OriginRight (nil means "start of sequence" /
// "end of sequence" respectively).
type InsertOp struct {
	ID          ID
	OriginLeft  *ID
	OriginRight *ID
	Content     []byte
}

func (op InsertOp) length() uint64 { return uint64(len(op.Content)) }

// DeleteRangeOp tombstones the byte range [Target.Clock, Target.Clock+Length)
// originally produced by Target.Client. It carries its own ID so that the
// operation itself is represented in state vectors and replayed exactly
// once, even though deleting is naturally idempotent.
type DeleteRangeOp struct {
	ID     ID
	Target ID
	Length uint64
}

// SetOp assigns Value to Key as of ID.
type SetOp struct {
	ID    ID
	Key   string
	Value []byte
}

// DelOp removes Key, but only if the entry currently visible under Key is
// still the one produced by Target — an add-wins, observed-remove delete.
// A concurrent Set that produced a different ID silently survives.
type DelOp struct {
	ID     ID
	Key    string
	Target ID
}

// Update is a self-contained, replayable bundle of operations: either a
// single local mutation or a differential export computed against a state
// vector. Updates commute, associate, and apply idempotently regardless of
// delivery order (invariant I1/I3).
type Update struct {
	Inserts []InsertOp
	Deletes []DeleteRangeOp
	Sets    []SetOp
	Dels    []DelOp
}

// Empty reports whether the update carries no operations.
func (u Update) Empty() bool {
	return len(u.Inserts) == 0 && len(u.Deletes) == 0 && len(u.Sets) == 0 && len(u.Dels) == 0
}

// Encode serializes an update to the byte string stored in the update log,
// persisted to disk snapshots, and carried inside UPDATE/SYNC_STEP_2 wire
// payloads. gob is used rather than a JSON encoder (the corpus's sonic,
// goccy/go-json, json-iterator are all JSON-shaped and a poor fit for a
// compact binary op-log): it is the standard library's idiomatic choice for
// a Go-to-Go-only binary wire format, and no third-party binary codec in the
// retrieved corpus serves this narrower need.
func Encode(u Update) []byte {
	var buf bytes.Buffer
	// gob never fails to encode a plain struct of these shapes.
	_ = gob.NewEncoder(&buf).Encode(u)
	return buf.Bytes()
}

// Decode parses bytes produced by Encode. A malformed update (wire
// corruption, truncated snapshot) returns an error describing the failure;
// callers treat this as a per-message CRDT apply failure per the error
// taxonomy and skip the update rather than aborting their loop.
func Decode(data []byte) (Update, error) {
	var u Update
	if len(data) == 0 {
		return u, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("crdt: decode update: %w", err)
	}
	return u, nil
}
