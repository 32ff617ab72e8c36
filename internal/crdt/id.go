package crdt

import (
	"bytes"
	"encoding/gob"
	"math/rand/v2"
)

// ID names a single causal unit of work: one byte of inserted text, one
// text delete-range operation, or one map mutation, all produced by
// replica Client at local sequence number Clock. IDs are never reused.
type ID struct {
	Client uint64
	Clock  uint64
}

// NewClientID returns a fresh, effectively-unique replica identifier for a
// document handle. Syncline does not persist replica identity across
// restarts: a new random ID per process run is sufficient for the RGA/LWW
// algorithms below, which only need IDs to be distinct and totally ordered,
// not stable.
func NewClientID() uint64 {
	return rand.Uint64()
}

// StateVector summarizes everything a replica has seen: for each
// contributing client, the next clock value it has NOT yet seen (i.e. the
// count of clocks already applied). It only grows (invariant I2).
type StateVector map[uint64]uint64

// Get returns the next-expected clock for client, 0 if unknown.
func (sv StateVector) Get(client uint64) uint64 {
	return sv[client]
}

// Clone returns an independent copy.
func (sv StateVector) Clone() StateVector {
	out := make(StateVector, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// advance records that client's clocks [0, upTo) have now been seen, never
// moving the counter backwards.
func (sv StateVector) advance(client, upTo uint64) {
	if upTo > sv[client] {
		sv[client] = upTo
	}
}

// covers reports whether the clock range [start, start+length) for client
// is already entirely known to sv.
func (sv StateVector) covers(client, start, length uint64) bool {
	return start+length <= sv[client]
}

// EncodeStateVector serializes sv for the sv_bytes payload of a
// SYNC_STEP_1 frame, using the same gob encoding as Update for consistency.
func EncodeStateVector(sv StateVector) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(sv)
	return buf.Bytes()
}

// DecodeStateVector parses bytes produced by EncodeStateVector. An empty or
// malformed payload decodes to an empty state vector — a peer presenting a
// corrupt state vector is treated the same as a brand new peer that has seen
// nothing, which is always a safe (if possibly redundant) response.
func DecodeStateVector(data []byte) StateVector {
	sv := StateVector{}
	if len(data) == 0 {
		return sv
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sv); err != nil {
		return StateVector{}
	}
	return sv
}
