// Package wire implements the framed, doc-multiplexed binary protocol that
// carries sync traffic between the relay and its clients. A frame is never
// self-delimited past its own contents: the transport (a WebSocket binary
// message) supplies the frame boundary.
package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// MsgType identifies the kind of frame on the wire.
type MsgType uint8

const (
	SyncStep1 MsgType = 0
	SyncStep2 MsgType = 1
	Update    MsgType = 2
)

func (t MsgType) String() string {
	switch t {
	case SyncStep1:
		return "SYNC_STEP_1"
	case SyncStep2:
		return "SYNC_STEP_2"
	case Update:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// MaxDocIDLen is the largest doc_id the wire format can represent; the
// length prefix is a u16.
const MaxDocIDLen = 65535

// Frame is a decoded wire message.
type Frame struct {
	Type    MsgType
	DocID   string
	Payload []byte
}

// Encode lays out a frame as:
//
//	offset 0   : u8  msg_type
//	offset 1   : u16 doc_id_length (big-endian)
//	offset 3   : doc_id bytes
//	offset 3+N : payload
//
// Encode never fails. Callers must keep len(docID) <= MaxDocIDLen; a longer
// doc_id is silently truncated to the declared length's worth of bytes, since
// every caller in this codebase derives doc_id from validated sources.
func Encode(t MsgType, docID string, payload []byte) []byte {
	db := []byte(docID)
	if len(db) > MaxDocIDLen {
		db = db[:MaxDocIDLen]
	}

	out := make([]byte, 3+len(db)+len(payload))
	out[0] = byte(t)
	binary.BigEndian.PutUint16(out[1:3], uint16(len(db)))
	copy(out[3:], db)
	copy(out[3+len(db):], payload)
	return out
}

// Decode parses a frame produced by Encode. It returns ok=false when the
// frame is too short, the declared doc_id length overruns the buffer, or the
// doc_id bytes are not valid UTF-8. Decode never panics on malformed input.
func Decode(frame []byte) (f Frame, ok bool) {
	if len(frame) < 3 {
		return Frame{}, false
	}

	n := binary.BigEndian.Uint16(frame[1:3])
	end := 3 + int(n)
	if end > len(frame) {
		return Frame{}, false
	}

	docID := frame[3:end]
	if !utf8.Valid(docID) {
		return Frame{}, false
	}

	return Frame{
		Type:    MsgType(frame[0]),
		DocID:   string(docID),
		Payload: frame[end:],
	}, true
}
