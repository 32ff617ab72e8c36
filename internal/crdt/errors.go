package crdt

import "errors"

// ErrWrongKind is returned when a text-only or map-only operation is
// invoked on a Doc of the other kind.
var ErrWrongKind = errors.New("crdt: operation not valid for this document kind")
