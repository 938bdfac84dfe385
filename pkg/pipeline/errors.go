package pipeline

import "errors"

// Pipeline error taxonomy. Every failed call wraps exactly one of
// these sentinels; there is no partial success.
var (
	// ErrEncodingFailure signals that the selector produced no
	// candidate at all. The raw floor makes this unreachable in a
	// correct build, so it indicates a pipeline bug.
	ErrEncodingFailure = errors.New("encoding failure")

	// ErrDecodingMismatch signals a malformed or inconsistent
	// payload. The message is dropped, never silently corrupted.
	ErrDecodingMismatch = errors.New("decoding mismatch")

	// ErrStoreInconsistency signals a failed hot reload or
	// promotion. It never surfaces on the message path; the
	// previous snapshot stays live.
	ErrStoreInconsistency = errors.New("store inconsistency")

	// ErrAuditSinkFailure signals a failed audit append in strict
	// compliance mode.
	ErrAuditSinkFailure = errors.New("audit sink failure")
)
