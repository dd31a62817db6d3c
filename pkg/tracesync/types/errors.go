package types

import "errors"

// Sentinel errors surfaced by the Trace Reader, Clock Repair, and the
// coordinators. All are fatal: the engine is a batch tool, nothing here is
// retried or recovered.
var (
	// ErrMalformedHeader is returned when a .kth or .ktt header cannot be
	// parsed (invalid XML, missing pointer-size, missing KairaThreadTrace
	// marker).
	ErrMalformedHeader = errors.New("tracesync: malformed trace header")

	// ErrUnknownEventKind is returned when the reader encounters a kind
	// byte outside the closed set of event kinds.
	ErrUnknownEventKind = errors.New("tracesync: unknown event kind")

	// ErrTruncatedRecord is returned when a record's declared size runs
	// past the end of the trace data.
	ErrTruncatedRecord = errors.New("tracesync: truncated record")

	// ErrUnpairedReceive is returned when a receive event is processed
	// with no paired send available. Reaching this indicates a corrupt
	// trace or a coordinator bug; it should be unreachable in correct
	// operation.
	ErrUnpairedReceive = errors.New("tracesync: receive has no paired send")

	// ErrBackAmortDrainFailed is returned when the parallel coordinator
	// cannot drain an outstanding back-amortization receive handle.
	ErrBackAmortDrainFailed = errors.New("tracesync: failed draining back-amortization handle")

	// ErrInvalidPointerSize is returned for a pointer-size other than 4
	// or 8.
	ErrInvalidPointerSize = errors.New("tracesync: invalid pointer size")
)
