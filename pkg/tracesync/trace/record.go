package trace

import "github.com/jabolina/tracesync/pkg/tracesync/types"

// Record is one raw entry read off the wire, in original-file order, before
// Clock Repair has touched its timestamp. A single logical event (a
// transition fire, finish, receive, or spawn) can expand into several
// Records, since quit/send/end sub-records cascade out of the same cursor
// advance — exactly as in the reference trace format.
type Record struct {
	Kind types.Kind

	// OriginalTime is the raw 64-bit timestamp as stored in the trace,
	// not yet adjusted by any process time offset.
	OriginalTime uint64

	// Payload is the verbatim byte range following the timestamp field,
	// preserved untouched into the rewritten output.
	Payload []byte

	// TargetIDs is populated for Send/MultiSend records: the recipients
	// this send fans out to.
	TargetIDs []uint32

	// OriginID is populated for Receive records: the sender's process id.
	OriginID uint32
}
