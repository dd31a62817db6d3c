package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// tokenSize returns the byte size of one token header (pointer-size bytes
// for the token pointer, followed by a 4-byte place id), as selected by the
// .kth's pointer-size attribute.
func tokenSize(pointerSize int) int {
	return pointerSize + 4
}

// Reader is a forward-only cursor over one process's .ktt event stream. It
// has no notion of time offsets or corrected timestamps — those are
// synchronizer state — and only ever reads forward, never rewinding past a
// point it has already yielded to the caller. PeekTopKind and
// PeekReceiveSender look ahead without moving the cursor.
type Reader struct {
	data        []byte
	pos         int
	pointerSize int
	processID   uint32
}

// NewReader builds a Reader over the event stream that follows a parsed
// ProcessHeader.
func NewReader(data []byte, offset int, pointerSize int, processID uint32) *Reader {
	return &Reader{
		data:        data,
		pos:         offset,
		pointerSize: pointerSize,
		processID:   processID,
	}
}

// AtEnd reports whether every byte of the stream has been consumed.
func (r *Reader) AtEnd() bool {
	return r.pos >= len(r.data)
}

// Offset returns the current byte position, useful for progress reporting
// and error diagnostics.
func (r *Reader) Offset() int {
	return r.pos
}

// Len returns the total length of the underlying stream, for progress
// percentage reporting.
func (r *Reader) Len() int {
	return len(r.data)
}

// PeekTopKind returns the kind byte of the next top-level record without
// consuming it. Top-level records are T, F, R, S, I, Q, or H. M and N sends
// normally appear nested inside a T, F, or R record's token-add stream; one
// that does not (for example a send that opens the stream) is read as a
// top-level record of its own. X and the token sub-records only ever appear
// nested.
func (r *Reader) PeekTopKind() (types.Kind, bool) {
	if r.AtEnd() {
		return 0, false
	}
	return types.Kind(r.data[r.pos]), true
}

// PeekReceiveSender inspects the next top-level record and, if it is a
// receive, returns its origin process id without advancing the cursor.
func (r *Reader) PeekReceiveSender() (uint32, bool, error) {
	kind, ok := r.PeekTopKind()
	if !ok || kind != types.KindReceive {
		return 0, false, nil
	}
	if r.pos+1+8+4 > len(r.data) {
		return 0, false, fmt.Errorf("%w: process %d offset %d: truncated receive header",
			types.ErrTruncatedRecord, r.processID, r.pos)
	}
	origin := binary.LittleEndian.Uint32(r.data[r.pos+1+8 : r.pos+1+8+4])
	return origin, true, nil
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("%w: process %d offset %d: need %d bytes, have %d",
			types.ErrTruncatedRecord, r.processID, r.pos, n, len(r.data)-r.pos)
	}
	return nil
}

func (r *Reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) readCString() (string, error) {
	start := r.pos
	for {
		if r.pos >= len(r.data) {
			return "", fmt.Errorf("%w: process %d offset %d: unterminated string",
				types.ErrTruncatedRecord, r.processID, start)
		}
		if r.data[r.pos] == 0 {
			s := string(r.data[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
}

// ReadLogicalEvent consumes one top-level event and every sub-record that
// cascades out of it (quit, embedded sends, token streams, end-of-event),
// returning every resulting Record in file order. The caller (the
// synchronizer) applies Clock Repair to each Record independently, matching
// the reference implementation's one-correction-per-append_time behavior.
func (r *Reader) ReadLogicalEvent() ([]Record, error) {
	kind, err := r.readByte()
	if err != nil {
		return nil, err
	}

	switch types.Kind(kind) {
	case types.KindTransitionFired:
		return r.readFired()
	case types.KindTransitionFinished:
		return r.readFinished()
	case types.KindReceive:
		return r.readReceive()
	case types.KindSpawn:
		return r.readSpawn()
	case types.KindIdle:
		return r.readIdle()
	case types.KindQuit, types.KindQuitLegacy:
		records, err := r.readQuit()
		if err != nil {
			return nil, err
		}
		records[0].Kind = types.Kind(kind)
		return records, nil
	case types.KindSend, types.KindMultiSend:
		r.pos--
		rec, err := r.readSend(types.Kind(kind))
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	default:
		return nil, fmt.Errorf("%w: process %d offset %d: kind %q",
			types.ErrUnknownEventKind, r.processID, r.pos-1, kind)
	}
}

func (r *Reader) readTimeAndPayload(fieldsLen int, readFields func() error) (uint64, []byte, error) {
	start := r.pos
	time, err := r.readUint64()
	if err != nil {
		return 0, nil, err
	}
	if readFields != nil {
		if err := readFields(); err != nil {
			return 0, nil, err
		}
	}
	return time, r.data[start+8 : r.pos], nil
}

func (r *Reader) readFired() ([]Record, error) {
	var transitionID uint32
	time, payload, err := r.readTimeAndPayload(0, func() error {
		id, err := r.readUint32()
		if err != nil {
			return err
		}
		transitionID = id
		return r.skipTypedValueStream()
	})
	if err != nil {
		return nil, err
	}
	records := []Record{{Kind: types.KindTransitionFired, OriginalTime: time, Payload: payload, OriginID: transitionID}}

	quit, err := r.maybeReadQuit()
	if err != nil {
		return nil, err
	}
	records = append(records, quit...)

	tokenAdd, err := r.readTokenAddStream()
	if err != nil {
		return nil, err
	}
	records = append(records, tokenAdd...)

	end, err := r.maybeReadEnd()
	if err != nil {
		return nil, err
	}
	records = append(records, end...)
	return records, nil
}

func (r *Reader) readFinished() ([]Record, error) {
	time, payload, err := r.readTimeAndPayload(0, nil)
	if err != nil {
		return nil, err
	}
	records := []Record{{Kind: types.KindTransitionFinished, OriginalTime: time, Payload: payload}}

	quit, err := r.maybeReadQuit()
	if err != nil {
		return nil, err
	}
	records = append(records, quit...)

	tokenAdd, err := r.readTokenAddStream()
	if err != nil {
		return nil, err
	}
	records = append(records, tokenAdd...)

	end, err := r.maybeReadEnd()
	if err != nil {
		return nil, err
	}
	records = append(records, end...)
	return records, nil
}

func (r *Reader) readReceive() ([]Record, error) {
	var origin uint32
	time, payload, err := r.readTimeAndPayload(0, func() error {
		id, err := r.readUint32()
		if err != nil {
			return err
		}
		origin = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := []Record{{Kind: types.KindReceive, OriginalTime: time, Payload: payload, OriginID: origin}}

	tokenAdd, err := r.readTokenAddStream()
	if err != nil {
		return nil, err
	}
	records = append(records, tokenAdd...)

	end, err := r.maybeReadEnd()
	if err != nil {
		return nil, err
	}
	records = append(records, end...)
	return records, nil
}

func (r *Reader) readSpawn() ([]Record, error) {
	var netID uint32
	time, payload, err := r.readTimeAndPayload(0, func() error {
		id, err := r.readUint32()
		if err != nil {
			return err
		}
		netID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	records := []Record{{Kind: types.KindSpawn, OriginalTime: time, Payload: payload, OriginID: netID}}

	tokenAdd, err := r.readTokenAddStream()
	if err != nil {
		return nil, err
	}
	records = append(records, tokenAdd...)
	return records, nil
}

func (r *Reader) readIdle() ([]Record, error) {
	time, payload, err := r.readTimeAndPayload(0, nil)
	if err != nil {
		return nil, err
	}
	return []Record{{Kind: types.KindIdle, OriginalTime: time, Payload: payload}}, nil
}

func (r *Reader) readQuit() ([]Record, error) {
	time, payload, err := r.readTimeAndPayload(0, nil)
	if err != nil {
		return nil, err
	}
	return []Record{{Kind: types.KindQuit, OriginalTime: time, Payload: payload}}, nil
}

// maybeReadQuit consumes an embedded "Q" quit sub-record if present.
func (r *Reader) maybeReadQuit() ([]Record, error) {
	kind, ok := r.PeekTopKind()
	if !ok || kind != types.KindQuit {
		return nil, nil
	}
	if _, err := r.readByte(); err != nil {
		return nil, err
	}
	return r.readQuit()
}

// maybeReadEnd consumes the embedded "X" end-of-event sub-record if
// present.
func (r *Reader) maybeReadEnd() ([]Record, error) {
	kind, ok := r.PeekTopKind()
	if !ok || kind != types.KindEnd {
		return nil, nil
	}
	if _, err := r.readByte(); err != nil {
		return nil, err
	}
	time, payload, err := r.readTimeAndPayload(0, nil)
	if err != nil {
		return nil, err
	}
	return []Record{{Kind: types.KindEnd, OriginalTime: time, Payload: payload}}, nil
}

// skipTypedValueStream consumes the i/d/s/r typed-value stream embedded in
// a transition-fired record, stopping at the first byte that isn't one of
// those tags.
func (r *Reader) skipTypedValueStream() error {
	for {
		kind, ok := r.PeekTopKind()
		if !ok {
			return nil
		}
		switch kind {
		case types.KindTokenInt:
			if _, err := r.readByte(); err != nil {
				return err
			}
			if _, err := r.readUint32(); err != nil {
				return err
			}
		case types.KindTokenDouble:
			if _, err := r.readByte(); err != nil {
				return err
			}
			if err := r.need(8); err != nil {
				return err
			}
			r.pos += 8
		case types.KindTokenString:
			if _, err := r.readByte(); err != nil {
				return err
			}
			if _, err := r.readCString(); err != nil {
				return err
			}
		case types.KindTokenRemove:
			if _, err := r.readByte(); err != nil {
				return err
			}
			if err := r.need(tokenSize(r.pointerSize)); err != nil {
				return err
			}
			r.pos += tokenSize(r.pointerSize)
		default:
			return nil
		}
	}
}

// readTokenAddStream consumes the token-add stream: zero or more token
// headers each followed by i/d/s values, with embedded "M" sends
// interleaved anywhere in the stream. Stops at the first byte that isn't
// t/i/d/s/M/N.
func (r *Reader) readTokenAddStream() ([]Record, error) {
	var records []Record
	for {
		kind, ok := r.PeekTopKind()
		if !ok {
			return records, nil
		}
		switch kind {
		case types.KindTokenAdd:
			if _, err := r.readByte(); err != nil {
				return nil, err
			}
			if err := r.need(tokenSize(r.pointerSize)); err != nil {
				return nil, err
			}
			r.pos += tokenSize(r.pointerSize)
		case types.KindTokenInt:
			if _, err := r.readByte(); err != nil {
				return nil, err
			}
			if _, err := r.readUint32(); err != nil {
				return nil, err
			}
		case types.KindTokenDouble:
			if _, err := r.readByte(); err != nil {
				return nil, err
			}
			if err := r.need(8); err != nil {
				return nil, err
			}
			r.pos += 8
		case types.KindTokenString:
			if _, err := r.readByte(); err != nil {
				return nil, err
			}
			if _, err := r.readCString(); err != nil {
				return nil, err
			}
		case types.KindSend, types.KindMultiSend:
			rec, err := r.readSend(kind)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		default:
			return records, nil
		}
	}
}

func (r *Reader) readSend(kind types.Kind) (Record, error) {
	if _, err := r.readByte(); err != nil {
		return Record{}, err
	}
	var targets []uint32
	time, payload, err := r.readTimeAndPayload(0, func() error {
		if err := r.need(8 + 4 + 4); err != nil {
			return err
		}
		r.pos += 8 // size
		r.pos += 4 // edge id
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		targets = make([]uint32, count)
		for i := range targets {
			id, err := r.readUint32()
			if err != nil {
				return err
			}
			targets[i] = id
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return Record{Kind: kind, OriginalTime: time, Payload: payload, TargetIDs: targets}, nil
}
