// Package core implements the per-process Synchronizer and the two
// coordinators (sequential, parallel) that drive a set of Synchronizers
// through a causally-consistent rewrite of their event streams.
package core

import (
	"fmt"

	"github.com/jabolina/tracesync/pkg/tracesync/clock"
	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// SendEmission is one outbound message a ProcessEvent/ProcessReceive call
// produced: a corrected send time addressed to one recipient process. The
// coordinator is responsible for routing it, since only the coordinator
// knows the transport (a FIFO matrix, or a tagged transport peer).
type SendEmission struct {
	Target uint32
	Time   uint64
}

// Synchronizer owns one process's trace.Reader and clock.State and rewrites
// that process's event stream into data_list, the in-memory sequence of
// corrected Events later serialized by trace.ExportBytes. It never talks to
// other processes directly — a coordinator supplies paired send times and
// collects emitted sends.
type Synchronizer struct {
	processID uint32
	reader    *trace.Reader
	header    trace.ProcessHeader

	clockState clock.State
	clockCfg   clock.Config
	cfg        *types.Configuration

	dataList []*types.Event

	sendEvents    *OrderedMap[[]*types.SendDescriptor]
	violatingRecv *OrderedMap[int64]

	// lastViolatingRecvIndex is the data_list index of the most recent
	// violating receive, or -1 if none has occurred yet.
	lastViolatingRecvIndex int

	// lastProgressDecile is the last 10%-of-trace-bytes boundary already
	// logged, so progress is reported once per decile instead of once per
	// event.
	lastProgressDecile int

	log types.Logger
}

// NewSynchronizer builds a Synchronizer over one process's parsed header and
// event-stream bytes.
func NewSynchronizer(processID uint32, data []byte, header trace.ProcessHeader, pointerSize int, cfg *types.Configuration) *Synchronizer {
	return &Synchronizer{
		processID:              processID,
		reader:                 trace.NewReader(data, header.Offset, pointerSize, processID),
		header:                 header,
		clockCfg:               clock.Config{MinEventDiff: cfg.MinEventDiff, MinMsgDelay: cfg.MinMsgDelay},
		cfg:                    cfg,
		sendEvents:             NewOrderedMap[[]*types.SendDescriptor](),
		violatingRecv:          NewOrderedMap[int64](),
		lastViolatingRecvIndex: -1,
		log:                    cfg.Logger,
	}
}

// GetInitTime returns the process's unadjusted inittime header field.
func (s *Synchronizer) GetInitTime() uint64 {
	return s.header.InitTime()
}

// SetTimeOffset fixes the process's starting time offset, computed by the
// coordinator from every process's init time in the run.
func (s *Synchronizer) SetTimeOffset(offset uint64) {
	s.clockState.TimeOffset = offset
}

// AtEnd reports whether the underlying stream is exhausted.
func (s *Synchronizer) AtEnd() bool {
	return s.reader.AtEnd()
}

// NextEventKind peeks the next top-level event kind without consuming it.
func (s *Synchronizer) NextEventKind() (types.Kind, bool) {
	return s.reader.PeekTopKind()
}

// NextEventSenderIfReceive peeks the origin process id of the next event, if
// it is a receive.
func (s *Synchronizer) NextEventSenderIfReceive() (uint32, bool, error) {
	return s.reader.PeekReceiveSender()
}

// LastRecvEventTime returns the most recently corrected receive timestamp,
// used by a coordinator to refill the sender's SendDescriptor.
func (s *Synchronizer) LastRecvEventTime() uint64 {
	return s.clockState.LastRecvEventTime
}

// DataList exposes the corrected event sequence once processing has
// finished. Callers must not mutate the returned slice's elements except via
// DoBackwardAmortization.
func (s *Synchronizer) DataList() []*types.Event {
	return s.dataList
}

// ExportBytes serializes the corrected event stream for this process.
func (s *Synchronizer) ExportBytes() []byte {
	return trace.ExportBytes(s.header.Raw, s.dataList)
}

// Stats reports this process's rewritten event count, how many receives
// had to be pushed forward, and the total slack those violations injected,
// for the CLI layer to fold into run-wide metrics. Violating receives are
// only recorded when backward amortization is enabled; with it disabled the
// last two values are always zero.
func (s *Synchronizer) Stats() (events int, violatingReceives int, slackInjected int64) {
	var slack int64
	for _, key := range s.violatingRecv.Keys() {
		delta, _ := s.violatingRecv.Get(key)
		slack += delta
	}
	return len(s.dataList), s.violatingRecv.Len(), slack
}

// ProcessEvent consumes the next top-level event, which must not be a
// receive, applying internal Clock Repair to it and every sub-record it
// cascades (an embedded quit, token-add stream with embedded sends, and a
// trailing end marker). It returns one SendEmission per embedded send
// target, for the coordinator to route.
func (s *Synchronizer) ProcessEvent() ([]SendEmission, error) {
	records, err := s.reader.ReadLogicalEvent()
	if err != nil {
		return nil, err
	}
	return s.applyRecords(records, nil)
}

// ProcessReceive consumes the next top-level event, which must be a receive
// paired with sentTime (that send's own corrected timestamp, supplied by the
// coordinator). The receive's own record gets receive Clock Repair; any
// records it cascades (token-add stream, embedded sends, end marker) get
// ordinary internal Clock Repair, matching the reference implementation's
// per-append_time correction.
func (s *Synchronizer) ProcessReceive(sentTime uint64) ([]SendEmission, error) {
	records, err := s.reader.ReadLogicalEvent()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 || records[0].Kind != types.KindReceive {
		return nil, fmt.Errorf("tracesync: process %d: expected a receive record", s.processID)
	}
	return s.applyRecords(records, &sentTime)
}

// reportProgress logs a debug line every time the reader crosses a 10%
// boundary of the trace's total byte length, supplementing the reference
// implementation's per-event progress print without flooding the log.
func (s *Synchronizer) reportProgress() {
	total := s.reader.Len()
	if total == 0 {
		return
	}
	decile := (s.reader.Offset() * 10) / total
	if decile > s.lastProgressDecile {
		s.lastProgressDecile = decile
		s.log.Debugf("process %d: progress %d%%", s.processID, decile*10)
	}
}

func (s *Synchronizer) applyRecords(records []trace.Record, receiveSentTime *uint64) ([]SendEmission, error) {
	defer s.reportProgress()
	var emissions []SendEmission
	for i, rec := range records {
		tRaw := rec.OriginalTime + s.clockState.TimeOffset

		var corrected uint64
		if i == 0 && receiveSentTime != nil {
			result := clock.Receive(tRaw, *receiveSentTime, &s.clockState, s.clockCfg)
			corrected = result.Corrected

			if result.Delta > 0 {
				if s.cfg.ForwardAmort {
					s.clockState.TimeOffset += clock.ForwardAmortizationDelta(tRaw, corrected)
				}
				if s.cfg.BackwardAmort {
					s.violatingRecv.Set(corrected, result.Delta)
					s.lastViolatingRecvIndex = len(s.dataList)
				}
			}
		} else {
			corrected = clock.Internal(tRaw, &s.clockState, s.clockCfg)
		}

		event := &types.Event{
			Kind:          rec.Kind,
			OriginalTime:  rec.OriginalTime,
			CorrectedTime: corrected,
			Payload:       rec.Payload,
		}
		s.dataList = append(s.dataList, event)

		if rec.Kind == types.KindSend || rec.Kind == types.KindMultiSend {
			for _, target := range rec.TargetIDs {
				descriptor := &types.SendDescriptor{SentTime: corrected, ReceiverID: target}
				list, _ := s.sendEvents.Get(corrected)
				s.sendEvents.Set(corrected, append(list, descriptor))
				emissions = append(emissions, SendEmission{Target: target, Time: corrected})
			}
		}
	}
	return emissions, nil
}

// RefillReceivedTime records, on the sending side, how late a paired receive
// ended up landing: recvTime is the receiver's corrected timestamp for the
// message sent at sentTime to receiverID. It is used to compute the send's
// remaining slack (Offset) for backward amortization.
func (s *Synchronizer) RefillReceivedTime(sentTime uint64, recvTime uint64, receiverID uint32) {
	list, ok := s.sendEvents.Get(sentTime)
	if !ok {
		return
	}
	for _, d := range list {
		if d.ReceiverID == receiverID && !d.HasRecv {
			d.RecvTime = recvTime
			d.HasRecv = true
			d.Offset = int64(recvTime) - int64(s.cfg.MinMsgDelay) - int64(sentTime)
			return
		}
	}
}

// DoBackwardAmortization runs the post-pass backward amortization sweep: it
// collapses each send's descriptors to the one with least slack, then walks
// data_list backward from the event just before the most recent violating
// receive, shifting events by an offset that shrinks to whatever slack each
// send along the way still has, and grows again whenever an earlier
// violating receive is passed.
//
// This is the canonical post-pass form (see DESIGN.md); it does not
// replicate the reference parallel implementation's inline variant, which
// mutates send_events and calls back into peer processes mid-walk.
func (s *Synchronizer) DoBackwardAmortization() {
	if s.violatingRecv.Len() == 0 {
		return
	}

	for _, key := range s.sendEvents.Keys() {
		list, _ := s.sendEvents.Get(key)
		if len(list) <= 1 {
			continue
		}
		min := list[0]
		for _, d := range list[1:] {
			if d.Offset < min.Offset {
				min = d
			}
		}
		s.sendEvents.Set(key, []*types.SendDescriptor{min})
	}

	lastKey, _ := s.violatingRecv.LastKey()
	offset, _ := s.violatingRecv.Get(lastKey)

	for i := s.lastViolatingRecvIndex - 1; i >= 0; i-- {
		event := s.dataList[i]
		preShift := event.CorrectedTime

		if event.Kind == types.KindSend || event.Kind == types.KindMultiSend {
			if list, ok := s.sendEvents.Get(preShift); ok && len(list) > 0 {
				if maxOffset := list[0].Offset; maxOffset < offset {
					offset = maxOffset
				}
			}
		}

		event.CorrectedTime = uint64(int64(event.CorrectedTime) + offset)

		if event.Kind == types.KindReceive {
			if delta, ok := s.violatingRecv.Get(preShift); ok {
				offset += delta
			}
		}
	}
}
