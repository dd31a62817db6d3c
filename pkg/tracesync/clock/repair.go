// Package clock implements Clock Repair: the two pure timestamp-correction
// functions that every per-process synchronizer drives one event at a time.
package clock

// State is the subset of a synchronizer's bookkeeping that Clock Repair
// reads and mutates. It is deliberately narrow — the synchronizer owns the
// rest of its state (data_list, send_events, ...) and only hands Clock
// Repair what it needs to compute one corrected timestamp.
type State struct {
	// LastEventTime is the last corrected timestamp emitted by this
	// process, across both internal and receive events. Zero doubles as
	// "no previous event yet" — a literal carry-over from the reference
	// implementation's sentinel, including its quirk that a genuine
	// corrected time of exactly 0 is indistinguishable from "unset" (see
	// DESIGN.md).
	LastEventTime uint64

	// LastRecvEventTime is the last corrected receive timestamp emitted
	// by this process.
	LastRecvEventTime uint64

	// TimeOffset is mutated by forward amortization; the caller applies
	// it to raw timestamps before calling into this package.
	TimeOffset uint64
}

// Config carries the two run-wide thresholds Clock Repair enforces.
type Config struct {
	MinEventDiff uint64
	MinMsgDelay  uint64
}

// Internal computes the corrected timestamp for a non-receive event. tRaw
// must already have the process's time offset added. It mutates
// state.LastEventTime and returns the corrected time.
func Internal(tRaw uint64, state *State, cfg Config) uint64 {
	var corrected uint64
	if state.LastEventTime == 0 {
		corrected = tRaw
	} else {
		corrected = max64(tRaw, state.LastEventTime+cfg.MinEventDiff)
	}
	state.LastEventTime = corrected
	return corrected
}

// ReceiveResult reports what Receive computed, so the caller can decide
// whether to run forward/backward amortization without recomputing the
// floor or the delta.
type ReceiveResult struct {
	Corrected uint64
	// Delta is Corrected - tRaw; positive exactly when the receive had to
	// be pushed forward (a "violating" receive).
	Delta int64
}

// Receive computes the corrected timestamp for a receive event. tRaw must
// already have the process's time offset added; sentTime is the paired
// send's own corrected timestamp. It mutates state.LastEventTime and
// state.LastRecvEventTime.
func Receive(tRaw uint64, sentTime uint64, state *State, cfg Config) ReceiveResult {
	floor := sentTime + cfg.MinMsgDelay

	var corrected uint64
	if state.LastEventTime == 0 {
		corrected = max64(floor, tRaw)
	} else {
		corrected = max64(floor, max64(tRaw, state.LastEventTime+cfg.MinEventDiff))
	}

	state.LastEventTime = corrected
	state.LastRecvEventTime = corrected

	return ReceiveResult{
		Corrected: corrected,
		Delta:     int64(corrected) - int64(tRaw),
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
