// Package fuzzy runs randomized multi-process traces through both
// coordinators and checks the testable invariants from the specification
// hold of the output, mirroring this module's ancestry's fuzzy package
// (randomized command sequences driven through a real cluster, checked with
// goleak after shutdown) adapted from atomic-broadcast replicas to
// trace-synchronization processes.
package fuzzy

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/jabolina/tracesync/pkg/tracesync/types"
	tctest "github.com/jabolina/tracesync/test"
)

// pingPongTrace builds a fixed two-process causal topology — P0 fires a few
// transitions, sends to P1, fires a few more, then receives P1's reply;
// P1 receives P0's send, fires a few transitions, then replies — with
// random timestamp jitter and transition ids, so the send/receive pairing
// is always well-formed (no generated trace can deadlock a coordinator)
// while individual timestamps still vary run to run.
func pingPongTrace(r *rand.Rand, init0, init1 uint64) []tctest.ProcessSpec {
	next := func(cur uint64) uint64 {
		return cur + 1 + uint64(r.Intn(20))
	}
	randomFires := func(buf *bytes.Buffer, t *uint64, n int) {
		for i := 0; i < n; i++ {
			*t = next(*t)
			tctest.WriteFired(buf, *t, uint32(r.Intn(100)))
		}
	}

	var p0, p1 bytes.Buffer
	var t0, t1 uint64

	randomFires(&p0, &t0, r.Intn(3))
	t0 = next(t0)
	sendTime := t0
	tctest.WriteSend(&p0, types.KindSend, sendTime, []uint32{1})
	randomFires(&p0, &t0, r.Intn(3))
	t0 = next(t0)
	tctest.WriteReceive(&p0, t0, 1)
	randomFires(&p0, &t0, r.Intn(2))

	randomFires(&p1, &t1, r.Intn(3))
	t1 = next(t1)
	tctest.WriteReceive(&p1, t1, 0)
	randomFires(&p1, &t1, r.Intn(3))
	t1 = next(t1)
	tctest.WriteSend(&p1, types.KindSend, t1, []uint32{0})
	randomFires(&p1, &t1, r.Intn(2))

	return []tctest.ProcessSpec{
		{InitTime: init0, Events: p0.Bytes()},
		{InitTime: init1, Events: p1.Bytes()},
	}
}

// decodeEvents walks one process's serialized export and returns its
// sequence of (kind, correctedTime) pairs, skipping the header bytes, for
// invariant checks that don't need a full Reader.
func decodeEvents(t *testing.T, data []byte, headerLen int) []struct {
	Kind types.Kind
	Time uint64
} {
	t.Helper()
	var out []struct {
		Kind types.Kind
		Time uint64
	}
	pos := headerLen
	for pos < len(data) {
		kind := types.Kind(data[pos])
		pos++
		if pos+8 > len(data) {
			t.Fatalf("truncated corrected time at offset %d", pos)
		}
		var timeVal uint64
		for i := 7; i >= 0; i-- {
			timeVal = timeVal<<8 | uint64(data[pos+i])
		}
		out = append(out, struct {
			Kind types.Kind
			Time uint64
		}{Kind: kind, Time: timeVal})
		pos += 8
		pos += payloadLen(kind)
	}
	return out
}

// payloadLen returns how many payload bytes follow the timestamp for the
// record kinds this package's generator ever emits.
func payloadLen(kind types.Kind) int {
	switch kind {
	case types.KindTransitionFired:
		return 4
	case types.KindSend, types.KindMultiSend:
		return 8 + 4 + 4 + 4 // size + edge id + count + one target id
	case types.KindReceive:
		return 4
	default:
		return 0
	}
}

func TestFuzzy_SequentialInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for iter := 0; iter < 40; iter++ {
		minEventDiff := uint64(r.Intn(20))
		minMsgDelay := uint64(r.Intn(50))
		init0 := uint64(r.Intn(1000))
		init1 := uint64(r.Intn(1000))

		specs := pingPongTrace(r, init0, init1)
		cfg := tctest.NewConfig(minEventDiff, minMsgDelay)

		out, err := tctest.RunSequential(specs, cfg)
		if err != nil {
			t.Fatalf("iter %d: run: %v", iter, err)
		}

		inits := []uint64{init0, init1}
		sendTime := make([]uint64, len(out))
		recvTime := make([]uint64, len(out))
		for p, data := range out {
			headerLen := len(tctest.BuildProcess(inits[p], nil))
			events := decodeEvents(t, data, headerLen)

			// P1: monotone spacing within a process.
			for i := 1; i < len(events); i++ {
				if events[i].Time < events[i-1].Time+minEventDiff {
					t.Fatalf("iter %d process %d: spacing violated at event %d: %d -> %d (min %d)",
						iter, p, i, events[i-1].Time, events[i].Time, minEventDiff)
				}
			}
			for _, e := range events {
				switch e.Kind {
				case types.KindSend, types.KindMultiSend:
					sendTime[p] = e.Time
				case types.KindReceive:
					recvTime[p] = e.Time
				}
			}
		}

		// P2: the fixed two-process ping-pong topology pairs P0's receive
		// with P1's send and vice versa.
		if recvTime[0] < sendTime[1]+minMsgDelay {
			t.Fatalf("iter %d: P0's receive at %d precedes P1's send %d + delay %d",
				iter, recvTime[0], sendTime[1], minMsgDelay)
		}
		if recvTime[1] < sendTime[0]+minMsgDelay {
			t.Fatalf("iter %d: P1's receive at %d precedes P0's send %d + delay %d",
				iter, recvTime[1], sendTime[0], minMsgDelay)
		}
	}
}
