package fuzzy

import (
	"math/rand"
	"testing"

	tctest "github.com/jabolina/tracesync/test"
)

// TestFuzzy_BackwardAmortizationNonDecrease checks the P8 property: every
// corrected timestamp produced with backward amortization enabled is at
// least the corresponding timestamp produced with it disabled — the pass
// only ever raises earlier events, never lowers them.
func TestFuzzy_BackwardAmortizationNonDecrease(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for iter := 0; iter < 30; iter++ {
		minEventDiff := uint64(r.Intn(10))
		minMsgDelay := uint64(5 + r.Intn(100))
		init0 := uint64(r.Intn(1000))
		init1 := uint64(r.Intn(1000))

		specs := pingPongTrace(r, init0, init1)
		inits := []uint64{init0, init1}

		withBack := tctest.NewConfig(minEventDiff, minMsgDelay)
		withBack.BackwardAmort = true
		withoutBack := tctest.NewConfig(minEventDiff, minMsgDelay)
		withoutBack.BackwardAmort = false

		onOut, err := tctest.RunSequential(specs, withBack)
		if err != nil {
			t.Fatalf("iter %d: backward-amort run: %v", iter, err)
		}
		offOut, err := tctest.RunSequential(specs, withoutBack)
		if err != nil {
			t.Fatalf("iter %d: no-backward-amort run: %v", iter, err)
		}

		for p := range onOut {
			headerLen := len(tctest.BuildProcess(inits[p], nil))
			onEvents := decodeEvents(t, onOut[p], headerLen)
			offEvents := decodeEvents(t, offOut[p], headerLen)
			if len(onEvents) != len(offEvents) {
				t.Fatalf("iter %d process %d: event count mismatch %d vs %d", iter, p, len(onEvents), len(offEvents))
			}
			for i := range onEvents {
				if onEvents[i].Time < offEvents[i].Time {
					t.Fatalf("iter %d process %d event %d: backward-amortized time %d < baseline %d",
						iter, p, i, onEvents[i].Time, offEvents[i].Time)
				}
			}
		}
	}
}
