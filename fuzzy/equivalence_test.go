package fuzzy

import (
	"bytes"
	"math/rand"
	"testing"

	"go.uber.org/goleak"

	tctest "github.com/jabolina/tracesync/test"
)

// TestFuzzy_SequentialParallelEquivalence checks the P7 property: the
// sequential coordinator and the parallel coordinator (driven here over an
// in-memory transport instead of a real relt cluster, one goroutine per
// rank) must produce byte-identical output for the same inputs and
// parameters.
func TestFuzzy_SequentialParallelEquivalence(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := rand.New(rand.NewSource(2))
	for iter := 0; iter < 20; iter++ {
		minEventDiff := uint64(r.Intn(20))
		minMsgDelay := uint64(r.Intn(50))
		init0 := uint64(r.Intn(1000))
		init1 := uint64(r.Intn(1000))

		specs := pingPongTrace(r, init0, init1)

		seqOut, err := tctest.RunSequential(specs, tctest.NewConfig(minEventDiff, minMsgDelay))
		if err != nil {
			t.Fatalf("iter %d: sequential run: %v", iter, err)
		}
		parOut, err := tctest.RunParallelInMemory(specs, tctest.NewConfig(minEventDiff, minMsgDelay))
		if err != nil {
			t.Fatalf("iter %d: parallel run: %v", iter, err)
		}

		if len(seqOut) != len(parOut) {
			t.Fatalf("iter %d: process count mismatch: %d vs %d", iter, len(seqOut), len(parOut))
		}
		for p := range seqOut {
			if !bytes.Equal(seqOut[p], parOut[p]) {
				t.Fatalf("iter %d process %d: sequential and parallel output diverge", iter, p)
			}
		}
	}
}
