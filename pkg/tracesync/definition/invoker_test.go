package definition

import (
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestDefaultInvoker_StopWaitsForAllSpawned(t *testing.T) {
	defer goleak.VerifyNone(t)

	invoker := NewDefaultInvoker()
	var completed int32
	for i := 0; i < 8; i++ {
		invoker.Spawn(func() {
			atomic.AddInt32(&completed, 1)
		})
	}
	invoker.Stop()

	if got := atomic.LoadInt32(&completed); got != 8 {
		t.Fatalf("expected all 8 spawned goroutines to complete, got %d", got)
	}
}
