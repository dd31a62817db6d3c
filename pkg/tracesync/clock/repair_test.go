package clock

import "testing"

func TestInternal_FirstEventPassesThrough(t *testing.T) {
	state := &State{}
	got := Internal(100, state, Config{MinEventDiff: 50})
	if got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if state.LastEventTime != 100 {
		t.Fatalf("expected LastEventTime 100, got %d", state.LastEventTime)
	}
}

func TestInternal_EnforcesMinimumGap(t *testing.T) {
	state := &State{LastEventTime: 100}
	got := Internal(110, state, Config{MinEventDiff: 50})
	if got != 150 {
		t.Fatalf("expected 150, got %d", got)
	}
}

func TestInternal_PassesThroughWhenAlreadySpaced(t *testing.T) {
	state := &State{LastEventTime: 100}
	got := Internal(200, state, Config{MinEventDiff: 50})
	if got != 200 {
		t.Fatalf("expected 200, got %d", got)
	}
}

func TestReceive_EnforcesMessageDelayFloor(t *testing.T) {
	state := &State{}
	res := Receive(101, 100, state, Config{MinMsgDelay: 10})
	if res.Corrected != 110 {
		t.Fatalf("expected 110, got %d", res.Corrected)
	}
	if res.Delta != 9 {
		t.Fatalf("expected delta 9, got %d", res.Delta)
	}
}

func TestReceive_FloorAndGapBothApply(t *testing.T) {
	state := &State{LastEventTime: 50}
	res := Receive(200, 0, state, Config{MinEventDiff: 50, MinMsgDelay: 5})
	if res.Corrected != 200 {
		t.Fatalf("expected 200, got %d", res.Corrected)
	}

	state2 := &State{LastEventTime: 50}
	res2 := Receive(60, 0, state2, Config{MinEventDiff: 50, MinMsgDelay: 5})
	if res2.Corrected != 100 {
		t.Fatalf("expected 100, got %d", res2.Corrected)
	}
}

func TestReceive_NoViolationWhenAlreadyLate(t *testing.T) {
	state := &State{LastEventTime: 0}
	res := Receive(500, 100, state, Config{MinMsgDelay: 10})
	if res.Delta != 0 {
		t.Fatalf("expected no violation, got delta %d", res.Delta)
	}
}

func TestForwardAmortizationDelta(t *testing.T) {
	if d := ForwardAmortizationDelta(2, 102); d != 100 {
		t.Fatalf("expected 100, got %d", d)
	}
	if d := ForwardAmortizationDelta(100, 100); d != 0 {
		t.Fatalf("expected 0, got %d", d)
	}
}
