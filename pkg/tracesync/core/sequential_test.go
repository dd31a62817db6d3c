package core

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"testing"

	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// buildProcess assembles one process's full .ktt bytes: the key/value
// preamble (KairaThreadTrace=1, inittime=<initTime>) terminated by an empty
// pair, followed by whatever event bytes the caller already encoded.
func buildProcess(initTime uint64, events []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("KairaThreadTrace")
	buf.WriteByte(0)
	buf.WriteString("1")
	buf.WriteByte(0)
	buf.WriteString("inittime")
	buf.WriteByte(0)
	buf.WriteString(strconv.FormatUint(initTime, 10))
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.Write(events)
	return buf.Bytes()
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func writeFired(buf *bytes.Buffer, time uint64, transitionID uint32) {
	buf.WriteByte(byte(types.KindTransitionFired))
	buf.Write(u64(time))
	buf.Write(u32(transitionID))
}

func writeFinished(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindTransitionFinished))
	buf.Write(u64(time))
}

func writeEnd(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindEnd))
	buf.Write(u64(time))
}

func writeSend(buf *bytes.Buffer, kind types.Kind, time uint64, targets []uint32) {
	buf.WriteByte(byte(kind))
	buf.Write(u64(time))
	buf.Write(u64(0)) // size
	buf.Write(u32(0)) // edge id
	buf.Write(u32(uint32(len(targets))))
	for _, t := range targets {
		buf.Write(u32(t))
	}
}

func writeReceive(buf *bytes.Buffer, time uint64, origin uint32) {
	buf.WriteByte(byte(types.KindReceive))
	buf.Write(u64(time))
	buf.Write(u32(origin))
}

func newTestSynchronizer(t *testing.T, processID uint32, initTime uint64, events []byte, cfg *types.Configuration) *Synchronizer {
	t.Helper()
	data := buildProcess(initTime, events)
	header, err := trace.ParseProcessHeader(data)
	if err != nil {
		t.Fatalf("parsing header: %v", err)
	}
	return NewSynchronizer(processID, data, header, 8, cfg)
}

func noopLogger() types.Logger { return discardLogger{} }

type discardLogger struct{}

func (discardLogger) Info(v ...interface{})                    {}
func (discardLogger) Infof(format string, v ...interface{})    {}
func (discardLogger) Warn(v ...interface{})                    {}
func (discardLogger) Warnf(format string, v ...interface{})    {}
func (discardLogger) Error(v ...interface{})                   {}
func (discardLogger) Errorf(format string, v ...interface{})   {}
func (discardLogger) Debug(v ...interface{})                   {}
func (discardLogger) Debugf(format string, v ...interface{})   {}
func (discardLogger) Fatal(v ...interface{})                   {}
func (discardLogger) Fatalf(format string, v ...interface{})   {}
func (discardLogger) ToggleDebug(value bool) bool              { return value }

func testConfig(minEventDiff, minMsgDelay uint64) *types.Configuration {
	cfg := types.DefaultConfiguration(minEventDiff, minMsgDelay)
	cfg.Logger = noopLogger()
	return cfg
}

func correctedTimes(s *Synchronizer) []uint64 {
	var out []uint64
	for _, e := range s.DataList() {
		out = append(out, e.CorrectedTime)
	}
	return out
}

func TestSequential_S1_TrivialSingleProcess(t *testing.T) {
	cfg := testConfig(50, 0)
	var events bytes.Buffer
	writeFired(&events, 100, 1)
	writeEnd(&events, 150)

	s := newTestSynchronizer(t, 0, 0, events.Bytes(), cfg)
	coordinator := NewSequentialCoordinator([]*Synchronizer{s}, cfg)
	if err := coordinator.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := correctedTimes(s)
	want := []uint64{100, 150}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestSequential_S2_ForcedMessageDelay(t *testing.T) {
	cfg := testConfig(0, 10)

	var p0 bytes.Buffer
	writeSend(&p0, types.KindSend, 100, []uint32{1})

	var p1 bytes.Buffer
	writeReceive(&p1, 101, 0)

	s0 := newTestSynchronizer(t, 0, 0, p0.Bytes(), cfg)
	s1 := newTestSynchronizer(t, 1, 0, p1.Bytes(), cfg)

	coordinator := NewSequentialCoordinator([]*Synchronizer{s0, s1}, cfg)
	if err := coordinator.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	sendTimes := correctedTimes(s0)
	recvTimes := correctedTimes(s1)
	if sendTimes[0] != 100 {
		t.Fatalf("expected send at 100, got %d", sendTimes[0])
	}
	if recvTimes[0] != 110 {
		t.Fatalf("expected receive at 110, got %d", recvTimes[0])
	}
}

func TestSequential_S3_IntraProcessGapPlusMessage(t *testing.T) {
	cfg := testConfig(50, 5)

	var p0 bytes.Buffer
	writeFired(&p0, 100, 1)
	writeSend(&p0, types.KindSend, 101, []uint32{1})

	var p1 bytes.Buffer
	writeReceive(&p1, 200, 0)

	s0 := newTestSynchronizer(t, 0, 1000, p0.Bytes(), cfg)
	s1 := newTestSynchronizer(t, 1, 1000, p1.Bytes(), cfg)

	coordinator := NewSequentialCoordinator([]*Synchronizer{s0, s1}, cfg)
	if err := coordinator.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	p0Times := correctedTimes(s0)
	if p0Times[0] != 100 || p0Times[1] != 150 {
		t.Fatalf("expected P0 T@100 M@150, got %v", p0Times)
	}

	p1Times := correctedTimes(s1)
	if p1Times[0] != 200 {
		t.Fatalf("expected P1 R@200, got %v", p1Times)
	}
}

func TestSequential_S4_ForwardAmortization(t *testing.T) {
	cfg := testConfig(0, 100)
	cfg.ForwardAmort = true
	cfg.BackwardAmort = false

	var p0 bytes.Buffer
	writeFired(&p0, 0, 1)
	writeSend(&p0, types.KindSend, 1, []uint32{1})
	writeFired(&p0, 2, 2)

	var p1 bytes.Buffer
	writeFired(&p1, 0, 1)
	writeReceive(&p1, 1, 0)
	writeFired(&p1, 2, 2)

	s0 := newTestSynchronizer(t, 0, 0, p0.Bytes(), cfg)
	s1 := newTestSynchronizer(t, 1, 0, p1.Bytes(), cfg)

	coordinator := NewSequentialCoordinator([]*Synchronizer{s0, s1}, cfg)
	if err := coordinator.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	p1Times := correctedTimes(s1)
	if len(p1Times) != 3 {
		t.Fatalf("expected 3 events, got %v", p1Times)
	}
	if p1Times[2] != 102 {
		t.Fatalf("expected forward-amortized third event at 102, got %d", p1Times[2])
	}
}

// TestBackwardAmortization_ClampsToSendSlack drives DoBackwardAmortization
// directly against a hand-built data_list, rather than through a full
// sequential run: the scenario needed to provoke a violating receive that
// also exercises the multi-send collapse does not fit cleanly into a small
// scripted trace (see the backward-amortization Open Question in
// DESIGN.md). This exercises the documented mechanics precisely: a
// multi-send's descriptors collapse to the minimum offset, the walk applies
// the violating receive's full delta until it reaches a send, and then
// clamps to that send's own slack for everything earlier.
func TestBackwardAmortization_ClampsToSendSlack(t *testing.T) {
	cfg := testConfig(0, 0)
	s := newTestSynchronizer(t, 0, 0, nil, cfg)

	s.dataList = []*types.Event{
		{Kind: types.KindTransitionFired, CorrectedTime: 0},
		{Kind: types.KindMultiSend, CorrectedTime: 10},
		{Kind: types.KindTransitionFired, CorrectedTime: 20},
		{Kind: types.KindReceive, CorrectedTime: 1000},
	}
	s.sendEvents.Set(10, []*types.SendDescriptor{
		{SentTime: 10, ReceiverID: 1, HasRecv: true, Offset: 20},
		{SentTime: 10, ReceiverID: 2, HasRecv: true, Offset: 6},
	})
	s.violatingRecv.Set(1000, 50)
	s.lastViolatingRecvIndex = 3

	s.DoBackwardAmortization()

	got := correctedTimes(s)
	want := []uint64{6, 16, 70, 1000}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %d, got %d (full: %v)", i, want[i], got[i], got)
		}
	}

	list, ok := s.sendEvents.Get(10)
	if !ok || len(list) != 1 || list[0].Offset != 6 {
		t.Fatalf("expected multi-send descriptors collapsed to the min offset 6, got %v", list)
	}
}

func TestSequential_S6_EmptyTrace(t *testing.T) {
	cfg := testConfig(50, 10)
	s := newTestSynchronizer(t, 0, 0, nil, cfg)
	coordinator := NewSequentialCoordinator([]*Synchronizer{s}, cfg)
	if err := coordinator.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(s.DataList()) != 0 {
		t.Fatalf("expected no events, got %v", s.DataList())
	}
	out := s.ExportBytes()
	if len(out) != len(s.ExportBytes()) {
		t.Fatalf("export should be deterministic")
	}
}
