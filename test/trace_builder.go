// Package test holds integration helpers shared by the fuzzy and core test
// suites: synthetic in-memory trace construction and a cluster-style runner
// for both coordinators, mirroring this module's ancestry's own test/
// package (TestInvoker, CreateCluster) adapted from multicast peers to
// trace-synchronization processes.
package test

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// BuildProcess assembles one process's full .ktt bytes: the key/value
// preamble (KairaThreadTrace=1, inittime=<initTime>) terminated by an empty
// pair, followed by the caller's already-encoded event bytes.
func BuildProcess(initTime uint64, events []byte) []byte {
	var buf bytes.Buffer
	writeCString(&buf, "KairaThreadTrace")
	writeCString(&buf, "1")
	writeCString(&buf, "inittime")
	writeCString(&buf, strconv.FormatUint(initTime, 10))
	buf.WriteByte(0)
	buf.WriteByte(0)
	buf.Write(events)
	return buf.Bytes()
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
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

// WriteFired appends a "T" transition-fired record with an empty typed-value
// stream and no cascaded quit/token-add/end sub-records.
func WriteFired(buf *bytes.Buffer, time uint64, transitionID uint32) {
	buf.WriteByte(byte(types.KindTransitionFired))
	buf.Write(u64(time))
	buf.Write(u32(transitionID))
}

// WriteFinished appends an "F" transition-finished record.
func WriteFinished(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindTransitionFinished))
	buf.Write(u64(time))
}

// WriteEnd appends a standalone "X" end-of-event record, cascaded after the
// caller's most recent T/F/R record.
func WriteEnd(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindEnd))
	buf.Write(u64(time))
}

// WriteIdle appends an "I" idle record.
func WriteIdle(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindIdle))
	buf.Write(u64(time))
}

// WriteSpawn appends an "S" spawn record with no cascaded token-add stream.
func WriteSpawn(buf *bytes.Buffer, time uint64, netID uint32) {
	buf.WriteByte(byte(types.KindSpawn))
	buf.Write(u64(time))
	buf.Write(u32(netID))
}

// WriteQuit appends a standalone "Q" quit record.
func WriteQuit(buf *bytes.Buffer, time uint64) {
	buf.WriteByte(byte(types.KindQuit))
	buf.Write(u64(time))
}

// WriteSend appends an "M" (single target) or "N" (multiple targets) send
// record: time, a zero size field, a zero edge id, the target count, then
// each target id.
func WriteSend(buf *bytes.Buffer, kind types.Kind, time uint64, targets []uint32) {
	buf.WriteByte(byte(kind))
	buf.Write(u64(time))
	buf.Write(u64(0))
	buf.Write(u32(0))
	buf.Write(u32(uint32(len(targets))))
	for _, t := range targets {
		buf.Write(u32(t))
	}
}

// WriteReceive appends an "R" receive record naming its origin process.
func WriteReceive(buf *bytes.Buffer, time uint64, origin uint32) {
	buf.WriteByte(byte(types.KindReceive))
	buf.Write(u64(time))
	buf.Write(u32(origin))
}

// DiscardLogger implements types.Logger as a no-op sink, for tests that
// don't care about log output.
type DiscardLogger struct{}

func (DiscardLogger) Info(v ...interface{})                  {}
func (DiscardLogger) Infof(format string, v ...interface{})  {}
func (DiscardLogger) Warn(v ...interface{})                  {}
func (DiscardLogger) Warnf(format string, v ...interface{})  {}
func (DiscardLogger) Error(v ...interface{})                 {}
func (DiscardLogger) Errorf(format string, v ...interface{}) {}
func (DiscardLogger) Debug(v ...interface{})                 {}
func (DiscardLogger) Debugf(format string, v ...interface{}) {}
func (DiscardLogger) Fatal(v ...interface{})                 {}
func (DiscardLogger) Fatalf(format string, v ...interface{}) {}
func (DiscardLogger) ToggleDebug(value bool) bool            { return value }

// NewConfig builds a Configuration with both amortization schemes enabled
// and a DiscardLogger, the shape every cluster helper in this package needs.
func NewConfig(minEventDiff, minMsgDelay uint64) *types.Configuration {
	cfg := types.DefaultConfiguration(minEventDiff, minMsgDelay)
	cfg.Logger = DiscardLogger{}
	return cfg
}

// ParseProcess wraps trace.ParseProcessHeader for callers that only have the
// raw bytes BuildProcess produced.
func ParseProcess(data []byte) (trace.ProcessHeader, error) {
	return trace.ParseProcessHeader(data)
}
