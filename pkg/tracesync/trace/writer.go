package trace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// ExportBytes serializes a process's rewritten event list: the original
// header bytes verbatim, then for each event its kind byte, the corrected
// time as little-endian uint64, and the preserved payload.
func ExportBytes(header []byte, events []*types.Event) []byte {
	size := len(header)
	for _, e := range events {
		size += 1 + 8 + len(e.Payload)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	buf.Write(header)

	var timeBuf [8]byte
	for _, e := range events {
		buf.WriteByte(byte(e.Kind))
		binary.LittleEndian.PutUint64(timeBuf[:], e.CorrectedTime)
		buf.Write(timeBuf[:])
		buf.Write(e.Payload)
	}
	return buf.Bytes()
}

// WriteProcessFile writes one process's rewritten trace to path, matching
// the parallel driver's one-file-per-rank output layout.
func WriteProcessFile(path string, header []byte, events []*types.Event) error {
	data := ExportBytes(header, events)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("tracesync: write %s: %w", path, err)
	}
	return nil
}

// WriteSequentialFile concatenates every process's export into a single
// .kst file: "pointer_size\nprocess_count\n" followed by each process's
// byte length on its own line, then a copy of the original .kth header
// bytes, then each process's serialized bytes back to back.
func WriteSequentialFile(path string, pointerSize, processCount int, header []byte, perProcess [][]byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n%d\n", pointerSize, processCount)
	for _, p := range perProcess {
		fmt.Fprintf(&buf, "%d\n", len(p))
	}
	buf.Write(header)
	for _, p := range perProcess {
		buf.Write(p)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("tracesync: write %s: %w", path, err)
	}
	return nil
}
