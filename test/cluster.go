package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/tracesync/pkg/tracesync/core"
	"github.com/jabolina/tracesync/pkg/tracesync/trace"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// ProcessSpec is one synthetic process's init time and pre-encoded event
// bytes, the unit both RunSequential and RunParallelInMemory build
// Synchronizers from.
type ProcessSpec struct {
	InitTime uint64
	Events   []byte
}

func buildSynchronizers(specs []ProcessSpec, cfg *types.Configuration) ([]*core.Synchronizer, []trace.ProcessHeader, error) {
	synchronizers := make([]*core.Synchronizer, len(specs))
	headers := make([]trace.ProcessHeader, len(specs))
	for i, spec := range specs {
		data := BuildProcess(spec.InitTime, spec.Events)
		header, err := trace.ParseProcessHeader(data)
		if err != nil {
			return nil, nil, fmt.Errorf("process %d: %w", i, err)
		}
		synchronizers[i] = core.NewSynchronizer(uint32(i), data, header, 8, cfg)
		headers[i] = header
	}
	return synchronizers, headers, nil
}

// RunSequential drives specs through a SequentialCoordinator and returns
// each process's exported bytes, in process-id order.
func RunSequential(specs []ProcessSpec, cfg *types.Configuration) ([][]byte, error) {
	synchronizers, _, err := buildSynchronizers(specs, cfg)
	if err != nil {
		return nil, err
	}
	coordinator := core.NewSequentialCoordinator(synchronizers, cfg)
	if err := coordinator.Run(); err != nil {
		return nil, err
	}
	out := make([][]byte, len(synchronizers))
	for i, s := range synchronizers {
		out[i] = s.ExportBytes()
	}
	return out, nil
}

// RunParallelInMemory drives specs through one ParallelCoordinator per rank,
// each on its own goroutine, wired together by an in-memory MemTransportHub
// instead of a real relt cluster. Returns each rank's exported bytes, in
// rank order, or the first error any rank reported.
func RunParallelInMemory(specs []ProcessSpec, cfg *types.Configuration) ([][]byte, error) {
	synchronizers, _, err := buildSynchronizers(specs, cfg)
	if err != nil {
		return nil, err
	}

	size := len(synchronizers)
	hub := NewMemTransportHub(size)
	defer hub.Close()

	out := make([][]byte, size)
	errs := make([]error, size)

	var wg sync.WaitGroup
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			transport := hub.ForRank(rank)
			coordinator := core.NewParallelCoordinator(rank, size, synchronizers[rank], transport, cfg)
			if err := coordinator.Run(context.Background()); err != nil {
				errs[rank] = err
				return
			}
			out[rank] = synchronizers[rank].ExportBytes()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
