package test

import (
	"context"
	"sync"
)

// MemTransportHub is an in-memory stand-in for a relt cluster: a P×P matrix
// of buffered channels, one pair per (sender, tag), used to drive
// ParallelCoordinator in unit tests without a real network transport.
type MemTransportHub struct {
	size int

	mu     sync.Mutex
	closed bool

	mainCh [][]chan uint64
	backCh [][]chan uint64
}

// NewMemTransportHub builds a hub wiring size ranks together.
func NewMemTransportHub(size int) *MemTransportHub {
	h := &MemTransportHub{
		size:   size,
		mainCh: make([][]chan uint64, size),
		backCh: make([][]chan uint64, size),
	}
	for from := 0; from < size; from++ {
		h.mainCh[from] = make([]chan uint64, size)
		h.backCh[from] = make([]chan uint64, size)
		for to := 0; to < size; to++ {
			h.mainCh[from][to] = make(chan uint64, 256)
			h.backCh[from][to] = make(chan uint64, 256)
		}
	}
	return h
}

// ForRank returns the Transport a coordinator for that rank should use.
func (h *MemTransportHub) ForRank(rank int) *MemTransport {
	return &MemTransport{hub: h, rank: rank}
}

// Close is idempotent; MemTransportHub owns no OS resources, so this only
// guards against double-close panics in defer chains.
func (h *MemTransportHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// MemTransport implements core.Transport for one rank over a
// MemTransportHub. It satisfies the same interface RelayTransport does, so
// ParallelCoordinator cannot tell the two apart.
type MemTransport struct {
	hub  *MemTransportHub
	rank int
}

func (t *MemTransport) SendMain(ctx context.Context, target int, value uint64) error {
	return send(ctx, t.hub.mainCh[t.rank][target], value)
}

func (t *MemTransport) SendBackAmort(ctx context.Context, target int, value uint64) error {
	return send(ctx, t.hub.backCh[t.rank][target], value)
}

func (t *MemTransport) ReceiveMain(ctx context.Context, from int) (uint64, error) {
	return receive(ctx, t.hub.mainCh[from][t.rank])
}

func (t *MemTransport) TryReceiveBackAmort(from int) (uint64, bool) {
	select {
	case v := <-t.hub.backCh[from][t.rank]:
		return v, true
	default:
		return 0, false
	}
}

func (t *MemTransport) ReceiveBackAmortBlocking(ctx context.Context, from int) (uint64, error) {
	return receive(ctx, t.hub.backCh[from][t.rank])
}

func (t *MemTransport) Close() error {
	return nil
}

func send(ctx context.Context, ch chan<- uint64, value uint64) error {
	select {
	case ch <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func receive(ctx context.Context, ch <-chan uint64) (uint64, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
