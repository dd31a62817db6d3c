package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jabolina/relt/pkg/relt"
	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// Transport is what ParallelCoordinator needs from a point-to-point
// messaging layer: tagged, per-peer MAIN/BACK_AMORT delivery. RelayTransport
// is the production implementation over relt; test code substitutes an
// in-memory implementation to exercise the coordinator without a real
// transport.
type Transport interface {
	SendMain(ctx context.Context, target int, value uint64) error
	SendBackAmort(ctx context.Context, target int, value uint64) error
	ReceiveMain(ctx context.Context, from int) (uint64, error)
	TryReceiveBackAmort(from int) (uint64, bool)
	ReceiveBackAmortBlocking(ctx context.Context, from int) (uint64, error)
	Close() error
}

// Tag multiplexes the two kinds of point-to-point messages a parallel run
// exchanges: MAIN carries a corrected send time a receive is waiting on;
// BACK_AMORT carries the resulting corrected receive time back to the
// sender, so it can compute how much slack that send has for backward
// amortization.
type Tag byte

const (
	TagMain      Tag = 1
	TagBackAmort Tag = 2
)

// RelayTransport is the parallel engine's Transport: one relt.Relt per rank,
// addressed by a per-rank group, demultiplexing inbound messages into
// per-sender, per-tag buffered channels so a blocking MAIN receive from rank
// 2 never consumes a BACK_AMORT reply from rank 5.
type RelayTransport struct {
	rank, size int
	namePrefix string

	relt *relt.Relt

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	nameToRank map[string]int

	mainInbox []chan uint64
	backInbox []chan uint64

	log types.Logger
}

// NewRelayTransport joins the transport for one rank in a run of size
// processes, addressed under namePrefix (so multiple runs on the same relt
// cluster don't collide).
func NewRelayTransport(rank, size int, namePrefix string, log types.Logger) (*RelayTransport, error) {
	conf := relt.DefaultReltConfiguration()
	conf.Name = rankName(namePrefix, rank)
	conf.Exchange = relt.GroupAddress(conf.Name)
	r, err := relt.NewRelt(*conf)
	if err != nil {
		return nil, fmt.Errorf("tracesync: rank %d: joining transport: %w", rank, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &RelayTransport{
		rank:       rank,
		size:       size,
		namePrefix: namePrefix,
		relt:       r,
		ctx:        ctx,
		cancel:     cancel,
		nameToRank: make(map[string]int, size),
		mainInbox:  make([]chan uint64, size),
		backInbox:  make([]chan uint64, size),
		log:        log,
	}
	for i := 0; i < size; i++ {
		t.nameToRank[rankName(namePrefix, i)] = i
		t.mainInbox[i] = make(chan uint64, 64)
		t.backInbox[i] = make(chan uint64, 64)
	}

	listener, err := r.Consume()
	if err != nil {
		return nil, fmt.Errorf("tracesync: rank %d: consuming transport: %w", rank, err)
	}
	go t.poll(listener)
	return t, nil
}

func rankName(prefix string, rank int) string {
	return prefix + "-" + strconv.Itoa(rank)
}

func (t *RelayTransport) rankOf(name string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.nameToRank[name]
	return r, ok
}

func (t *RelayTransport) poll(listener <-chan relt.Recv) {
	for {
		select {
		case <-t.ctx.Done():
			return
		case recv, ok := <-listener:
			if !ok {
				return
			}
			if recv.Error != nil {
				t.log.Errorf("rank %d: transport error from %s: %v", t.rank, recv.Origin, recv.Error)
				continue
			}
			if len(recv.Data) < 9 {
				t.log.Warnf("rank %d: short message from %s", t.rank, recv.Origin)
				continue
			}
			sender, ok := t.rankOf(originName(recv.Origin))
			if !ok {
				t.log.Warnf("rank %d: message from unknown origin %s", t.rank, recv.Origin)
				continue
			}
			tag := Tag(recv.Data[0])
			value := binary.LittleEndian.Uint64(recv.Data[1:9])
			switch tag {
			case TagMain:
				t.mainInbox[sender] <- value
			case TagBackAmort:
				t.backInbox[sender] <- value
			default:
				t.log.Warnf("rank %d: unknown tag %d from %s", t.rank, tag, recv.Origin)
			}
		}
	}
}

// originName strips relt's internal suffixing (if any) down to the joined
// group name, in case the transport decorates Origin beyond the raw Name
// passed at NewRelt time.
func originName(origin string) string {
	if idx := strings.IndexByte(origin, '#'); idx >= 0 {
		return origin[:idx]
	}
	return origin
}

func (t *RelayTransport) send(ctx context.Context, target int, tag Tag, value uint64) error {
	payload := make([]byte, 9)
	payload[0] = byte(tag)
	binary.LittleEndian.PutUint64(payload[1:9], value)
	return t.relt.Broadcast(ctx, relt.Send{
		Address: relt.GroupAddress(rankName(t.namePrefix, target)),
		Data:    payload,
	})
}

// SendMain sends a corrected send time to target, tagged MAIN.
func (t *RelayTransport) SendMain(ctx context.Context, target int, value uint64) error {
	return t.send(ctx, target, TagMain, value)
}

// SendBackAmort sends a corrected receive time back to target, tagged
// BACK_AMORT.
func (t *RelayTransport) SendBackAmort(ctx context.Context, target int, value uint64) error {
	return t.send(ctx, target, TagBackAmort, value)
}

// ReceiveMain blocks until a MAIN message from rank `from` is available.
func (t *RelayTransport) ReceiveMain(ctx context.Context, from int) (uint64, error) {
	select {
	case v := <-t.mainInbox[from]:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// TryReceiveBackAmort polls for a BACK_AMORT message from rank `from`
// without blocking.
func (t *RelayTransport) TryReceiveBackAmort(from int) (uint64, bool) {
	select {
	case v := <-t.backInbox[from]:
		return v, true
	default:
		return 0, false
	}
}

// ReceiveBackAmortBlocking blocks until a BACK_AMORT message from rank
// `from` is available, used for the terminal drain of outstanding handles.
func (t *RelayTransport) ReceiveBackAmortBlocking(ctx context.Context, from int) (uint64, error) {
	select {
	case v := <-t.backInbox[from]:
		return v, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close tears down the transport.
func (t *RelayTransport) Close() error {
	t.cancel()
	return t.relt.Close()
}
