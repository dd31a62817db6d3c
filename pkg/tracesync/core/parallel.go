package core

import (
	"context"
	"fmt"

	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// pendingBackAmort is one outstanding send this rank is still waiting to
// hear its corrected receive time for.
type pendingBackAmort struct {
	sentTime uint64
	target   int
}

// ParallelCoordinator drives one rank's Synchronizer against a Transport
// (RelayTransport in production): MAIN messages carry corrected send times to their
// receiver; BACK_AMORT messages carry the resulting corrected receive time
// back to the sender, non-blocking and polled opportunistically so a rank
// never stalls waiting on its own backward-amortization bookkeeping.
type ParallelCoordinator struct {
	rank, size int
	sync       *Synchronizer
	transport  Transport
	cfg        *types.Configuration
	log        types.Logger

	pending []pendingBackAmort
}

// NewParallelCoordinator builds a coordinator for one rank.
func NewParallelCoordinator(rank, size int, s *Synchronizer, transport Transport, cfg *types.Configuration) *ParallelCoordinator {
	return &ParallelCoordinator{rank: rank, size: size, sync: s, transport: transport, cfg: cfg, log: cfg.Logger}
}

// Run exchanges init times to compute this rank's starting offset, then
// drives the synchronizer's event stream to completion, routing every
// emitted send over MAIN and draining BACK_AMORT replies as they arrive.
// Rank 0 acts as the init-time hub since relt has no built-in gather.
func (c *ParallelCoordinator) Run(ctx context.Context) error {
	offset, err := c.negotiateOffset(ctx)
	if err != nil {
		return err
	}
	c.sync.SetTimeOffset(offset)

	for !c.sync.AtEnd() {
		kind, ok := c.sync.NextEventKind()
		if !ok {
			break
		}

		if kind == types.KindReceive {
			origin, _, err := c.sync.NextEventSenderIfReceive()
			if err != nil {
				return err
			}
			sentTime, err := c.transport.ReceiveMain(ctx, int(origin))
			if err != nil {
				return fmt.Errorf("tracesync: rank %d: waiting on rank %d: %w", c.rank, origin, err)
			}
			emissions, err := c.sync.ProcessReceive(sentTime)
			if err != nil {
				return err
			}
			if c.cfg.BackwardAmort {
				if err := c.transport.SendBackAmort(ctx, int(origin), c.sync.LastRecvEventTime()); err != nil {
					return err
				}
			}
			if err := c.routeEmissions(ctx, emissions); err != nil {
				return err
			}
		} else {
			emissions, err := c.sync.ProcessEvent()
			if err != nil {
				return err
			}
			if err := c.routeEmissions(ctx, emissions); err != nil {
				return err
			}
		}

		c.drainReady()
	}

	for _, p := range c.pending {
		v, err := c.transport.ReceiveBackAmortBlocking(ctx, p.target)
		if err != nil {
			return fmt.Errorf("%w: rank %d waiting on rank %d: %v", types.ErrBackAmortDrainFailed, c.rank, p.target, err)
		}
		c.sync.RefillReceivedTime(p.sentTime, v, uint32(p.target))
	}

	if c.cfg.BackwardAmort {
		c.sync.DoBackwardAmortization()
	}
	return nil
}

func (c *ParallelCoordinator) negotiateOffset(ctx context.Context) (uint64, error) {
	initTime := c.sync.GetInitTime()

	if c.rank == 0 {
		times := make([]uint64, c.size)
		times[0] = initTime
		for r := 1; r < c.size; r++ {
			v, err := c.transport.ReceiveMain(ctx, r)
			if err != nil {
				return 0, fmt.Errorf("tracesync: rank 0: gathering init time from rank %d: %w", r, err)
			}
			times[r] = v
		}
		min := times[0]
		for _, t := range times {
			if t < min {
				min = t
			}
		}
		for r := 1; r < c.size; r++ {
			if err := c.transport.SendMain(ctx, r, times[r]-min); err != nil {
				return 0, err
			}
		}
		return times[0] - min, nil
	}

	if err := c.transport.SendMain(ctx, 0, initTime); err != nil {
		return 0, err
	}
	offset, err := c.transport.ReceiveMain(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("tracesync: rank %d: awaiting offset from rank 0: %w", c.rank, err)
	}
	return offset, nil
}

func (c *ParallelCoordinator) routeEmissions(ctx context.Context, emissions []SendEmission) error {
	for _, em := range emissions {
		target := int(em.Target)
		if err := c.transport.SendMain(ctx, target, em.Time); err != nil {
			return err
		}
		if c.cfg.BackwardAmort {
			c.pending = append(c.pending, pendingBackAmort{sentTime: em.Time, target: target})
		}
	}
	return nil
}

func (c *ParallelCoordinator) drainReady() {
	for len(c.pending) > 0 {
		head := c.pending[0]
		v, ok := c.transport.TryReceiveBackAmort(head.target)
		if !ok {
			return
		}
		c.sync.RefillReceivedTime(head.sentTime, v, uint32(head.target))
		c.pending = c.pending[1:]
	}
}
