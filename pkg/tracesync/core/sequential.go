package core

import (
	"fmt"

	"github.com/jabolina/tracesync/pkg/tracesync/types"
)

// SequentialCoordinator drives a set of Synchronizers, one per trace
// process, through a single-threaded cooperative schedule: a P×P FIFO
// matrix stands in for the network, and the coordinator switches to
// whichever process owns the head of a blocked receive's queue.
type SequentialCoordinator struct {
	synchronizers []*Synchronizer
	cfg           *types.Configuration
	log           types.Logger
}

// NewSequentialCoordinator builds a coordinator over synchronizers, indexed
// by process id 0..len(synchronizers)-1.
func NewSequentialCoordinator(synchronizers []*Synchronizer, cfg *types.Configuration) *SequentialCoordinator {
	return &SequentialCoordinator{synchronizers: synchronizers, cfg: cfg, log: cfg.Logger}
}

// Run executes every process's event stream to completion, then runs
// backward amortization on every process if enabled.
func (c *SequentialCoordinator) Run() error {
	count := len(c.synchronizers)
	if count == 0 {
		return nil
	}

	var minInit uint64
	for i, s := range c.synchronizers {
		t := s.GetInitTime()
		if i == 0 || t < minInit {
			minInit = t
		}
	}
	for _, s := range c.synchronizers {
		s.SetTimeOffset(s.GetInitTime() - minInit)
	}

	messages := make([][][]uint64, count)
	for i := range messages {
		messages[i] = make([][]uint64, count)
	}

	pendingOrder := make([]int, count)
	for i := range pendingOrder {
		pendingOrder[i] = i
	}
	removeFromPending := func(p int) {
		for i, v := range pendingOrder {
			if v == p {
				pendingOrder = append(pendingOrder[:i], pendingOrder[i+1:]...)
				return
			}
		}
	}
	isPending := func(p int) bool {
		for _, v := range pendingOrder {
			if v == p {
				return true
			}
		}
		return false
	}

	current := 0
	for len(pendingOrder) > 0 {
		working := current
		synchronizer := c.synchronizers[working]

		for current == working {
			kind, ok := synchronizer.NextEventKind()
			if !ok {
				removeFromPending(working)
				if len(pendingOrder) == 0 {
					break
				}
				current = pendingOrder[0]
				break
			}

			if kind == types.KindReceive {
				sender, _, err := synchronizer.NextEventSenderIfReceive()
				if err != nil {
					return err
				}
				queue := messages[sender][working]
				if len(queue) == 0 {
					if int(sender) == working || !isPending(int(sender)) {
						return fmt.Errorf("%w: process %d waits on process %d, which has no send left for it",
							types.ErrUnpairedReceive, working, sender)
					}
					current = int(sender)
					break
				}
				sentTime := queue[0]
				messages[sender][working] = queue[1:]

				emissions, err := synchronizer.ProcessReceive(sentTime)
				if err != nil {
					return err
				}
				if c.cfg.BackwardAmort {
					c.synchronizers[sender].RefillReceivedTime(sentTime, synchronizer.LastRecvEventTime(), uint32(working))
				}
				c.route(messages, working, emissions)
			} else {
				emissions, err := synchronizer.ProcessEvent()
				if err != nil {
					return err
				}
				c.route(messages, working, emissions)
			}
		}
	}

	if c.cfg.BackwardAmort {
		for _, s := range c.synchronizers {
			s.DoBackwardAmortization()
		}
	}
	return nil
}

func (c *SequentialCoordinator) route(messages [][][]uint64, from int, emissions []SendEmission) {
	for _, em := range emissions {
		target := int(em.Target)
		messages[from][target] = append(messages[from][target], em.Time)
	}
}
