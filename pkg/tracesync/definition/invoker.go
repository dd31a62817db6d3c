package definition

import "sync"

// Invoker spawns a background goroutine and can later wait for every
// goroutine it spawned to return. Both CLI drivers run their metrics server
// through one, mirroring
// this module's ancestry's Invoker/TestInvoker split between production and
// test code.
type Invoker interface {
	Spawn(f func())
	Stop()
}

// DefaultInvoker spawns real goroutines tracked by a sync.WaitGroup.
type DefaultInvoker struct {
	group sync.WaitGroup
}

// NewDefaultInvoker builds an Invoker for production use.
func NewDefaultInvoker() *DefaultInvoker {
	return &DefaultInvoker{}
}

func (d *DefaultInvoker) Spawn(f func()) {
	d.group.Add(1)
	go func() {
		defer d.group.Done()
		f()
	}()
}

func (d *DefaultInvoker) Stop() {
	d.group.Wait()
}
