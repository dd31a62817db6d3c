package types

// Configuration holds the engine-wide knobs shared by every synchronizer in
// a run. Built once by the CLI layer and passed down by pointer, mirroring
// the base/cluster configuration split of this module's ancestry.
type Configuration struct {
	// MinEventDiff is the minimum nanosecond gap enforced between
	// consecutive events within a process.
	MinEventDiff uint64

	// MinMsgDelay is the minimum nanosecond gap enforced between a send
	// and its paired receive.
	MinMsgDelay uint64

	// ForwardAmort turns on forward amortization: a receive pushed
	// forward by delta adds delta to the process's time offset.
	ForwardAmort bool

	// BackwardAmort turns on the backward amortization post-pass.
	BackwardAmort bool

	// Logger receives diagnostic and progress output. Never nil once
	// DefaultConfiguration or the CLI layer has run.
	Logger Logger
}

// DefaultConfiguration returns a Configuration with both amortization
// schemes enabled, matching the reference sequential driver's invocation
// (forward_amort=True, backward_amort=True).
func DefaultConfiguration(minEventDiff, minMsgDelay uint64) *Configuration {
	return &Configuration{
		MinEventDiff:  minEventDiff,
		MinMsgDelay:   minMsgDelay,
		ForwardAmort:  true,
		BackwardAmort: true,
	}
}
