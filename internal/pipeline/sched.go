package pipeline

import "time"

// Scheduler serializes pipeline work. Post runs fn on the session's event
// loop; After schedules fn on the same loop and returns a cancel function.
// All pipeline state is touched only from that loop, so the engines need no
// internal locking.
type Scheduler interface {
	Post(fn func())
	After(d time.Duration, fn func()) (cancel func())
}

// Config carries the pipeline tunables. Tests shrink the durations to keep
// runs fast; production uses DefaultConfig.
type Config struct {
	Now func() time.Time

	// MaxFinalizationWait is the hard ceiling after which a pending final is
	// always committed, complete sentence or not.
	MaxFinalizationWait time.Duration
	// RescheduleCap bounds a single finalization timer extension.
	RescheduleCap time.Duration
	// ForcedFinalMaxWait is the safety timeout for a buffered forced final.
	ForcedFinalMaxWait time.Duration
	// RecoveryTimeout re-posts a finalized-but-uncommitted text as a
	// recovery candidate.
	RecoveryTimeout time.Duration
	// LongestFreshness / LatestFreshness bound how old a tracked partial may
	// be and still extend a final.
	LongestFreshness time.Duration
	LatestFreshness  time.Duration
}

// DefaultConfig returns the production pipeline tunables.
func DefaultConfig() Config {
	return Config{
		Now:                 time.Now,
		MaxFinalizationWait: 10 * time.Second,
		RescheduleCap:       4 * time.Second,
		ForcedFinalMaxWait:  1500 * time.Millisecond,
		RecoveryTimeout:     5 * time.Second,
		LongestFreshness:    10 * time.Second,
		LatestFreshness:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Now == nil {
		c.Now = d.Now
	}
	if c.MaxFinalizationWait <= 0 {
		c.MaxFinalizationWait = d.MaxFinalizationWait
	}
	if c.RescheduleCap <= 0 {
		c.RescheduleCap = d.RescheduleCap
	}
	if c.ForcedFinalMaxWait <= 0 {
		c.ForcedFinalMaxWait = d.ForcedFinalMaxWait
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.LongestFreshness <= 0 {
		c.LongestFreshness = d.LongestFreshness
	}
	if c.LatestFreshness <= 0 {
		c.LatestFreshness = d.LatestFreshness
	}
	return c
}
