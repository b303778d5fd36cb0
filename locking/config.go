package locking

import (
	"time"

	"github.com/facebookgo/clock"
	"github.com/facebookgo/stats"
)

// Config configures a Manager.
type Config struct {
	// DeadlockDetectorInterval is how often the deadlock detector sweeps
	// the wait-for graph. Defaults to 3 seconds (spec.md §6).
	DeadlockDetectorInterval time.Duration

	// Clock is the time source used for the detector's ticker. Defaults to
	// the real wall clock; tests inject clock.NewMock().
	Clock clock.Clock

	// Stats receives instrumentation counters (acquires granted/queued,
	// deadlock victims aborted). Nil is safe: every bump call is
	// a nil-checked no-op in that case.
	Stats stats.Client
}

func (c Config) withDefaults() Config {
	if c.DeadlockDetectorInterval <= 0 {
		c.DeadlockDetectorInterval = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}
