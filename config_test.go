package kiln_test

import (
	"testing"
	"time"

	"github.com/kilnlsp/kiln"
)

func TestSchedulerConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c kiln.SchedulerConfig

	if got := c.Debounce(); got != kiln.DefaultDebounce {
		t.Errorf("Debounce() = %v, want %v", got, kiln.DefaultDebounce)
	}
	if got := c.Depth(); got != kiln.DefaultQueueDepth {
		t.Errorf("Depth() = %d, want %d", got, kiln.DefaultQueueDepth)
	}
	if got := c.Slice(); got != kiln.DefaultBackgroundSlice {
		t.Errorf("Slice() = %d, want %d", got, kiln.DefaultBackgroundSlice)
	}
}

func TestSchedulerConfig_DebounceClamps(t *testing.T) {
	t.Parallel()

	low := kiln.SchedulerConfig{DebounceMS: 1}
	if got := low.Debounce(); got != kiln.MinDebounce {
		t.Errorf("Debounce(1ms) = %v, want clamped %v", got, kiln.MinDebounce)
	}

	high := kiln.SchedulerConfig{DebounceMS: 60000}
	if got := high.Debounce(); got != kiln.MaxDebounce {
		t.Errorf("Debounce(60s) = %v, want clamped %v", got, kiln.MaxDebounce)
	}
}

func TestOracleConfig_Defaults(t *testing.T) {
	t.Parallel()

	var c kiln.OracleConfig

	if got := c.Timeout(); got != kiln.DefaultOracleTimeout {
		t.Errorf("Timeout() = %v, want %v", got, kiln.DefaultOracleTimeout)
	}
	if got := c.Checkpoint(); got != kiln.DefaultCheckpointEvery {
		t.Errorf("Checkpoint() = %d, want %d", got, kiln.DefaultCheckpointEvery)
	}

	set := kiln.OracleConfig{TimeoutMS: 250, CheckpointEvery: 3}
	if got := set.Timeout(); got != 250*time.Millisecond {
		t.Errorf("Timeout(250) = %v", got)
	}
	if got := set.Checkpoint(); got != 3 {
		t.Errorf("Checkpoint(3) = %d", got)
	}
}
