// Package scheduler turns bursts of heterogeneous requests into a
// fair, non-thrashing execution order: class-based priority, per-stream
// debounce/coalescing, supersession, and cooperative cancellation.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/kilnlsp/kiln"
)

// Cancellation reasons.
const (
	ReasonExplicit   = "explicit cancel"
	ReasonSuperseded = "superseded"
	ReasonTeardown   = "stream teardown"
	ReasonShutdown   = "scheduler shutdown"
)

// Token is a per-request cancellation flag. Long-running query
// execution polls it at checkpoints; once cancelled, the request must
// unwind without publishing a result or committing partial artifacts.
type Token struct {
	mu     sync.Mutex
	done   chan struct{}
	reason string
}

// NewToken creates an uncancelled token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel sets the flag. The first reason wins; later calls are no-ops.
func (t *Token) Cancel(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.done:
		return
	default:
	}

	t.reason = reason
	close(t.done)
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns nil while live, or a CANCELLED error carrying the reason.
// This is the checkpoint poll.
func (t *Token) Err() error {
	select {
	case <-t.done:
		t.mu.Lock()
		reason := t.reason
		t.mu.Unlock()

		return fmt.Errorf("%w: %s", kiln.ErrCancelled, reason)
	default:
		return nil
	}
}

// Done returns a channel closed on cancellation, for select loops.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Reason returns the cancellation reason, or "" while live.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.reason
}
