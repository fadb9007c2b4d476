package jobs

import "sync"

// CancelToken is a per-job cooperative cancel signal. The Transcode Driver
// observes it at the child-process wait suspension point; nothing else in
// the pipeline polls it more than once per stage boundary.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	fn        func() // set by whichever stage is currently able to act on cancellation
}

// NewCancelToken returns a not-yet-cancelled token with no function armed.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Arm installs the function invoked on Cancel. Stages call this when they
// start a suspension point that can be interrupted (e.g. before waiting on
// the transcoder child), and should Arm(nil) or a no-op when leaving it.
func (t *CancelToken) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
	if t.cancelled && fn != nil {
		fn()
	}
}

// Cancel marks the token cancelled and invokes the currently armed
// function, if any. Safe to call multiple times.
func (t *CancelToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.fn != nil {
		t.fn()
	}
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}
