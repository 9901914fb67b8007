package auth

import (
	"sync"
	"time"
)

// circuitState mirrors a simple closed/open breaker per client_id.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

// Throttle enforces max_attempts brute-force protection on auth_request,
// keyed by client_id, with exponential backoff before a client may try
// again after tripping the limit. Adapted from the teacher's
// RetryManager: same failure-counting and backoff shape, repurposed from
// transport-retry bookkeeping to auth-attempt bookkeeping.
type Throttle struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration

	mu       sync.Mutex
	failures map[string]int
	state    map[string]circuitState
	openedAt map[string]time.Time
}

// NewThrottle creates a Throttle with the given attempt ceiling.
func NewThrottle(maxAttempts int) *Throttle {
	return &Throttle{
		MaxAttempts: maxAttempts,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
		failures:    make(map[string]int),
		state:       make(map[string]circuitState),
		openedAt:    make(map[string]time.Time),
	}
}

// Allow reports whether clientID may attempt authentication now. Once
// the circuit opens, it reports false until the backoff window for the
// current failure count has elapsed, at which point it reports true
// again (a half-open probe) without yet resetting the failure count.
func (t *Throttle) Allow(clientID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state[clientID] != circuitOpen {
		return true
	}
	backoff := t.backoffLocked(t.failures[clientID])
	return time.Since(t.openedAt[clientID]) >= backoff
}

// RecordSuccess resets clientID's failure count and closes its circuit.
func (t *Throttle) RecordSuccess(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, clientID)
	delete(t.openedAt, clientID)
	t.state[clientID] = circuitClosed
}

// RecordFailure increments clientID's failure count, opening its
// circuit once MaxAttempts is reached.
func (t *Throttle) RecordFailure(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[clientID]++
	if t.failures[clientID] >= t.MaxAttempts {
		t.state[clientID] = circuitOpen
		t.openedAt[clientID] = time.Now()
	}
}

func (t *Throttle) backoffLocked(failures int) time.Duration {
	over := failures - t.MaxAttempts + 1
	if over < 1 {
		over = 1
	}
	backoff := t.BaseBackoff * time.Duration(1<<uint(over-1))
	if backoff > t.MaxBackoff {
		backoff = t.MaxBackoff
	}
	return backoff
}
