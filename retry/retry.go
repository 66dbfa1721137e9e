// Package retry provides the built-in retry policies. They register with
// the sideline plugin registry under the names "never" and
// "exponential_backoff".
package retry

import (
	"math"
	"sync"
	"time"

	"github.com/spoutworks/sideline-client/sideline"
)

func init() {
	sideline.RegisterRetryPolicy("never", func() sideline.RetryPolicy {
		return NewNever()
	})
	sideline.RegisterRetryPolicy("exponential_backoff", func() sideline.RetryPolicy {
		return NewExponentialBackoff()
	})
}

// Never refuses every retry. Each failed message is immediately terminal:
// the engine commits its offset and counts it against the retry-limit
// metric. Useful when downstream failures mean the record is poison.
type Never struct{}

// NewNever returns the never-retry policy.
func NewNever() *Never {
	return &Never{}
}

// Open is a no-op; the policy has no tunables.
func (n *Never) Open(cfg sideline.Config) error { return nil }

// Failed is a no-op; nothing is ever scheduled.
func (n *Never) Failed(id sideline.MessageID) {}

// Acked is a no-op.
func (n *Never) Acked(id sideline.MessageID) {}

// RetryFurther always refuses.
func (n *Never) RetryFurther(id sideline.MessageID) bool { return false }

// NextFailedMessageToRetry never has anything due.
func (n *Never) NextFailedMessageToRetry() (sideline.MessageID, bool) {
	return sideline.MessageID{}, false
}

const (
	defaultMaxRetries      = 25
	defaultInitialDelay    = time.Second
	defaultDelayMultiplier = 2.0
	defaultMaxDelay        = 15 * time.Minute
)

// ExponentialBackoff retries failed messages with a growing delay. The
// delay for attempt n is initialDelay * multiplier^(n-1), capped at
// maxDelay; a negative maxRetries permits unbounded retries.
type ExponentialBackoff struct {
	mu sync.Mutex

	maxRetries   int
	initialDelay time.Duration
	multiplier   float64
	maxDelay     time.Duration

	// attempts counts failures per id; due holds the ids waiting for
	// their next retry time. An id handed out by
	// NextFailedMessageToRetry leaves due but keeps its attempt count
	// until acked.
	attempts map[sideline.MessageID]int
	due      map[sideline.MessageID]time.Time

	nowFn func() time.Time
}

// NewExponentialBackoff returns the policy with defaults; Open overrides
// them from configuration.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		multiplier:   defaultDelayMultiplier,
		maxDelay:     defaultMaxDelay,
		attempts:     make(map[sideline.MessageID]int),
		due:          make(map[sideline.MessageID]time.Time),
		nowFn:        time.Now,
	}
}

// Open reads the retry_manager.* tunables.
func (e *ExponentialBackoff) Open(cfg sideline.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxRetries = cfg.Int(sideline.CfgRetryMaxRetries, e.maxRetries)
	e.initialDelay = time.Duration(cfg.Int64(sideline.CfgRetryInitialDelayMs, int64(e.initialDelay/time.Millisecond))) * time.Millisecond
	e.multiplier = cfg.Float64(sideline.CfgRetryDelayMultiplier, e.multiplier)
	e.maxDelay = time.Duration(cfg.Int64(sideline.CfgRetryMaxDelayMs, int64(e.maxDelay/time.Millisecond))) * time.Millisecond
	return nil
}

// Failed records an attempt and schedules the next retry.
func (e *ExponentialBackoff) Failed(id sideline.MessageID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts[id]++
	e.due[id] = e.nowFn().Add(e.delayFor(e.attempts[id]))
}

// Acked drops all tracking for the id.
func (e *ExponentialBackoff) Acked(id sideline.MessageID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, id)
	delete(e.due, id)
}

// RetryFurther permits a retry while the attempt count is below the
// ceiling; a negative ceiling never refuses.
func (e *ExponentialBackoff) RetryFurther(id sideline.MessageID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.maxRetries < 0 {
		return true
	}
	return e.attempts[id] < e.maxRetries
}

// NextFailedMessageToRetry returns the most overdue id whose retry time
// has passed, removing it from the waiting set.
func (e *ExponentialBackoff) NextFailedMessageToRetry() (sideline.MessageID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.nowFn()
	var (
		found    bool
		earliest time.Time
		pick     sideline.MessageID
	)
	for id, at := range e.due {
		if at.After(now) {
			continue
		}
		if !found || at.Before(earliest) {
			found = true
			earliest = at
			pick = id
		}
	}
	if !found {
		return sideline.MessageID{}, false
	}
	delete(e.due, pick)
	return pick, true
}

func (e *ExponentialBackoff) delayFor(attempt int) time.Duration {
	d := time.Duration(float64(e.initialDelay) * math.Pow(e.multiplier, float64(attempt-1)))
	if d > e.maxDelay || d < 0 {
		d = e.maxDelay
	}
	return d
}
