package session

import "time"

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 5 * time.Second
	DefaultMaxAttempts  = 5
)

// Backoff is a bounded exponential schedule for automatic reconnection.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: DefaultInitialDelay, Max: DefaultMaxDelay, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
