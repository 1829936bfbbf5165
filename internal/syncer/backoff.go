package syncer

import "time"

// Backoff describes the retry policy for transient submission failures:
// exponential delay from Base, capped at Max, with at most MaxAttempts
// tries before the record is given up as SyncExhausted.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff matches the engine defaults: 2s, 4s, 8s, ... capped at
// two minutes, eight tries total.
var DefaultBackoff = Backoff{
	Base:        2 * time.Second,
	Max:         2 * time.Minute,
	MaxAttempts: 8,
}

// Delay returns the wait before the given attempt number (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
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

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}
