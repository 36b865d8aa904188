package live

import "time"

// Backoff doubles Base per attempt and caps at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is 1s doubling up to 10s.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 10 * time.Second}
}

// Delay returns min(Base*2^(attempt-1), Max) for attempt >= 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}
