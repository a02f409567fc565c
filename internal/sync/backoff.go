package sync

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base doubled per prior attempt, capped at
// Max, then shortened by up to Jitter (a fraction in [0,1]) at random.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is used when Options.Backoff is zero.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Max: 10 * time.Minute, Jitter: 0.2}
}

// Ceiling returns the un-jittered delay before attempt number retry (1-based).
func (b Backoff) Ceiling(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := b.Base
	for i := 1; i < retry; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	return min(d, b.Max)
}

// Delay returns the jittered delay in [Ceiling·(1-Jitter), Ceiling]. A nil
// r disables jitter.
func (b Backoff) Delay(retry int, r *rand.Rand) time.Duration {
	d := b.Ceiling(retry)
	j := min(max(b.Jitter, 0), 1)
	if r == nil || j == 0 {
		return d
	}
	return d - time.Duration(float64(d)*j*r.Float64())
}

func (b Backoff) orDefault() Backoff {
	if b.Base <= 0 {
		return DefaultBackoff()
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}
