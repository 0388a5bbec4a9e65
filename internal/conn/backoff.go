package conn

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: min(Max, Base * Multiplier^attempt).
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff is used for zero fields.
var DefaultBackoff = Backoff{
	Base:       500 * time.Millisecond,
	Max:        30 * time.Second,
	Multiplier: 2,
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoff.Base
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoff.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Multiplier < 1 || math.IsNaN(b.Multiplier) || math.IsInf(b.Multiplier, 0) {
		b.Multiplier = DefaultBackoff.Multiplier
	}
	return b
}

// Delay returns the wait before reconnect attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(d, 0) || d >= float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
