package ratelimit

import (
	"math"
	"time"
)

// Bucket is the persisted state of one client's token bucket.
// Tokens stays within [0, capacity]; LastRefill never moves backwards.
type Bucket struct {
	Tokens     float64
	LastRefill time.Time
}

// NewBucket returns the full bucket synthesized for a key seen for the first time.
func NewBucket(p Policy, now time.Time) Bucket {
	return Bucket{Tokens: float64(p.Capacity), LastRefill: now}
}

// Take refills b up to now and consumes one token if at least one is
// available. The returned bucket must be persisted whether or not the
// request was allowed.
func (b Bucket) Take(p Policy, now time.Time) (Bucket, bool) {
	capacity := float64(p.Capacity)

	// clock skew between instances: no refill, keep the later timestamp
	elapsed := now.Sub(b.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	} else {
		b.LastRefill = now
	}

	b.Tokens = math.Min(capacity, b.Tokens+p.refill(elapsed))
	if b.Tokens < 0 {
		b.Tokens = 0
	}

	if b.Tokens < 1 {
		return b, false
	}
	b.Tokens--
	return b, true
}

// Decision describes b, the state right after Take, to the caller.
func (b Bucket) Decision(p Policy, now time.Time, allowed bool) Decision {
	capacity := float64(p.Capacity)

	// estimate reset time (to full)
	reset := now.Unix()
	if b.Tokens < capacity {
		need := capacity - b.Tokens
		reset = now.Add(time.Duration(need * float64(p.perToken()))).Unix()
	}

	d := Decision{
		Allowed:      allowed,
		Limit:        p.Capacity,
		Remaining:    int(b.Tokens),
		ResetUnixSec: reset,
	}
	if !allowed {
		d.Remaining = 0
		d.RetryAfter = time.Duration(math.Ceil((1 - b.Tokens) * float64(p.perToken())))
	}
	return d
}
