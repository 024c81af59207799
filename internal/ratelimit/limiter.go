package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPolicy is returned for a policy with a non-positive capacity or window.
	ErrInvalidPolicy = errors.New("ratelimit: invalid policy")

	// ErrStoreUnavailable wraps bucket store failures surfaced by a fail-closed limiter.
	ErrStoreUnavailable = errors.New("ratelimit: bucket store unavailable")
)

// Policy describes a token bucket: Capacity tokens, refilled continuously so
// that an empty bucket is full again after Window.
type Policy struct {
	Capacity int           // bucket capacity (max burst)
	Window   time.Duration // time to refill from empty to full
}

// DefaultPolicy is 10 requests per minute.
var DefaultPolicy = Policy{Capacity: 10, Window: time.Minute}

func (p Policy) Validate() error {
	if p.Capacity <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: capacity=%d window=%s", ErrInvalidPolicy, p.Capacity, p.Window)
	}
	return nil
}

// refill returns the tokens earned over elapsed. Multiplying before dividing
// keeps whole-token boundaries exact (6s of 10/min is exactly 1.0).
func (p Policy) refill(elapsed time.Duration) float64 {
	return float64(elapsed) * float64(p.Capacity) / float64(p.Window)
}

// perToken is the time needed to earn a single token.
func (p Policy) perToken() time.Duration {
	return p.Window / time.Duration(p.Capacity)
}

type Decision struct {
	Allowed      bool
	Limit        int           // bucket capacity
	Remaining    int           // whole tokens after this request (min 0)
	ResetUnixSec int64         // when tokens would be full if no more traffic
	RetryAfter   time.Duration // zero when allowed
	Degraded     bool          // store unreachable, decided by the failure policy
}

type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
	Close() error
}
