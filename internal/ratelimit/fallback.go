package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Fallback is a process-local limiter applied only while the shared store is
// down. Its limit is per instance, so the fleet-wide limit becomes
// instances × rps until the store recovers.
type Fallback struct {
	mu        sync.Mutex
	entries   map[string]*fallbackEntry
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
}

type fallbackEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewFallback returns nil when rps or burst is not positive, which disables it.
func NewFallback(rps float64, burst int, idleTTL time.Duration) *Fallback {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Fallback{
		entries: make(map[string]*fallbackEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

// Allow consumes one local token for key. When denied it reports how long
// until one is available.
func (f *Fallback) Allow(key string, now time.Time) (bool, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.lastSweep) > f.idleTTL {
		f.sweep(now)
	}

	ent, ok := f.entries[key]
	if !ok {
		ent = &fallbackEntry{lim: rate.NewLimiter(f.rps, f.burst)}
		f.entries[key] = ent
	}
	ent.lastSeen = now

	res := ent.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweep drops keys idle longer than idleTTL. Caller holds f.mu.
func (f *Fallback) sweep(now time.Time) {
	cutoff := now.Add(-f.idleTTL)
	for k, ent := range f.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(f.entries, k)
		}
	}
	f.lastSweep = now
}

// Len reports the number of tracked keys.
func (f *Fallback) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}
