// Package memory is a process-local bucket store. It is atomic per key but
// not shared between instances; use it for tests and single-instance runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

type entry struct {
	mu     sync.Mutex
	bucket ratelimit.Bucket
	stored bool
}

type Store struct {
	buckets sync.Map // key -> *entry
}

var _ ratelimit.AtomicStore = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) entry(key string) *entry {
	v, _ := s.buckets.LoadOrStore(key, &entry{})
	return v.(*entry)
}

func (s *Store) Load(_ context.Context, key string) (ratelimit.Bucket, bool, error) {
	v, ok := s.buckets.Load(key)
	if !ok {
		return ratelimit.Bucket{}, false, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bucket, e.stored, nil
}

func (s *Store) Save(_ context.Context, key string, b ratelimit.Bucket) error {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bucket = b
	e.stored = true
	return nil
}

// Take holds the key's lock across refill, decision and write.
func (s *Store) Take(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return ratelimit.Bucket{}, false, err
	}

	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.bucket
	if !e.stored {
		b = ratelimit.NewBucket(p, now)
	}
	b, allowed := b.Take(p, now)
	e.bucket = b
	e.stored = true
	return b, allowed, nil
}

func (s *Store) Close() error { return nil }
