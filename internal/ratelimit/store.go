package ratelimit

import (
	"context"
	"time"
)

// Store persists buckets where every gateway instance can see them.
// Load reports false for a key it has never stored (or has evicted).
type Store interface {
	Load(ctx context.Context, key string) (Bucket, bool, error)
	Save(ctx context.Context, key string, b Bucket) error
}

// AtomicStore runs the whole refill/decide/write cycle as one step on the
// store side. Two concurrent Take calls on a bucket holding a single token
// admit exactly one of them.
//
// A Store without this capability gets a Load, Take, Save sequence with no
// atomicity boundary: concurrent requests for the same key may both observe
// the same balance and both be admitted.
type AtomicStore interface {
	Store
	Take(ctx context.Context, key string, p Policy, now time.Time) (Bucket, bool, error)
}
