package ratelimit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a TokenBucket.
type Options struct {
	Policy Policy

	// FailOpen admits requests while the store is unreachable. When false
	// the store error is returned wrapped in ErrStoreUnavailable.
	FailOpen bool

	// StoreTimeout bounds every store round trip. Zero means 250ms.
	StoreTimeout time.Duration

	// Fallback, if set, still limits degraded decisions per process.
	Fallback *Fallback

	Logger zerolog.Logger

	// OnStoreError is called with the failing operation ("take", "load", "save").
	OnStoreError func(op string)
	// OnDegraded is called for every decision made without the store.
	OnDegraded func()
}

// TokenBucket is a Limiter whose buckets live in a Store shared by all
// gateway instances, so the limit holds across the whole fleet.
type TokenBucket struct {
	store    Store
	policy   Policy
	failOpen bool
	timeout  time.Duration
	fallback *Fallback
	log      zerolog.Logger

	onStoreError func(op string)
	onDegraded   func()
}

var _ Limiter = (*TokenBucket)(nil)

func New(store Store, opts Options) (*TokenBucket, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 250 * time.Millisecond
	}
	return &TokenBucket{
		store:        store,
		policy:       opts.Policy,
		failOpen:     opts.FailOpen,
		timeout:      opts.StoreTimeout,
		fallback:     opts.Fallback,
		log:          opts.Logger,
		onStoreError: opts.OnStoreError,
		onDegraded:   opts.OnDegraded,
	}, nil
}

func (l *TokenBucket) Policy() Policy { return l.policy }

// Close closes the underlying store if it holds resources.
func (l *TokenBucket) Close() error {
	if c, ok := l.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Allow decides whether the request identified by key may proceed at now and
// persists the updated bucket.
func (l *TokenBucket) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	b, allowed, err := l.take(ctx, key, now)
	if err != nil {
		return l.degrade(key, now, err)
	}
	return b.Decision(l.policy, now, allowed), nil
}

func (l *TokenBucket) take(ctx context.Context, key string, now time.Time) (Bucket, bool, error) {
	if as, ok := l.store.(AtomicStore); ok {
		b, allowed, err := as.Take(ctx, key, l.policy, now)
		if err != nil {
			return Bucket{}, false, l.storeErr("take", err)
		}
		return b, allowed, nil
	}

	b, found, err := l.store.Load(ctx, key)
	if err != nil {
		return Bucket{}, false, l.storeErr("load", err)
	}
	if !found {
		b = NewBucket(l.policy, now)
	}
	b, allowed := b.Take(l.policy, now)
	if err := l.store.Save(ctx, key, b); err != nil {
		return Bucket{}, false, l.storeErr("save", err)
	}
	return b, allowed, nil
}

func (l *TokenBucket) storeErr(op string, err error) error {
	if l.onStoreError != nil {
		l.onStoreError(op)
	}
	return fmt.Errorf("%s bucket: %w", op, err)
}

func (l *TokenBucket) degrade(key string, now time.Time, err error) (Decision, error) {
	if !l.failOpen {
		l.log.Error().Err(err).Str("key", key).Msg("bucket store unavailable, rejecting")
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	l.log.Warn().Err(err).Str("key", key).Msg("bucket store unavailable, failing open")
	if l.onDegraded != nil {
		l.onDegraded()
	}

	d := Decision{Allowed: true, Limit: l.policy.Capacity, Degraded: true}
	if l.fallback != nil {
		if ok, retry := l.fallback.Allow(key, now); !ok {
			d.Allowed = false
			d.RetryAfter = retry
		}
	}
	return d, nil
}
