// Package redisstore keeps token buckets in Redis hashes so that every
// gateway instance shares one budget per client.
//
// Each bucket is a hash at <prefix><client key> with two fields:
//
//   - "tokens": current balance, as a decimal float
//   - "last_refill": last refill time, unix milliseconds
//
// Take runs refill, decision and write in a single Lua script, which closes
// the read/write race between concurrent requests for the same key. Load and
// Save are plain HGETALL and HSET for tooling and for callers that manage
// their own concurrency.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

const (
	DefaultPrefix = "gateguard:bucket:"

	fieldTokens     = "tokens"
	fieldLastRefill = "last_refill"
)

// KEYS[1] bucket key
// ARGV capacity, window ms, now ms, ttl ms (0 = no expiry)
// returns {allowed, tokens, last_refill}; numbers travel as strings because
// Redis truncates Lua floats to integers.
var takeScript = goredis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end

local elapsed = now - last
if elapsed < 0 then
  elapsed = 0
else
  last = now
end

tokens = math.min(capacity, tokens + elapsed * capacity / window)
if tokens < 0 then
  tokens = 0
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(last))
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tostring(tokens), tostring(last)}
`)

type Options struct {
	Prefix string        // key prefix, DefaultPrefix when empty
	TTL    time.Duration // bucket expiry after last write, 0 disables
}

type Store struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ ratelimit.AtomicStore = (*Store)(nil)

func New(client goredis.UniversalClient, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

// ClientConfig holds connection settings for NewClient.
type ClientConfig struct {
	Addrs      []string
	Password   string
	DB         int
	MaxRetries int
}

func NewClient(cfg ClientConfig) goredis.UniversalClient {
	return goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
	})
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) Take(ctx context.Context, key string, p ratelimit.Policy, now time.Time) (ratelimit.Bucket, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.key(key)},
		p.Capacity, p.Window.Milliseconds(), now.UnixMilli(), s.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return ratelimit.Bucket{}, false, err
	}
	if len(res) != 3 {
		return ratelimit.Bucket{}, false, fmt.Errorf("redisstore: unexpected script reply %v", res)
	}

	allowed, _ := res[0].(int64)
	tokens, _ := res[1].(string)
	last, _ := res[2].(string)
	b, err := parseBucket(tokens, last)
	if err != nil {
		return ratelimit.Bucket{}, false, err
	}
	return b, allowed == 1, nil
}

func (s *Store) Load(ctx context.Context, key string) (ratelimit.Bucket, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return ratelimit.Bucket{}, false, err
	}
	if len(fields) == 0 {
		return ratelimit.Bucket{}, false, nil
	}
	b, err := parseBucket(fields[fieldTokens], fields[fieldLastRefill])
	if err != nil {
		return ratelimit.Bucket{}, false, err
	}
	return b, true, nil
}

func (s *Store) Save(ctx context.Context, key string, b ratelimit.Bucket) error {
	k := s.key(key)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, k,
			fieldTokens, strconv.FormatFloat(b.Tokens, 'g', -1, 64),
			fieldLastRefill, strconv.FormatInt(b.LastRefill.UnixMilli(), 10),
		)
		if s.ttl > 0 {
			pipe.PExpire(ctx, k, s.ttl)
		}
		return nil
	})
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

var errCorrupt = errors.New("redisstore: corrupt bucket")

func parseBucket(tokens, lastRefill string) (ratelimit.Bucket, error) {
	t, err := strconv.ParseFloat(tokens, 64)
	if err != nil {
		return ratelimit.Bucket{}, fmt.Errorf("%w: tokens %q", errCorrupt, tokens)
	}
	// last_refill may come back from Lua formatted as a float
	ms, err := strconv.ParseFloat(lastRefill, 64)
	if err != nil {
		return ratelimit.Bucket{}, fmt.Errorf("%w: last_refill %q", errCorrupt, lastRefill)
	}
	return ratelimit.Bucket{Tokens: t, LastRefill: time.UnixMilli(int64(ms))}, nil
}
