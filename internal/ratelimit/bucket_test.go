package ratelimit

import (
	"testing"
	"time"
)

func TestBucket_BurstThenLimited(t *testing.T) {
	p := DefaultPolicy
	now := time.UnixMilli(1_700_000_000_000)
	b := NewBucket(p, now)

	for i := 0; i < 10; i++ {
		var ok bool
		b, ok = b.Take(p, now)
		if !ok {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if _, ok := b.Take(p, now); ok {
		t.Fatal("11th request should be rate limited")
	}
}

func TestBucket_LinearRefill(t *testing.T) {
	p := DefaultPolicy
	start := time.UnixMilli(0)
	b := Bucket{Tokens: 0, LastRefill: start}

	b, ok := b.Take(p, start.Add(6000*time.Millisecond))
	if !ok {
		t.Fatal("6s of refill should earn exactly one token")
	}
	if b.Tokens != 0 {
		t.Errorf("tokens = %v, want 0", b.Tokens)
	}
}

func TestBucket_RefillClampsAtCapacity(t *testing.T) {
	p := DefaultPolicy
	start := time.UnixMilli(0)
	b := Bucket{Tokens: 0, LastRefill: start}

	b, ok := b.Take(p, start.Add(10*time.Minute))
	if !ok {
		t.Fatal("request after a long idle period should be admitted")
	}
	// clamped to 10 before consuming, not 100
	if b.Tokens != 9 {
		t.Errorf("tokens = %v, want 9", b.Tokens)
	}
}

func TestBucket_PartialRefillIsNotEnough(t *testing.T) {
	p := DefaultPolicy
	start := time.UnixMilli(0)
	b := Bucket{Tokens: 0, LastRefill: start}

	b, ok := b.Take(p, start.Add(3*time.Second))
	if ok {
		t.Fatal("half a token must not admit")
	}
	if b.Tokens != 0.5 {
		t.Errorf("tokens = %v, want 0.5", b.Tokens)
	}
	if !b.LastRefill.Equal(start.Add(3 * time.Second)) {
		t.Errorf("lastRefill not refreshed on denial: %v", b.LastRefill)
	}
}

func TestBucket_ClockSkewDoesNotRefillOrRewind(t *testing.T) {
	p := DefaultPolicy
	last := time.UnixMilli(10_000)
	b := Bucket{Tokens: 2, LastRefill: last}

	b, ok := b.Take(p, last.Add(-5*time.Second))
	if !ok {
		t.Fatal("two tokens should still admit")
	}
	if b.Tokens != 1 {
		t.Errorf("tokens = %v, want 1", b.Tokens)
	}
	if !b.LastRefill.Equal(last) {
		t.Errorf("lastRefill moved backwards to %v", b.LastRefill)
	}
}

func TestBucket_DecisionRetryAfter(t *testing.T) {
	p := DefaultPolicy
	now := time.UnixMilli(0)
	b := Bucket{Tokens: 0.5, LastRefill: now}

	d := b.Decision(p, now, false)
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v, want 3s", d.RetryAfter)
	}
	if d.Limit != 10 {
		t.Errorf("Limit = %d, want 10", d.Limit)
	}
	// 9.5 tokens missing at 6s each
	if want := now.Add(57 * time.Second).Unix(); d.ResetUnixSec != want {
		t.Errorf("ResetUnixSec = %d, want %d", d.ResetUnixSec, want)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := (Policy{Capacity: 0, Window: time.Minute}).Validate(); err == nil {
		t.Error("zero capacity should be rejected")
	}
	if err := (Policy{Capacity: 1, Window: 0}).Validate(); err == nil {
		t.Error("zero window should be rejected")
	}
	if err := DefaultPolicy.Validate(); err != nil {
		t.Errorf("default policy rejected: %v", err)
	}
}
