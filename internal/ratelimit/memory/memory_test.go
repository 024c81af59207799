package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

func TestStore_LoadMissing(t *testing.T) {
	s := New()
	if _, ok, err := s.Load(context.Background(), "nobody"); ok || err != nil {
		t.Fatalf("Load on empty store = %v, %v", ok, err)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	s := New()
	ctx := context.Background()
	want := ratelimit.Bucket{Tokens: 3.25, LastRefill: time.UnixMilli(42)}
	if err := s.Save(ctx, "k", want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Load(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if got.Tokens != want.Tokens || !got.LastRefill.Equal(want.LastRefill) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestStore_TakeCreatesFullBucket(t *testing.T) {
	s := New()
	now := time.UnixMilli(1000)
	b, ok, err := s.Take(context.Background(), "k", ratelimit.DefaultPolicy, now)
	if err != nil || !ok {
		t.Fatalf("Take = %v, %v", ok, err)
	}
	if b.Tokens != 9 {
		t.Errorf("tokens = %v, want 9", b.Tokens)
	}
}

func TestStore_TakeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := New().Take(ctx, "k", ratelimit.DefaultPolicy, time.Now()); err == nil {
		t.Fatal("Take should fail on a cancelled context")
	}
}

func TestStore_ConcurrentTakeAdmitsExactlyOne(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.UnixMilli(0)
	if err := s.Save(ctx, "k", ratelimit.Bucket{Tokens: 1, LastRefill: now}); err != nil {
		t.Fatal(err)
	}

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.Take(ctx, "k", ratelimit.DefaultPolicy, now); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admitted = %d, want 1", got)
	}
}

func TestStore_WithTokenBucket(t *testing.T) {
	lim, err := ratelimit.New(New(), ratelimit.Options{Policy: ratelimit.DefaultPolicy})
	if err != nil {
		t.Fatal(err)
	}
	defer lim.Close()

	now := time.UnixMilli(0)
	for i := 0; i < 10; i++ {
		d, _ := lim.Allow(context.Background(), "1.2.3.4", now)
		if !d.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	d, _ := lim.Allow(context.Background(), "1.2.3.4", now)
	if d.Allowed {
		t.Fatal("11th request should be limited")
	}
	d, _ = lim.Allow(context.Background(), "1.2.3.4", now.Add(6*time.Second))
	if !d.Allowed {
		t.Fatal("one token should have been refilled after 6s")
	}
}
