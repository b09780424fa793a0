package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLimiter(t *testing.T) (*TokenBucketLimiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lim := NewTokenBucketLimiter(rdb)
	lim.now = func() time.Time { return now }
	return lim, mr, &now
}

func TestTokenBucketLimiter_Allow_Disabled(t *testing.T) {
	lim, mr, _ := newTestLimiter(t)

	dec, err := lim.Allow(context.Background(), "run_case", "user-1", Bucket{})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("expected allowed when bucket disabled")
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled bucket should not touch redis, keys=%v", mr.Keys())
	}
}

func TestTokenBucketLimiter_Allow_BurstThenRefill(t *testing.T) {
	lim, mr, now := newTestLimiter(t)
	ctx := context.Background()
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 2} // 1 token/sec

	for i, wantRemaining := range []int{1, 0} {
		dec, err := lim.Allow(ctx, "run_case", "tok-1", bucket)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !dec.Allowed || dec.Remaining != wantRemaining {
			t.Fatalf("request %d: got %+v, want allowed with %d remaining", i, dec, wantRemaining)
		}
	}

	dec, err := lim.Allow(ctx, "run_case", "tok-1", bucket)
	if err != nil {
		t.Fatalf("allow 3: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected third request to be rate limited")
	}
	if dec.RetryAfter != time.Second {
		t.Fatalf("expected 1s retry, got %v", dec.RetryAfter)
	}

	other, err := lim.Allow(ctx, "run_case", "tok-2", bucket)
	if err != nil || !other.Allowed {
		t.Fatalf("other subject should have its own bucket: %+v, %v", other, err)
	}

	*now = now.Add(1500 * time.Millisecond)
	dec, err = lim.Allow(ctx, "run_case", "tok-1", bucket)
	if err != nil || !dec.Allowed {
		t.Fatalf("expected refill after 1.5s: %+v, %v", dec, err)
	}

	for _, k := range mr.Keys() {
		if strings.Contains(k, "tok-1") {
			t.Fatalf("subject leaked into key %q", k)
		}
		if ttl := mr.TTL(k); ttl <= 0 {
			t.Fatalf("key %q has no ttl", k)
		}
	}
}

func TestBucketKey(t *testing.T) {
	k := bucketKey("", " ")
	if !strings.HasPrefix(k, "uicase:rl:default:") {
		t.Fatalf("unexpected key %q", k)
	}
	if bucketKey("run_case", "a") == bucketKey("webhook", "a") {
		t.Fatal("scopes must not share buckets")
	}
}

func TestTTLMS(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		capacity float64
		want     time.Duration
	}{
		{"invalid", 0, 5, 2 * time.Minute},
		{"floor", 10, 1, 30 * time.Second},
		{"two refills", 1, 60, 125 * time.Second},
		{"ceiling", 1.0 / 60, 100, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ttlMS(tt.rate, tt.capacity); got != tt.want.Milliseconds() {
				t.Errorf("ttlMS = %d, want %d", got, tt.want.Milliseconds())
			}
		})
	}
}
