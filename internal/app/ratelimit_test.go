package app

import (
	"testing"
	"time"
)

func TestSendLimiterPerUserBurst(t *testing.T) {
	limiter := newSendLimiter(1, 3)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.Allow(2) {
			t.Fatalf("send %d within burst was refused", i)
		}
	}
	if limiter.Allow(2) {
		t.Fatal("fourth send in the same instant must be refused")
	}
	if !limiter.Allow(3) {
		t.Fatal("another user has their own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow(2) {
		t.Fatal("bucket should refill after a second")
	}
}

func TestSendLimiterDisabled(t *testing.T) {
	limiter := newSendLimiter(0, 10)
	if limiter != nil {
		t.Fatal("non-positive rate disables limiting")
	}
	for i := 0; i < 100; i++ {
		if !limiter.Allow(1) {
			t.Fatal("nil limiter must allow everything")
		}
	}
}

func TestSendLimiterSweepsIdleUsers(t *testing.T) {
	limiter := newSendLimiter(1, 1)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for id := int64(1); id <= limiterSweepAbove; id++ {
		limiter.Allow(id)
	}
	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.Allow(limiterSweepAbove + 1)

	if got := len(limiter.limiters); got != 1 {
		t.Fatalf("expected idle entries to be swept, %d remain", got)
	}
}
