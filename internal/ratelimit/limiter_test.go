package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestCheckNilRedisFailsOpen(t *testing.T) {
	l := NewLimiter(nil)
	res, err := l.Check(context.Background(), "key-1", 60, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Allowed {
		t.Error("nil Redis must admit the request")
	}
	if res.Remaining != 59 {
		t.Errorf("Remaining = %d, want 59", res.Remaining)
	}
	if res.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0 on an admitted request", res.RetryAfter)
	}
}

func TestCheckNilRedisNeverDenies(t *testing.T) {
	l := NewLimiter(nil)
	for i := 0; i < 100; i++ {
		res, _ := l.Check(context.Background(), "key-1", 10, time.Minute)
		if !res.Allowed {
			t.Fatalf("denied on check %d without Redis", i)
		}
	}
}

func TestResetTime(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	// empty window resets a full window from now
	if got := resetTime(0, now, window); !got.Equal(now.Add(window)) {
		t.Errorf("empty window reset = %v, want %v", got, now.Add(window))
	}

	// with entries, the reset is when the oldest one expires
	oldest := now.Add(-40 * time.Second)
	got := resetTime(oldest.UnixMicro(), now, window)
	want := oldest.Add(window)
	if !got.Equal(want) {
		t.Errorf("reset = %v, want %v (oldest entry + window)", got, want)
	}
	if got.Sub(now) != 20*time.Second {
		t.Errorf("free slot in %v, want 20s", got.Sub(now))
	}
}

func TestMemberUniqueness(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		m := member(now)
		if seen[m] {
			t.Fatalf("duplicate member %q for identical timestamps", m)
		}
		seen[m] = true
	}
}

func TestOpenResultReportsFullWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	res := openResult(42, now, time.Minute)
	if !res.Allowed || res.Remaining != 42 {
		t.Errorf("openResult = %+v", res)
	}
	if !res.ResetAt.Equal(now.Add(time.Minute)) {
		t.Errorf("ResetAt = %v, want now+window", res.ResetAt)
	}
}
