package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowAndDeny(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !rl.AllowAt("ip", now) {
		t.Fatalf("expected allow")
	}
	if !rl.AllowAt("ip", now) {
		t.Fatalf("expected allow")
	}
	if rl.AllowAt("ip", now) {
		t.Fatalf("expected deny")
	}

	later := now.Add(time.Minute + time.Second)
	if !rl.AllowAt("ip", later) {
		t.Fatalf("expected allow after window")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !rl.AllowAt("a", now) {
		t.Fatalf("expected allow for a")
	}
	if !rl.AllowAt("b", now) {
		t.Fatalf("expected allow for b, independent of a's bucket")
	}
	if rl.AllowAt("a", now) {
		t.Fatalf("expected deny for a's second request")
	}
}
