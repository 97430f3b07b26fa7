package ratelimiter

import (
	"context"
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{name: "standard rate", requestsPerSecond: 100, burst: 200},
		{name: "zero burst", requestsPerSecond: 5, burst: 0},
		{name: "unlimited (zero rate)", requestsPerSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an unusable limiter")
			}
			if !limiter.Allow() {
				t.Fatal("first request should be allowed")
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the burst capacity.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow() {
		t.Fatal("request beyond burst should be rejected")
	}
}

// TestUnlimited verifies that a zero rate never throttles.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d rejected by unlimited limiter", i)
		}
	}
}

// TestWaitCancelled verifies Wait honours context cancellation.
func TestWaitCancelled(t *testing.T) {
	limiter := New(1, 1)
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
}
