// proof-of-human/models/services_test.go
package models

import (
	"sync"
	"testing"
	"time"
)

// TestRateLimiterWindow verifies the sliding-window admit/deny behavior.
func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.SetClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		if !rl.Allow(1, 100) {
			t.Fatalf("Expected action %d to be allowed", i+1)
		}
	}
	if rl.Allow(1, 100) {
		t.Error("Expected fourth action inside the window to be denied")
	}

	// A different pair has its own window.
	if !rl.Allow(2, 100) {
		t.Error("Expected a different user to be allowed")
	}
	if !rl.Allow(1, 200) {
		t.Error("Expected the same user in a different chat to be allowed")
	}

	// Denied attempts must not consume the window once it reopens.
	clock = clock.Add(61 * time.Second)
	for i := 0; i < 3; i++ {
		if !rl.Allow(1, 100) {
			t.Fatalf("Expected action %d after window expiry to be allowed", i+1)
		}
	}
}

// TestRateLimiterReset checks that Reset clears a pair's window early.
func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow(7, 70) {
		t.Fatal("Expected first action to be allowed")
	}
	if rl.Allow(7, 70) {
		t.Fatal("Expected second action to be denied")
	}

	rl.Reset(7, 70)
	if !rl.Allow(7, 70) {
		t.Error("Expected action after Reset to be allowed")
	}
}

// TestRateLimiterConcurrent hammers one key from many goroutines and checks
// the limit is never exceeded.
func TestRateLimiterConcurrent(t *testing.T) {
	const max = 10
	rl := NewRateLimiter(max, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow(5, 50) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != max {
		t.Errorf("Expected exactly %d allowed actions, got %d", max, allowed)
	}
}
