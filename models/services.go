// proof-of-human/models/services.go
package models

import (
	"fmt"
	"sync"
	"time"
)

// --- Stateful Services ---

// RateLimiter bounds how often a (user, chat) pair may trigger
// challenge-related actions. It is a sliding-window counter: every check
// prunes entries older than the window, then admits the action iff the
// remaining count is below the limit. Purely in-memory; a restart clears all
// windows, which is fine because this throttles noise, it is not a security
// boundary.
type RateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a sliding-window limiter admitting at most max
// actions per key within the window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func pairKey(userID, chatID int64) string {
	return fmt.Sprintf("%d:%d", userID, chatID)
}

// Allow records and admits an action for the pair, or denies without
// recording once the window is full.
func (rl *RateLimiter) Allow(userID, chatID int64) bool {
	key := pairKey(userID, chatID)
	now := rl.now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	kept := rl.hits[key][:0]
	for _, at := range rl.hits[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= rl.max {
		rl.hits[key] = kept
		return false
	}

	rl.hits[key] = append(kept, now)
	return true
}

// Reset clears the window for a pair early, e.g. after a successful
// verification.
func (rl *RateLimiter) Reset(userID, chatID int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.hits, pairKey(userID, chatID))
}

// SetClock replaces the limiter's clock. Test hook.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// StorageService abstracts where database exports end up.
type StorageService interface {
	SaveExport(name string, data []byte) (string, error)
}
