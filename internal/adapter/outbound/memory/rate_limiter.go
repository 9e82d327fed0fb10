package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agent-door/agentdoor/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.Limiter as an in-memory sliding window:
// each key maps to an ordered slice of request timestamps within the last
// ratelimit.WindowMs. Unlike a token-bucket/GCRA scheme, the window is
// exact: trimming happens on every Check, so a burst of n > limit requests
// within the window allows exactly limit of them through.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewRateLimiter creates a sliding-window rate limiter and starts its
// background compaction goroutine (spec: every 30s, drops empty windows).
func NewRateLimiter() *RateLimiter {
	r := &RateLimiter{
		windows:  make(map[string][]time.Time),
		stopChan: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.compactLoop()
	return r
}

func (r *RateLimiter) compactLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(ratelimit.CompactionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.compact()
		}
	}
}

func (r *RateLimiter) compact() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-ratelimit.WindowMs * time.Millisecond)
	dropped := 0
	for key, stamps := range r.windows {
		trimmed := trimBefore(stamps, cutoff)
		if len(trimmed) == 0 {
			delete(r.windows, key)
			dropped++
		} else {
			r.windows[key] = trimmed
		}
	}
	if dropped > 0 {
		slog.Debug("rate limiter compaction dropped empty windows", "count", dropped)
	}
}

// trimBefore returns the suffix of stamps (assumed ascending) with times
// >= cutoff.
func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}

// Check implements ratelimit.Limiter.
func (r *RateLimiter) Check(ctx context.Context, key string, limit int) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-ratelimit.WindowMs * time.Millisecond)

	stamps := trimBefore(r.windows[key], cutoff)

	if len(stamps) >= limit {
		resetAt := stamps[0].Add(ratelimit.WindowMs * time.Millisecond)
		r.windows[key] = stamps
		return ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	stamps = append(stamps, now)
	r.windows[key] = stamps

	return ratelimit.Result{
		Allowed:   true,
		Remaining: limit - len(stamps),
		ResetAt:   now.Add(ratelimit.WindowMs * time.Millisecond),
	}, nil
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Destroy stops background compaction. Safe to call more than once.
func (r *RateLimiter) Destroy() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)
