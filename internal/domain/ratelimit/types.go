// Package ratelimit provides a sliding-window request counter, keyed by an
// opaque string (typically a client IP), with periodic compaction of idle
// keys.
package ratelimit

import (
	"context"
	"time"
)

// WindowMs is the sliding window width, per spec: 60 seconds.
const WindowMs = 60_000

// CompactionInterval is how often empty windows are dropped (spec: 30s).
const CompactionInterval = 30 * time.Second

// Result is the outcome of a Check call.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is a sliding-window counter over the last WindowMs milliseconds.
type Limiter interface {
	// Check trims timestamps older than now-WindowMs for key, then either
	// rejects (count >= limit, reporting the earliest-in-window timestamp
	// + WindowMs as ResetAt) or records now and reports limit-count as
	// Remaining.
	Check(ctx context.Context, key string, limit int) (Result, error)
	// Destroy stops background compaction. Safe to call more than once.
	Destroy()
}
