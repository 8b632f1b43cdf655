// Package browserpool rations access to a small set of browser-backed search
// workers. It enforces three independent limits: a concurrency cap (one user
// per instance), a daily acquisition quota, and a minimum start-to-start
// spacing between uses.
package browserpool

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Browser is a single search-capable worker instance.
type Browser interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// SearchResult is one hit returned by a Browser.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Config controls the pool limits.
type Config struct {
	// Instances is the number of concurrently usable workers. Default: 2.
	Instances int
	// DailyQuota caps acquisitions per local calendar day. 0 means the
	// default of 50; use a negative value for unlimited.
	DailyQuota int
	// MinSpacing is the minimum delay between consecutive use starts.
	MinSpacing time.Duration
	// RefundFailedUse returns the quota slot when an execution errors.
	RefundFailedUse bool
}

// Factory builds the worker for a pool slot.
type Factory func(slot int) (Browser, error)

var (
	// ErrQuotaExceeded is returned before any waiting when the daily quota
	// is spent. Callers see it immediately; they never queue behind a dead
	// quota.
	ErrQuotaExceeded = errors.New("browserpool: daily quota exceeded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("browserpool: pool closed")
)

// ExecError wraps a failure from the leased worker, as opposed to an
// acquisition failure.
type ExecError struct {
	Slot int
	Err  error
}

func (e *ExecError) Error() string { return fmt.Sprintf("browserpool: slot %d: %v", e.Slot, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

// Stats is a point-in-time view for status output.
type Stats struct {
	Instances  int
	InUse      int
	UsedToday  int
	DailyQuota int
}
