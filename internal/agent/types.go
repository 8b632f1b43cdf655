// Package agent coordinates the whole command path: parsed intents become
// stored tasks, scheduled triggers, and rationed browser executions, with
// results delivered back to the owner's chat.
package agent

import (
	"context"
	"errors"
	"time"

	"huginn/internal/browserpool"
	"huginn/internal/knowledge"
	"huginn/internal/taskstore"
	kit "huginn/internal/transport"
)

var (
	// ErrUnknownAction is returned for intents outside the supported set.
	ErrUnknownAction = errors.New("agent: unknown action")
	// ErrInvalidSchedule is returned when a schedule string is not a valid
	// RFC3339 instant.
	ErrInvalidSchedule = errors.New("agent: invalid schedule")
)

// Config controls execution behavior.
type Config struct {
	// RetryRearm re-fires a failed one-shot with a growing delay instead of
	// leaving it pending. Off by default: a failed fire bumps the retry count,
	// notifies the owner, and otherwise leaves the task alone.
	RetryRearm bool
	// RetryMax is how many failures a re-armed one-shot survives before being
	// marked failed. Only consulted when RetryRearm is on. Default: 3.
	RetryMax int
	// ImmediateTimeout bounds a run-now execution. Default: 2m.
	ImmediateTimeout time.Duration
}

// TaskStore is the persistence surface the coordinator needs.
type TaskStore interface {
	Create(ctx context.Context, nt taskstore.NewTask) (taskstore.Task, error)
	Get(ctx context.Context, name string) (taskstore.Task, error)
	List(ctx context.Context, status taskstore.Status) ([]taskstore.Task, error)
	Cancel(ctx context.Context, name string) (bool, error)
	SetStatus(ctx context.Context, name string, status taskstore.Status, executedAt time.Time) error
	IncrementRetry(ctx context.Context, name string) (int, error)
}

// Scheduler is the trigger surface the coordinator needs.
type Scheduler interface {
	ScheduleOnce(name string, at time.Time, job func(ctx context.Context) error) error
	ScheduleRecurring(name, spec string, job func(ctx context.Context) error) error
	Cancel(name string) bool
}

// SearchPool rations browser-backed searches.
type SearchPool interface {
	Execute(ctx context.Context, fn func(ctx context.Context, b browserpool.Browser) error) error
	Stats() browserpool.Stats
}

// Knowledge is the note and capture surface.
type Knowledge interface {
	AddDocument(ctx context.Context, content string, meta map[string]string) (bool, error)
	AddSearchResults(ctx context.Context, query string, results []browserpool.SearchResult) (int, error)
	Search(ctx context.Context, query string, topK int) ([]knowledge.Document, error)
}

// Notifier delivers async results back to the owner.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}
