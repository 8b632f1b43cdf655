// Package taskstore persists scheduled tasks in SQLite and is the canonical
// record the scheduler and coordinator work from.
package taskstore

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a stored task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is a stored task row.
type Task struct {
	ID         string
	Name       string
	Action     string
	Params     map[string]string
	Schedule   string // RFC3339 instant for one-shot tasks, informational for recurring
	Recurrence string // cron expression, empty for one-shot tasks
	Owner      string
	Status     Status
	CreatedAt  time.Time
	ExecutedAt time.Time // zero until the task has run
	RetryCount int
}

// Recurring reports whether the task repeats on a cron schedule.
func (t Task) Recurring() bool { return t.Recurrence != "" }

// NewTask is the caller-supplied portion of a task row.
type NewTask struct {
	Name       string
	Action     string
	Params     map[string]string
	Schedule   string
	Recurrence string
	Owner      string
}

// Config configures the store.
type Config struct {
	Path        string        `json:"path" yaml:"path"`
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"`
}

var (
	// ErrNotFound is returned when no task with the given name exists.
	ErrNotFound = errors.New("task not found")
	// ErrDuplicateName is returned by Create when the name is already taken.
	ErrDuplicateName = errors.New("task name already exists")
)
