// Package intent turns free-form user messages into structured commands. The
// primary parser delegates to an OpenAI-compatible chat endpoint; a
// rule-based fallback covers deployments without one.
package intent

import (
	"context"
	"errors"
)

// Action is the closed set of things the agent can do.
type Action string

const (
	ActionSearch     Action = "search"
	ActionAddNote    Action = "add_note"
	ActionListTasks  Action = "list_tasks"
	ActionCancelTask Action = "cancel_task"
	ActionUnknown    Action = "unknown"
)

// Known reports whether a is a recognized non-unknown action.
func (a Action) Known() bool {
	switch a {
	case ActionSearch, ActionAddNote, ActionListTasks, ActionCancelTask:
		return true
	}
	return false
}

// Intent is a parsed command.
type Intent struct {
	Action Action
	// Query is the search query or note content.
	Query string
	// TaskName names the target for cancel_task.
	TaskName string
	// Schedule is an RFC3339 instant, or empty for immediate execution.
	Schedule string
	// Recurrence is the raw recurrence word (daily, weekly, monthly), empty
	// for one-shot commands.
	Recurrence string
	// Raw carries the model's error text when Action is unknown.
	Raw string
}

// Immediate reports whether the command should run right away. A recurrence
// with no start time is still a deferred command; the first fire is anchored
// at "now" by whoever schedules it.
func (i Intent) Immediate() bool { return i.Schedule == "" && i.Recurrence == "" }

// Parser extracts an Intent from a message.
type Parser interface {
	Parse(ctx context.Context, message string) (Intent, error)
}

// ErrUnparseable is returned when no structured intent could be extracted.
// Callers treat it as an unknown action rather than an operational failure.
var ErrUnparseable = errors.New("intent: message could not be parsed")
