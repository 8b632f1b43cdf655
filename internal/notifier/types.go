// Package notifier is the async outbound-message pipeline: a bounded queue
// drained by a worker pool, rate limited against the chat platform, with
// exponential-backoff retry. Task results and agent replies go through here
// so a slow or flaky platform never blocks execution.
package notifier

import "time"

// Config controls the pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// HistoryItem is a recently sent notification, kept for status output.
type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle
// events. Keep it small; subscribers may log or serialize it.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	ChatID  int64     `json:"chat_id"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
