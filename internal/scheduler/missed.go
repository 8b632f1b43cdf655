package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "huginn/pkg/logx"
)

// MissedEntry records a one-shot task whose fire time passed while the
// process was down.
type MissedEntry struct {
	Name        string            `json:"name"`
	Action      string            `json:"action"`
	Params      map[string]string `json:"params,omitempty"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	RecordedAt  time.Time         `json:"recorded_at"`
}

// MissedLog is a small JSON file of missed one-shot tasks. Entries accumulate
// via Append at startup re-arm and are drained via Consume, which hands them
// to the recovery policy and clears the file.
type MissedLog struct {
	mu   sync.Mutex
	path string
	log  logx.Logger
}

func NewMissedLog(path string, log logx.Logger) *MissedLog {
	if path == "" {
		path = "./missed_tasks.json"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MissedLog{path: path, log: log}
}

// Append records a missed task. The file is rewritten whole; volumes are
// tiny (bounded by the pending one-shot tasks of a single owner).
func (l *MissedLog) Append(e MissedEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return err
	}
	entries = append(entries, e)
	if err := l.writeLocked(entries); err != nil {
		return err
	}
	l.log.Warn("task missed while down",
		logx.String("name", e.Name),
		logx.Time("scheduled_at", e.ScheduledAt),
	)
	return nil
}

// Consume returns all recorded entries and clears the file.
func (l *MissedLog) Consume() ([]MissedEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if err := l.writeLocked(nil); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *MissedLog) readLocked() ([]MissedEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read missed log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []MissedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt log should not wedge startup; keep the bad file aside.
		bad := l.path + ".corrupt"
		if rerr := os.Rename(l.path, bad); rerr == nil {
			l.log.Error("missed log corrupt; moved aside", logx.String("path", bad), logx.Err(err))
			return nil, nil
		}
		return nil, fmt.Errorf("decode missed log: %w", err)
	}
	return entries, nil
}

func (l *MissedLog) writeLocked(entries []MissedEntry) error {
	if dir := filepath.Dir(l.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create missed log dir: %w", err)
		}
	}
	if len(entries) == 0 {
		return os.WriteFile(l.path, []byte("[]"), 0o644)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal missed log: %w", err)
	}
	return os.WriteFile(l.path, data, 0o644)
}
