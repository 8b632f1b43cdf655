package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "huginn/pkg/logx"
)

func TestMissedLogAppendConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missed_tasks.json")
	l := NewMissedLog(path, logx.Nop())

	at := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	for _, name := range []string{"first", "second"} {
		err := l.Append(MissedEntry{
			Name:        name,
			Action:      "search",
			Params:      map[string]string{"query": "news"},
			ScheduledAt: at,
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := l.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Consume returned %d entries, want 2", len(entries))
	}
	if entries[0].Name != "first" || entries[1].Name != "second" {
		t.Fatalf("order not preserved: %+v", entries)
	}
	if entries[0].RecordedAt.IsZero() {
		t.Fatalf("RecordedAt not stamped")
	}

	// Consuming clears the file.
	again, err := l.Consume()
	if err != nil {
		t.Fatalf("second Consume: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Consume returned %d entries, want 0", len(again))
	}
}

func TestMissedLogMissingFile(t *testing.T) {
	l := NewMissedLog(filepath.Join(t.TempDir(), "nope.json"), logx.Nop())
	entries, err := l.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if entries != nil {
		t.Fatalf("Consume of missing file returned entries: %+v", entries)
	}
}

func TestMissedLogCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missed_tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	l := NewMissedLog(path, logx.Nop())
	entries, err := l.Consume()
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("corrupt file yielded entries: %+v", entries)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("corrupt file not moved aside: %v", err)
	}
	// The log is usable again afterwards.
	if err := l.Append(MissedEntry{Name: "x", Action: "search", ScheduledAt: time.Now()}); err != nil {
		t.Fatalf("Append after corruption: %v", err)
	}
}
