package intent

import (
	"testing"
	"time"
)

func TestNormalizeSchedule(t *testing.T) {
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"immediate", "immediate", ""},
		{"null literal", "null", ""},
		{"rfc3339 passthrough", "2026-09-01T08:00:00Z", "2026-09-01T08:00:00Z"},
		{"tomorrow", "tomorrow", "2026-08-31T14:00:00Z"},
		{"today", "today", "2026-08-30T14:00:00Z"},
		{"in minutes", "in 20 minutes", "2026-08-30T14:20:00Z"},
		{"in one minute", "in 1 minute", "2026-08-30T14:01:00Z"},
		{"in hours", "in 3 hours", "2026-08-30T17:00:00Z"},
		{"in days", "in 2 days", "2026-09-01T14:00:00Z"},
		{"case insensitive", "Tomorrow", "2026-08-31T14:00:00Z"},
		{"unrecognized passthrough", "next full moon", "next full moon"},
		{"malformed relative", "in soon minutes", "in soon minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeSchedule(tc.raw, now); got != tc.want {
				t.Fatalf("NormalizeSchedule(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestNormalizeScheduleLocalISO(t *testing.T) {
	// The timezone-less variant parses in local time and comes back as RFC3339.
	got := NormalizeSchedule("2026-02-08T14:00:00", time.Now())
	want := time.Date(2026, 2, 8, 14, 0, 0, 0, time.Local).Format(time.RFC3339)
	if got != want {
		t.Fatalf("NormalizeSchedule = %q, want %q", got, want)
	}
}

func TestRecurrenceSpec(t *testing.T) {
	anchor := time.Date(2026, 9, 4, 8, 30, 0, 0, time.UTC) // a Friday
	cases := []struct {
		word string
		want string
	}{
		{"", ""},
		{"null", ""},
		{"daily", "30 8 * * *"},
		{"weekly", "30 8 * * 5"},
		{"monthly", "30 8 4 * *"},
		{"Daily", "30 8 * * *"},
	}
	for _, tc := range cases {
		got, err := RecurrenceSpec(tc.word, anchor)
		if err != nil {
			t.Fatalf("RecurrenceSpec(%q): %v", tc.word, err)
		}
		if got != tc.want {
			t.Fatalf("RecurrenceSpec(%q) = %q, want %q", tc.word, got, tc.want)
		}
	}
	if _, err := RecurrenceSpec("fortnightly", anchor); err == nil {
		t.Fatalf("unknown recurrence accepted")
	}
}

func TestRecurrenceSpecZeroAnchor(t *testing.T) {
	got, err := RecurrenceSpec("daily", time.Time{})
	if err != nil {
		t.Fatalf("RecurrenceSpec: %v", err)
	}
	if got != "0 9 * * *" {
		t.Fatalf("RecurrenceSpec with zero anchor = %q, want %q", got, "0 9 * * *")
	}
}
