package intent

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NormalizeSchedule converts the model's schedule field into the canonical
// form: "" for immediate, otherwise an RFC3339 instant. Relative phrases
// ("tomorrow", "today", "in 20 minutes") are resolved against now. Anything
// unrecognized is returned unchanged so downstream validation can reject it
// with a useful message.
func NormalizeSchedule(raw string, now time.Time) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "immediate") || strings.EqualFold(s, "null") {
		return ""
	}

	if t, err := parseISO(s); err == nil {
		return t.Format(time.RFC3339)
	}

	lower := strings.ToLower(s)
	switch {
	case lower == "tomorrow":
		return now.Add(24 * time.Hour).Format(time.RFC3339)
	case lower == "today":
		return now.Format(time.RFC3339)
	case strings.HasPrefix(lower, "in "):
		if t, ok := parseRelative(lower, now); ok {
			return t.Format(time.RFC3339)
		}
	}
	return s
}

// parseISO accepts RFC3339 and the common timezone-less variant models emit
// ("2026-02-08T14:00:00"), interpreted in local time.
func parseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.Local)
}

// parseRelative handles "in N minutes|hours|days". Unit matching is by
// substring so singular and plural both work.
func parseRelative(lower string, now time.Time) (time.Time, bool) {
	parts := strings.Fields(lower)
	if len(parts) < 3 {
		return time.Time{}, false
	}
	amount, err := strconv.Atoi(parts[1])
	if err != nil || amount < 0 {
		return time.Time{}, false
	}
	unit := parts[2]
	switch {
	case strings.Contains(unit, "minute"):
		return now.Add(time.Duration(amount) * time.Minute), true
	case strings.Contains(unit, "hour"):
		return now.Add(time.Duration(amount) * time.Hour), true
	case strings.Contains(unit, "day"):
		return now.Add(time.Duration(amount) * 24 * time.Hour), true
	}
	return time.Time{}, false
}

// RecurrenceSpec maps a recurrence word to a 5-field cron expression anchored
// at the task's fire time. A zero anchor defaults to 09:00.
func RecurrenceSpec(word string, anchor time.Time) (string, error) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || w == "null" {
		return "", nil
	}
	hour, min := 9, 0
	dom, dow := anchor.Day(), int(anchor.Weekday())
	if !anchor.IsZero() {
		hour, min = anchor.Hour(), anchor.Minute()
	} else {
		dom, dow = 1, 1
	}
	switch w {
	case "daily":
		return fmt.Sprintf("%d %d * * *", min, hour), nil
	case "weekly":
		return fmt.Sprintf("%d %d * * %d", min, hour, dow), nil
	case "monthly":
		return fmt.Sprintf("%d %d %d * *", min, hour, dom), nil
	}
	return "", fmt.Errorf("intent: unknown recurrence %q", word)
}
