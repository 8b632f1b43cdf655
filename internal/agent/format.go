package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"huginn/internal/browserpool"
	"huginn/internal/taskstore"
)

const maxShownResults = 5

func formatResults(query string, results []browserpool.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results for %q.", query)
	}
	shown := results
	if len(shown) > maxShownResults {
		shown = shown[:maxShownResults]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	for i, r := range shown {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString(r.Snippet)
			b.WriteString("\n")
		}
	}
	if len(results) > len(shown) {
		fmt.Fprintf(&b, "\n(%d more not shown)", len(results)-len(shown))
	}
	return b.String()
}

func formatTasks(tasks []taskstore.Task) string {
	if len(tasks) == 0 {
		return "No tasks."
	}
	var b strings.Builder
	b.WriteString("Tasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n%s [%s] %s", t.Name, t.Status, t.Action)
		if t.Recurring() {
			fmt.Fprintf(&b, " (recurring %s)", t.Recurrence)
		} else if t.Schedule != "" {
			if at, err := time.Parse(time.RFC3339, t.Schedule); err == nil {
				fmt.Fprintf(&b, " at %s", at.Format("Mon Jan 2 15:04"))
			}
		}
	}
	return b.String()
}

// taskName builds a readable unique-ish name from the action and query.
func taskName(action, query string, now time.Time) string {
	slug := strings.ToLower(query)
	// Truncate by runes so a multi-byte query can't leave a torn character.
	if r := []rune(slug); len(r) > 20 {
		slug = string(r[:20])
	}
	slug = strings.Join(strings.Fields(slug), "-")
	if slug == "" {
		return action + "-" + strconv.FormatInt(now.Unix(), 10)
	}
	return action + "-" + slug + "-" + strconv.FormatInt(now.Unix(), 10)
}

// userError strips wrapping detail down to something fit for a chat message.
func userError(err error) string {
	switch {
	case errors.Is(err, browserpool.ErrQuotaExceeded):
		return "Daily browser quota reached, try again tomorrow."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long and was aborted."
	default:
		return "Something went wrong: " + err.Error()
	}
}
