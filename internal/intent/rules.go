package intent

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// RuleParser is a deterministic fallback for deployments without a model
// endpoint. It understands a narrow command grammar:
//
//	search <query> [tomorrow|today|in N minutes|hours|days] [daily|weekly|monthly]
//	note <content> / remember <content>
//	tasks / list tasks
//	cancel <task-name>
type RuleParser struct {
	now func() time.Time
}

func NewRuleParser() *RuleParser {
	return &RuleParser{now: time.Now}
}

var (
	relativeRe = regexp.MustCompile(`(?i)\b(tomorrow|today|in \d+ (?:minutes?|hours?|days?))\b`)
	recurRe    = regexp.MustCompile(`(?i)\b(daily|weekly|monthly)\b`)
)

func (p *RuleParser) Parse(ctx context.Context, message string) (Intent, error) {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	switch {
	case lower == "tasks" || lower == "list tasks" || lower == "list my tasks":
		return Intent{Action: ActionListTasks}, nil

	case strings.HasPrefix(lower, "cancel "):
		name := strings.TrimSpace(msg[len("cancel "):])
		return Intent{Action: ActionCancelTask, TaskName: name}, nil

	case strings.HasPrefix(lower, "note "), strings.HasPrefix(lower, "remember "):
		_, content, _ := strings.Cut(msg, " ")
		return Intent{Action: ActionAddNote, Query: strings.TrimSpace(content)}, nil

	case strings.HasPrefix(lower, "search "):
		query := strings.TrimSpace(msg[len("search "):])
		in := Intent{Action: ActionSearch}
		if m := relativeRe.FindString(query); m != "" {
			in.Schedule = NormalizeSchedule(strings.ToLower(m), p.now())
			query = strings.TrimSpace(relativeRe.ReplaceAllString(query, ""))
		}
		if m := recurRe.FindString(query); m != "" {
			in.Recurrence = strings.ToLower(m)
			query = strings.TrimSpace(recurRe.ReplaceAllString(query, ""))
		}
		in.Query = strings.Join(strings.Fields(query), " ")
		return in, nil
	}
	return Intent{Action: ActionUnknown, Raw: "unrecognized command"}, nil
}
