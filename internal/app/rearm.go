package app

import (
	"context"
	"fmt"
	"time"

	"huginn/internal/eventbus"
	"huginn/internal/scheduler"
	"huginn/internal/taskstore"
	kit "huginn/internal/transport"
	"huginn/pkg/logx"
)

// rearmStored registers triggers for every pending task in the store.
// One-shot tasks whose fire time passed while the process was down are
// recorded in the missed log instead of being silently executed late.
func (a *App) rearmStored(ctx context.Context) error {
	tasks, err := a.store.List(ctx, taskstore.StatusPending)
	if err != nil {
		return fmt.Errorf("load pending tasks: %w", err)
	}

	var armed, missed int
	now := time.Now()
	for _, t := range tasks {
		if !t.Recurring() {
			at, perr := time.Parse(time.RFC3339, t.Schedule)
			if perr != nil {
				a.log.Error("stored task has unusable schedule; marking failed",
					logx.String("task", t.Name), logx.Err(perr))
				_ = a.store.SetStatus(ctx, t.Name, taskstore.StatusFailed, time.Time{})
				continue
			}
			if at.Before(now) {
				a.recordMissed(ctx, t, at)
				missed++
				continue
			}
		}
		if err := a.coord.Rearm(t); err != nil {
			a.log.Error("re-arm failed", logx.String("task", t.Name), logx.Err(err))
			continue
		}
		armed++
	}

	if armed > 0 || missed > 0 {
		a.log.Info("stored tasks re-armed", logx.Int("armed", armed), logx.Int("missed", missed))
	}
	return nil
}

func (a *App) recordMissed(ctx context.Context, t taskstore.Task, at time.Time) {
	if err := a.missed.Append(scheduler.MissedEntry{
		Name:        t.Name,
		Action:      t.Action,
		Params:      t.Params,
		ScheduledAt: at,
	}); err != nil {
		a.log.Error("missed log append failed", logx.String("task", t.Name), logx.Err(err))
	}
	if err := a.store.SetStatus(ctx, t.Name, taskstore.StatusFailed, time.Time{}); err != nil {
		a.log.Warn("status update failed", logx.String("task", t.Name), logx.Err(err))
	}
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeTaskMissed,
		Data: map[string]string{"name": t.Name, "action": t.Action},
	})
}

// MissedPolicy decides what happens to tasks that were due while the daemon
// was down. The default reports them to the primary owner and discards; the
// log is consumed exactly once either way.
type MissedPolicy func(ctx context.Context, entries []scheduler.MissedEntry)

// SetMissedPolicy replaces the default missed-task handling. Call before
// Start.
func (a *App) SetMissedPolicy(p MissedPolicy) {
	if p != nil {
		a.missedPolicy = p
	}
}

// reportMissed drains the missed log and hands the entries to the configured
// policy.
func (a *App) reportMissed(ctx context.Context) {
	entries, err := a.missed.Consume()
	if err != nil {
		a.log.Error("missed log read failed", logx.Err(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	a.missedPolicy(ctx, entries)
}

// logAndNotifyMissed is the default policy: warn per entry and tell the
// primary owner once. Recovery stays a human decision.
func (a *App) logAndNotifyMissed(ctx context.Context, entries []scheduler.MissedEntry) {
	for _, e := range entries {
		a.log.Warn("task missed while daemon was down",
			logx.String("task", e.Name),
			logx.String("action", e.Action),
			logx.Time("scheduled_at", e.ScheduledAt))
	}

	owner := a.owners.primary()
	if owner == 0 || !a.notif.Enabled() {
		return
	}
	text := fmt.Sprintf("%d task(s) missed while I was down:", len(entries))
	for _, e := range entries {
		text += fmt.Sprintf("\n- %s (%s) was due %s", e.Name, e.Action, e.ScheduledAt.Format("Mon Jan 2 15:04"))
	}
	if err := a.notif.Notify(ctx, kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: owner},
		Text:    text,
	}); err != nil {
		a.log.Warn("missed task report failed", logx.Err(err))
	}
}
