package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"huginn/internal/intent"
	"huginn/internal/taskstore"
	kit "huginn/internal/transport"
	"huginn/pkg/logx"
)

// ownerSet is the live authorization list, swapped whole on config reload.
type ownerSet struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
	// first keeps the primary owner for daemon-initiated notifications.
	first int64
}

func newOwnerSet(ids []int64) *ownerSet {
	s := &ownerSet{}
	s.set(ids)
	return s
}

func (s *ownerSet) set(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	var first int64
	for i, id := range ids {
		m[id] = struct{}{}
		if i == 0 {
			first = id
		}
	}
	s.mu.Lock()
	s.ids = m
	s.first = first
	s.mu.Unlock()
}

func (s *ownerSet) allowed(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *ownerSet) primary() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first
}

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-a.messages:
			if !ok {
				return nil
			}
			if !a.owners.allowed(msg.FromID) {
				a.log.Debug("message from non-owner ignored",
					logx.Int64("from", msg.FromID),
					logx.Int64("chat", msg.ChatID))
				continue
			}
			if err := a.handleMessage(ctx, msg); err != nil {
				a.log.Warn("message handling failed", logx.Err(err))
			}
		}
	}
}

func (a *App) handleMessage(ctx context.Context, msg kit.Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		return a.coord.HandleMessage(ctx, msg)
	}

	cmd, arg := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		return a.reply(ctx, msg.ChatID, helpText)
	case "/tasks":
		return a.coord.Dispatch(ctx, msg, intent.Intent{Action: intent.ActionListTasks})
	case "/cancel":
		return a.coord.Dispatch(ctx, msg, intent.Intent{Action: intent.ActionCancelTask, TaskName: arg})
	case "/status":
		return a.reply(ctx, msg.ChatID, a.statusText(ctx))
	default:
		return a.reply(ctx, msg.ChatID, "Unknown command. "+helpText)
	}
}

const helpText = `I can search the web, save notes, and schedule both.

Talk to me in plain language ("search golang news tomorrow daily") or use:
/tasks - list tasks
/cancel <name> - cancel a pending task
/status - daemon status`

func splitCommand(text string) (cmd, arg string) {
	cmd, arg, _ = strings.Cut(text, " ")
	// Commands may arrive as /cmd@botname in groups.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (a *App) statusText(ctx context.Context) string {
	var b strings.Builder
	ps := a.pool.Stats()
	quota := "unlimited"
	if ps.DailyQuota >= 0 {
		quota = fmt.Sprintf("%d/%d", ps.UsedToday, ps.DailyQuota)
	}
	fmt.Fprintf(&b, "Browser: %d/%d in use, quota %s\n", ps.InUse, ps.Instances, quota)
	fmt.Fprintf(&b, "Scheduler: %d armed", len(a.sched.Entries()))
	if !a.sched.Enabled() {
		b.WriteString(" (disabled)")
	}
	b.WriteString("\n")

	pending, err := a.store.List(ctx, taskstore.StatusPending)
	if err == nil {
		fmt.Fprintf(&b, "Tasks pending: %d\n", len(pending))
	}
	if a.kb != nil {
		if n, err := a.kb.Count(ctx); err == nil {
			fmt.Fprintf(&b, "Knowledge: %d documents\n", n)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *App) reply(ctx context.Context, chatID int64, text string) error {
	_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}
