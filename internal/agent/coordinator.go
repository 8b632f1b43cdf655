package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"huginn/internal/eventbus"
	"huginn/internal/intent"
	"huginn/internal/taskstore"
	kit "huginn/internal/transport"
	"huginn/pkg/logx"
)

// Deps are the collaborators the coordinator drives.
type Deps struct {
	Store     TaskStore
	Scheduler Scheduler
	Pool      SearchPool
	Knowledge Knowledge
	Parser    intent.Parser
	Adapter   kit.Adapter
	Notifier  Notifier
	Bus       eventbus.Bus
	Logger    logx.Logger
}

// Coordinator executes parsed intents: immediately, or as stored tasks fired
// by the scheduler.
type Coordinator struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu     sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, deps Deps) *Coordinator {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.ImmediateTimeout <= 0 {
		cfg.ImmediateTimeout = 2 * time.Minute
	}
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:  cfg,
		deps: deps,
		log:  log.With(logx.String("component", "agent")),
		now:  time.Now,
	}
}

// Start records the lifetime context used for async immediate executions.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
}

// Stop waits for in-flight immediate executions, bounded by ctx.
func (c *Coordinator) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleMessage parses the message and dispatches the resulting intent. The
// reply is delivered to the originating chat; errors returned here are
// operational (reply delivery), not user mistakes.
func (c *Coordinator) HandleMessage(ctx context.Context, msg kit.Message) error {
	it, err := c.deps.Parser.Parse(ctx, msg.Text)
	if err != nil && !errors.Is(err, intent.ErrUnparseable) {
		c.log.Error("intent parse failed", logx.Err(err))
		return c.reply(ctx, msg.ChatID, "I could not process that right now, try again in a moment.")
	}
	return c.Dispatch(ctx, msg, it)
}

// Dispatch routes a parsed intent.
func (c *Coordinator) Dispatch(ctx context.Context, msg kit.Message, it intent.Intent) error {
	switch it.Action {
	case intent.ActionListTasks:
		return c.handleListTasks(ctx, msg.ChatID)
	case intent.ActionCancelTask:
		return c.handleCancel(ctx, msg.ChatID, it.TaskName)
	case intent.ActionSearch, intent.ActionAddNote:
		if it.Immediate() {
			return c.runImmediate(ctx, msg.ChatID, it)
		}
		return c.scheduleTask(ctx, msg.ChatID, it)
	default:
		text := "I did not understand that. I can search the web, save notes, list tasks and cancel them."
		if it.Raw != "" {
			c.log.Debug("unknown intent", logx.String("detail", it.Raw))
		}
		return c.reply(ctx, msg.ChatID, text)
	}
}

func (c *Coordinator) handleListTasks(ctx context.Context, chatID int64) error {
	tasks, err := c.deps.Store.List(ctx, "")
	if err != nil {
		c.log.Error("list tasks failed", logx.Err(err))
		return c.reply(ctx, chatID, "Could not read the task list.")
	}
	return c.reply(ctx, chatID, formatTasks(tasks))
}

func (c *Coordinator) handleCancel(ctx context.Context, chatID int64, name string) error {
	if name == "" {
		return c.reply(ctx, chatID, "Which task? Say: cancel <task name>.")
	}
	ok, err := c.deps.Store.Cancel(ctx, name)
	switch {
	case errors.Is(err, taskstore.ErrNotFound):
		return c.reply(ctx, chatID, fmt.Sprintf("No task named %q.", name))
	case err != nil:
		c.log.Error("cancel failed", logx.String("task", name), logx.Err(err))
		return c.reply(ctx, chatID, "Could not cancel the task.")
	case !ok:
		return c.reply(ctx, chatID, fmt.Sprintf("Task %q already ran and cannot be cancelled.", name))
	}
	c.deps.Scheduler.Cancel(name)
	c.publish(eventbus.TypeTaskCancelled, name, "")
	return c.reply(ctx, chatID, fmt.Sprintf("Cancelled %q.", name))
}

// runImmediate acknowledges right away, then executes in the background and
// edits the acknowledgement in place with the result.
func (c *Coordinator) runImmediate(ctx context.Context, chatID int64, it intent.Intent) error {
	ref, err := c.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, ackText(it.Action), nil)
	if err != nil {
		return fmt.Errorf("send ack: %w", err)
	}

	c.mu.Lock()
	base := c.runCtx
	c.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		runCtx, cancel := context.WithTimeout(base, c.cfg.ImmediateTimeout)
		defer cancel()

		result, err := c.executeAction(runCtx, string(it.Action), actionParams(it))
		if err != nil {
			c.log.Warn("immediate execution failed",
				logx.String("action", string(it.Action)), logx.Err(err))
			result = userError(err)
		}
		if err := c.deps.Adapter.EditText(base, ref, result, nil); err != nil {
			c.log.Warn("result edit failed", logx.Err(err))
		}
	}()
	return nil
}

// scheduleTask validates everything first so a rejected command leaves no
// partial state behind, then persists and arms the trigger.
func (c *Coordinator) scheduleTask(ctx context.Context, chatID int64, it intent.Intent) error {
	now := c.now()

	var at time.Time
	if it.Schedule != "" {
		var err error
		at, err = time.Parse(time.RFC3339, it.Schedule)
		if err != nil {
			return c.reply(ctx, chatID, "I could not make sense of that time. Try e.g. \"tomorrow\" or \"in 2 hours\".")
		}
	} else {
		at = now
	}

	var spec string
	if it.Recurrence != "" {
		var err error
		spec, err = intent.RecurrenceSpec(it.Recurrence, at)
		if err != nil {
			return c.reply(ctx, chatID, fmt.Sprintf("I do not know the recurrence %q. Use daily, weekly or monthly.", it.Recurrence))
		}
	}

	name := it.TaskName
	if name == "" {
		name = taskName(string(it.Action), it.Query, now)
	}

	_, err := c.deps.Store.Create(ctx, taskstore.NewTask{
		Name:       name,
		Action:     string(it.Action),
		Params:     actionParams(it),
		Schedule:   at.Format(time.RFC3339),
		Recurrence: spec,
		Owner:      strconv.FormatInt(chatID, 10),
	})
	switch {
	case errors.Is(err, taskstore.ErrDuplicateName):
		return c.reply(ctx, chatID, fmt.Sprintf("A task named %q already exists.", name))
	case err != nil:
		c.log.Error("task create failed", logx.String("task", name), logx.Err(err))
		return c.reply(ctx, chatID, "Could not save the task.")
	}

	if spec != "" {
		err = c.deps.Scheduler.ScheduleRecurring(name, spec, c.taskJob(name))
	} else {
		err = c.deps.Scheduler.ScheduleOnce(name, at, c.taskJob(name))
	}
	if err != nil {
		// Persisted but unarmed. Roll the row back so the user can retry.
		if _, derr := c.deps.Store.Cancel(ctx, name); derr != nil {
			c.log.Error("rollback failed", logx.String("task", name), logx.Err(derr))
		}
		c.log.Error("trigger registration failed", logx.String("task", name), logx.Err(err))
		return c.reply(ctx, chatID, "Could not schedule the task.")
	}

	c.publish(eventbus.TypeTaskScheduled, name, string(it.Action))
	c.log.Info("task scheduled",
		logx.String("task", name),
		logx.String("action", string(it.Action)),
		logx.Time("at", at),
		logx.String("recurrence", spec))

	if spec != "" {
		return c.reply(ctx, chatID, fmt.Sprintf("Scheduled %q (%s) starting %s.", name, it.Recurrence, at.Format("Mon 15:04")))
	}
	return c.reply(ctx, chatID, fmt.Sprintf("Scheduled %q for %s.", name, at.Format("Mon Jan 2 15:04")))
}

// Rearm registers the trigger for an already stored pending task, used when
// re-arming persisted tasks at startup.
func (c *Coordinator) Rearm(t taskstore.Task) error {
	if t.Recurring() {
		return c.deps.Scheduler.ScheduleRecurring(t.Name, t.Recurrence, c.taskJob(t.Name))
	}
	at, err := time.Parse(time.RFC3339, t.Schedule)
	if err != nil {
		return fmt.Errorf("task %s: %w: %v", t.Name, ErrInvalidSchedule, err)
	}
	return c.deps.Scheduler.ScheduleOnce(t.Name, at, c.taskJob(t.Name))
}

func (c *Coordinator) taskJob(name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return c.RunStored(ctx, name)
	}
}

// RunStored executes a stored task by name at fire time.
func (c *Coordinator) RunStored(ctx context.Context, name string) error {
	t, err := c.deps.Store.Get(ctx, name)
	if errors.Is(err, taskstore.ErrNotFound) {
		// Cancelled between arming and firing.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task %s: %w", name, err)
	}

	if err := c.deps.Store.SetStatus(ctx, name, taskstore.StatusRunning, time.Time{}); err != nil {
		c.log.Warn("status update failed", logx.String("task", name), logx.Err(err))
	}
	c.publish(eventbus.TypeTaskStarted, name, t.Action)

	result, execErr := c.executeAction(ctx, t.Action, t.Params)
	if execErr != nil {
		return c.handleRunFailure(ctx, t, execErr)
	}

	next := taskstore.StatusCompleted
	if t.Recurring() {
		// Recurring tasks stay pending so the next fire finds them.
		next = taskstore.StatusPending
	}
	if err := c.deps.Store.SetStatus(ctx, name, next, c.now()); err != nil {
		c.log.Warn("status update failed", logx.String("task", name), logx.Err(err))
	}
	c.publish(eventbus.TypeTaskCompleted, name, t.Action)
	c.notifyOwner(ctx, t, fmt.Sprintf("Task %q finished.\n\n%s", name, result))
	return nil
}

// handleRunFailure records a failed fire: bump the retry count, put the task
// back to pending, tell the owner. Nothing re-fires a failed one-shot unless
// retry re-arm is explicitly enabled; recurring tasks simply try again on
// their next cron fire.
func (c *Coordinator) handleRunFailure(ctx context.Context, t taskstore.Task, execErr error) error {
	n, err := c.deps.Store.IncrementRetry(ctx, t.Name)
	if err != nil {
		c.log.Warn("retry bump failed", logx.String("task", t.Name), logx.Err(err))
		n = t.RetryCount + 1
	}
	c.log.Warn("task execution failed",
		logx.String("task", t.Name),
		logx.Int("attempt", n),
		logx.Err(execErr))

	if c.cfg.RetryRearm && !t.Recurring() && n >= c.cfg.RetryMax {
		if err := c.deps.Store.SetStatus(ctx, t.Name, taskstore.StatusFailed, c.now()); err != nil {
			c.log.Warn("status update failed", logx.String("task", t.Name), logx.Err(err))
		}
		c.publish(eventbus.TypeTaskFailed, t.Name, t.Action)
		c.notifyOwner(ctx, t, fmt.Sprintf("Task %q failed after %d attempts: %s", t.Name, n, userError(execErr)))
		return fmt.Errorf("task %s: %w", t.Name, execErr)
	}

	if err := c.deps.Store.SetStatus(ctx, t.Name, taskstore.StatusPending, time.Time{}); err != nil {
		c.log.Warn("status update failed", logx.String("task", t.Name), logx.Err(err))
	}
	c.publish(eventbus.TypeTaskFailed, t.Name, t.Action)
	c.notifyOwner(ctx, t, fmt.Sprintf("Task %q failed (attempt %d): %s", t.Name, n, userError(execErr)))

	if c.cfg.RetryRearm && !t.Recurring() {
		delay := time.Duration(n) * retryRearmStep
		if err := c.deps.Scheduler.ScheduleOnce(t.Name, c.now().Add(delay), c.taskJob(t.Name)); err != nil {
			c.log.Error("retry re-arm failed", logx.String("task", t.Name), logx.Err(err))
		}
	}
	return fmt.Errorf("task %s: %w", t.Name, execErr)
}

const retryRearmStep = time.Minute

func (c *Coordinator) notifyOwner(ctx context.Context, t taskstore.Task, text string) {
	if c.deps.Notifier == nil {
		return
	}
	chatID, err := strconv.ParseInt(t.Owner, 10, 64)
	if err != nil {
		c.log.Warn("bad task owner", logx.String("task", t.Name), logx.String("owner", t.Owner))
		return
	}
	n := kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{ChatID: chatID},
		Text:    text,
	}
	if err := c.deps.Notifier.Notify(ctx, n); err != nil {
		c.log.Warn("owner notification failed", logx.String("task", t.Name), logx.Err(err))
	}
}

func (c *Coordinator) publish(typ, name, action string) {
	if c.deps.Bus == nil {
		return
	}
	c.deps.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: map[string]string{"name": name, "action": action},
	})
}

func (c *Coordinator) reply(ctx context.Context, chatID int64, text string) error {
	_, err := c.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}
