package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "huginn/pkg/logx"
)

// Strict 5-field cron (minute hour dom month dow). No seconds, no @descriptors;
// schedule strings come from users and the closed format keeps validation
// errors comprehensible.
func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// ValidateSpec reports whether spec is an acceptable recurring schedule.
// Callers validate before persisting a task so a bad spec never reaches the
// store.
func ValidateSpec(spec string) error {
	_, err := newParser().Parse(spec)
	return err
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		parser:  newParser(),
		timers:  map[string]*time.Timer{},
		onceAt:  map[string]time.Time{},
		onceJob: map[string]Job{},
		onceVer: map[string]uint64{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps in a new config. A timezone change restarts the cron runner and
// re-registers every recurring definition in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start begins cron triggering and arms one-shot timers from persisted
// definitions. Safe to call once; subsequent calls are no-ops until Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.rebuildOnceTimersLocked()
	s.log.Info("scheduler started", logx.String("tz", loc.String()),
		logx.Int("recurring", len(s.defs)), logx.Int("one_shot", len(s.onceAt)))
}

// Stop halts cron triggering and stops all runtime one-shot timers. Persisted
// one-shot definitions remain so they can resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort drain
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Entries returns the registered schedules for status output, one-shot timers
// first by fire time, then recurring by name.
func (s *Service) Entries() []EntryInfo {
	var out []EntryInfo

	s.tmu.Lock()
	for name, at := range s.onceAt {
		out = append(out, EntryInfo{Name: name, At: at})
	}
	s.tmu.Unlock()

	s.mu.Lock()
	now := time.Now()
	if s.loc != nil {
		now = now.In(s.loc)
	}
	for _, d := range s.defs {
		e := EntryInfo{Name: d.name, Spec: d.spec}
		if sched, err := s.parser.Parse(d.spec); err == nil {
			e.At = sched.Next(now)
		}
		out = append(out, e)
	}
	s.mu.Unlock()

	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", loc.String()), logx.Int("recurring", len(s.defs)))
}

// runJob invokes a job callback with panic containment. Runs on the cron or
// timer goroutine; job errors are the caller's to handle, they are only
// logged here.
func (s *Service) runJob(name string, job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule job panicked", logx.String("name", name), logx.Any("panic", r))
		}
	}()
	if err := job(ctx); err != nil {
		s.log.Warn("schedule job failed", logx.String("name", name), logx.Err(err))
	}
}
