package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "huginn/pkg/logx"
)

// ScheduleOnce registers a one-shot trigger firing at the given instant. A
// fire time already in the past fires immediately. Registering an existing
// name replaces the previous schedule of either kind.
func (s *Service) ScheduleOnce(name string, at time.Time, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("fire time required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	s.removeRecurringLocked(name)
	s.mu.Unlock()
	runAt := at.In(loc)

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	// bump version so stale callbacks from a replaced timer are ignored
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver
	s.onceAt[name] = runAt
	s.onceJob[name] = job

	s.armOnceLocked(name, runAt, ver)
	s.tmu.Unlock()

	s.log.Debug("one-shot scheduled", logx.String("name", name), logx.Time("at", runAt))
	return nil
}

// armOnceLocked creates the runtime timer for a persisted one-shot
// definition. Call with s.tmu held.
func (s *Service) armOnceLocked(name string, runAt time.Time, ver uint64) {
	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		// Before Start the run context doesn't exist yet; keep the definition
		// so Start can re-arm it.
		s.mu.Lock()
		started := s.runCtx != nil && s.runCtx.Err() == nil
		s.mu.Unlock()
		if !started {
			return
		}

		s.tmu.Lock()
		jobNow := s.onceJob[name]
		_, okAt := s.onceAt[name]
		if s.onceVer[name] != ver || jobNow == nil || !okAt {
			s.tmu.Unlock()
			return
		}
		// consume the definition first so a restart can't double-fire
		delete(s.timers, name)
		delete(s.onceAt, name)
		delete(s.onceJob, name)
		delete(s.onceVer, name)
		s.tmu.Unlock()

		s.runJob(name, jobNow)
	})
}

// rebuildOnceTimersLocked recreates runtime timers from persisted one-shot
// definitions. Call with s.mu held.
func (s *Service) rebuildOnceTimersLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}

	for name, runAt := range s.onceAt {
		job := s.onceJob[name]
		if job == nil {
			delete(s.onceAt, name)
			delete(s.onceJob, name)
			delete(s.onceVer, name)
			continue
		}
		ver := s.onceVer[name]
		if ver == 0 {
			ver = 1
			s.onceVer[name] = ver
		}
		s.armOnceLocked(name, runAt, ver)
	}
}

// ScheduleRecurring registers a cron trigger. The spec must be a 5-field cron
// expression; see ValidateSpec. Registering an existing name replaces the
// previous schedule of either kind.
func (s *Service) ScheduleRecurring(name, spec string, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}

	s.removeOnce(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeRecurringLocked(name)
	s.defs = append(s.defs, recurringDef{name: name, spec: spec, job: job})
	if s.c != nil {
		s.addCronLocked(&s.defs[len(s.defs)-1])
	}
	s.log.Debug("recurring scheduled", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Cancel unschedules all triggers for the given name. It reports whether
// anything was removed. Safe before Start; persisted definitions are removed
// either way.
func (s *Service) Cancel(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeRecurringLocked(name)
	s.mu.Unlock()

	removed = s.removeOnce(name) || removed
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// addCronLocked registers a recurring definition with the running cron
// instance. Call with s.mu held; spec was validated at registration.
func (s *Service) addCronLocked(d *recurringDef) {
	name, job := d.name, d.job
	eid, err := s.c.AddFunc(d.spec, func() { s.runJob(name, job) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
}

// removeRecurringLocked removes all recurring defs matching name and
// unregisters them from cron if running. Call with s.mu held.
func (s *Service) removeRecurringLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	removed := false
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.onceAt[name]; ok {
		delete(s.onceAt, name)
		removed = true
	}
	delete(s.onceJob, name)
	delete(s.onceVer, name)
	return removed
}
