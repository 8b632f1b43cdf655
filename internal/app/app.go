// Package app wires the daemon together: config, logging, storage, the
// browser pool, the trigger scheduler, the intent parser and the execution
// coordinator, plus the Telegram front door.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"huginn/internal/agent"
	"huginn/internal/browserpool"
	"huginn/internal/config"
	"huginn/internal/eventbus"
	"huginn/internal/intent"
	"huginn/internal/knowledge"
	"huginn/internal/notifier"
	rtsup "huginn/internal/runtime/supervisor"
	"huginn/internal/scheduler"
	"huginn/internal/taskstore"
	kit "huginn/internal/transport"
	"huginn/internal/transport/telegram"
	"huginn/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store *taskstore.Store
	kb    *knowledge.Store

	adapter kit.Adapter
	pool    *browserpool.Pool
	sched   *scheduler.Service
	missed  *scheduler.MissedLog
	notif   *notifier.Service
	coord   *agent.Coordinator

	owners *ownerSet

	retention         time.Duration
	retentionInterval time.Duration

	missedPolicy MissedPolicy

	messages chan kit.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	busyTimeout, err := config.ParseDurationOrDefault("store.busy_timeout", cfg.Store.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := taskstore.Open(taskstore.Config{
		Path:        cfg.Store.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "taskstore")))
	if err != nil {
		return nil, err
	}

	var kb *knowledge.Store
	if cfg.Knowledge.Enabled {
		kbPath := cfg.Knowledge.Path
		if strings.TrimSpace(kbPath) == "" {
			kbPath = cfg.Store.Path
		}
		kb, err = knowledge.Open(knowledge.Config{
			Path:        kbPath,
			BusyTimeout: busyTimeout,
		}, logSvc.Logger().With(logx.String("comp", "knowledge")))
		if err != nil {
			return nil, err
		}
	}

	poolCfg, err := mapBrowserConfig(cfg)
	if err != nil {
		return nil, err
	}
	reqTimeout, err := config.ParseDurationOrDefault("browser.request_timeout", cfg.Browser.RequestTimeout, 20*time.Second)
	if err != nil {
		return nil, err
	}
	searxLog := logSvc.Logger().With(logx.String("comp", "searx"))
	pool, err := browserpool.New(poolCfg, func(slot int) (browserpool.Browser, error) {
		return browserpool.NewSearx(cfg.Browser.SearxURL, reqTimeout, searxLog.With(logx.Int("slot", slot)))
	}, logSvc.Logger().With(logx.String("comp", "browserpool")))
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, logSvc.Logger().With(logx.String("comp", "scheduler")))

	missed := scheduler.NewMissedLog(cfg.Scheduler.MissedTasksPath,
		logSvc.Logger().With(logx.String("comp", "missedlog")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, logSvc.Logger().With(logx.String("comp", "notifier")), bus)

	parser, err := buildParser(cfg, logSvc.Logger().With(logx.String("comp", "intent")))
	if err != nil {
		return nil, err
	}

	agentCfg, err := mapAgentConfig(cfg)
	if err != nil {
		return nil, err
	}
	coord := agent.New(agentCfg, agent.Deps{
		Store:     store,
		Scheduler: sched,
		Pool:      pool,
		Knowledge: kbOrNil(kb),
		Parser:    parser,
		Adapter:   ad,
		Notifier:  notif,
		Bus:       bus,
		Logger:    logSvc.Logger().With(logx.String("comp", "agent")),
	})

	retention, err := config.ParseDurationOrDefault("store.retention", cfg.Store.Retention, 30*24*time.Hour)
	if err != nil {
		return nil, err
	}
	retentionInterval, err := config.ParseDurationOrDefault("store.retention_interval", cfg.Store.RetentionInterval, time.Hour)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:           cfgPath,
		cfgm:              cfgm,
		log:               log,
		logs:              logSvc,
		bus:               bus,
		store:             store,
		kb:                kb,
		adapter:           ad,
		pool:              pool,
		sched:             sched,
		missed:            missed,
		notif:             notif,
		coord:             coord,
		owners:            newOwnerSet(cfg.Telegram.OwnerUserIDs),
		retention:         retention,
		retentionInterval: retentionInterval,
		messages:          make(chan kit.Message, 256),
	}
	a.missedPolicy = a.logAndNotifyMissed
	return a, nil
}

// kbOrNil keeps the coordinator's interface field a true nil when the
// knowledge store is disabled.
func kbOrNil(kb *knowledge.Store) agent.Knowledge {
	if kb == nil {
		return nil
	}
	return kb
}

func buildParser(cfg *config.Config, log logx.Logger) (intent.Parser, error) {
	if !cfg.Intent.Enabled {
		return intent.NewRuleParser(), nil
	}
	timeout, err := config.ParseDurationOrDefault("intent.timeout", cfg.Intent.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	return intent.NewOpenAIParser(intent.Config{
		APIKey:  cfg.Intent.APIKey,
		BaseURL: cfg.Intent.BaseURL,
		Model:   cfg.Intent.Model,
		Timeout: timeout,
	}, log)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapBrowserConfig(cfg); err != nil {
			return err
		}
		_, err := mapAgentConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.messages); err != nil {
		return err
	}
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.coord.Start(a.sup.Context())

	// Persisted pending tasks must be re-armed before the scheduler can fire
	// anything bogus, and missed ones reported exactly once.
	if a.sched.Enabled() {
		if err := a.rearmStored(a.sup.Context()); err != nil {
			return err
		}
		a.reportMissed(a.sup.Context())
	}

	a.sup.Go("messages.dispatch", func(c context.Context) error {
		return a.dispatchLoop(c)
	})

	if a.retention > 0 {
		a.sup.Go0("store.retention", func(c context.Context) {
			a.retentionLoop(c)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			a.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			a.owners.set(newCfg.Telegram.OwnerUserIDs)

			prevSchedEnabled := a.sched.Enabled()
			a.sched.Apply(scheduler.Config{
				Enabled:  newCfg.Scheduler.Enabled,
				Timezone: newCfg.Scheduler.Timezone,
			})
			if prevSchedEnabled && !newCfg.Scheduler.Enabled {
				a.log.Info("scheduler disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.sched.Stop(stopCtx)
				cancel()
			} else if !prevSchedEnabled && newCfg.Scheduler.Enabled {
				a.log.Info("scheduler enabled via config")
				a.sched.Start(ctx)
				if err := a.rearmStored(ctx); err != nil {
					a.log.Error("re-arm after enable failed", logx.Err(err))
				}
			}

			prevNotifEnabled := a.notif.Enabled()
			if ncfg, err := mapNotifierConfig(newCfg); err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
			} else {
				a.notif.Apply(ncfg)
				if prevNotifEnabled && !ncfg.Enabled {
					a.log.Info("notifier disabled via config")
					stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
					a.notif.Stop(stopCtx)
					cancel()
				} else if !prevNotifEnabled && ncfg.Enabled {
					a.log.Info("notifier enabled via config")
					a.notif.Start(ctx)
				}
			}

			if bc, err := mapBrowserConfig(newCfg); err != nil {
				a.log.Warn("invalid browser config; keeping previous", logx.Err(err))
			} else {
				a.pool.Apply(bc)
			}

			for _, s := range sections {
				switch s {
				case "store", "knowledge", "intent", "telegram":
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) retentionLoop(ctx context.Context) {
	t := time.NewTicker(a.retentionInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.store.PurgeOlderThan(ctx, a.retention)
			if err != nil {
				a.log.Warn("retention sweep failed", logx.Err(err))
				continue
			}
			if n > 0 {
				a.log.Info("retention sweep", logx.Int64("purged", n))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("agent", 3*time.Second, func(c context.Context) error { return a.coord.Stop(c) })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("browserpool", 1*time.Second, func(context.Context) error { a.pool.Close(); return nil })
	step("taskstore", 1*time.Second, func(context.Context) error { return a.store.Close() })
	if a.kb != nil {
		step("knowledge", 1*time.Second, func(context.Context) error { return a.kb.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
