package browserpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	logx "huginn/pkg/logx"
)

const (
	defaultInstances  = 2
	defaultDailyQuota = 50
)

// Pool hands out leases on browser workers.
//
// Lock order: gate before mu. The gate is held across the spacing sleep so
// concurrent acquirers serialize their start times; mu only guards counters
// and is never held while sleeping.
type Pool struct {
	cfg Config
	log logx.Logger

	slots    chan struct{} // semaphore, one token per instance
	browsers []Browser

	gate sync.Mutex // serializes use starts for spacing

	mu        sync.Mutex
	usedToday int
	day       string // local calendar date of usedToday, "2006-01-02"
	lastStart time.Time
	inUse     int

	closeOnce sync.Once
	closed    chan struct{}

	now func() time.Time
}

// Lease is a granted browser use. Callers must Release it.
type Lease struct {
	pool    *Pool
	browser Browser
	slot    int

	once sync.Once
}

func (l *Lease) Browser() Browser { return l.browser }

// Slot is the round-robin index of the granted worker.
func (l *Lease) Slot() int { return l.slot }

func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.mu.Lock()
		l.pool.inUse--
		l.pool.mu.Unlock()
		<-l.pool.slots
	})
}

// New builds the pool and its workers eagerly, so a broken worker surfaces at
// startup rather than at first use.
func New(cfg Config, factory Factory, log logx.Logger) (*Pool, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Instances <= 0 {
		cfg.Instances = defaultInstances
	}
	if cfg.DailyQuota == 0 {
		cfg.DailyQuota = defaultDailyQuota
	}
	if factory == nil {
		return nil, fmt.Errorf("browserpool: factory is required")
	}

	p := &Pool{
		cfg:    cfg,
		log:    log,
		slots:  make(chan struct{}, cfg.Instances),
		closed: make(chan struct{}),
		now:    time.Now,
	}
	for i := 0; i < cfg.Instances; i++ {
		b, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("browserpool: build worker %d: %w", i, err)
		}
		p.browsers = append(p.browsers, b)
	}
	p.log.Info("browser pool ready",
		logx.Int("instances", cfg.Instances),
		logx.Int("daily_quota", cfg.DailyQuota),
		logx.Duration("min_spacing", cfg.MinSpacing),
	)
	return p, nil
}

// Acquire grants a lease, blocking for a free instance and the spacing gap.
// A spent daily quota fails immediately, before any waiting.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}

	if err := p.checkQuota(); err != nil {
		return nil, err
	}

	// wait for a free instance
	select {
	case p.slots <- struct{}{}:
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Spacing gate: held across the sleep so queued acquirers space out
	// start-to-start, not just behind the current one.
	p.gate.Lock()
	if err := p.waitSpacing(ctx); err != nil {
		p.gate.Unlock()
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	now := p.now()
	p.rolloverLocked(now)
	p.usedToday++
	p.lastStart = now
	p.inUse++
	slot := p.usedToday % len(p.browsers)
	used := p.usedToday
	p.mu.Unlock()
	p.gate.Unlock()

	p.log.Debug("browser lease granted",
		logx.Int("slot", slot),
		logx.Int("used_today", used),
	)
	return &Lease{pool: p, browser: p.browsers[slot], slot: slot}, nil
}

// Execute runs fn under a lease. When RefundFailedUse is set, a failed fn
// returns its quota slot. Errors from fn come back wrapped as *ExecError;
// acquisition errors (quota, closed, ctx) are returned as-is.
func (p *Pool) Execute(ctx context.Context, fn func(ctx context.Context, b Browser) error) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if err := fn(ctx, lease.Browser()); err != nil {
		p.mu.Lock()
		refund := p.cfg.RefundFailedUse
		p.mu.Unlock()
		if refund {
			p.refund()
		}
		return &ExecError{Slot: lease.Slot(), Err: err}
	}
	return nil
}

// Apply updates the limits that can change without rebuilding workers. A
// changed instance count is ignored until restart; the slot semaphore and
// workers are fixed at construction.
func (p *Pool) Apply(cfg Config) {
	if cfg.DailyQuota == 0 {
		cfg.DailyQuota = defaultDailyQuota
	}
	p.mu.Lock()
	old := p.cfg
	p.cfg.DailyQuota = cfg.DailyQuota
	p.cfg.MinSpacing = cfg.MinSpacing
	p.cfg.RefundFailedUse = cfg.RefundFailedUse
	p.mu.Unlock()

	if cfg.Instances > 0 && cfg.Instances != old.Instances {
		p.log.Warn("browser.instances changed; restart required to resize the pool",
			logx.Int("current", old.Instances), logx.Int("requested", cfg.Instances))
	}
	if old.DailyQuota != cfg.DailyQuota || old.MinSpacing != cfg.MinSpacing || old.RefundFailedUse != cfg.RefundFailedUse {
		p.log.Info("browser limits updated",
			logx.Int("daily_quota", cfg.DailyQuota),
			logx.Duration("min_spacing", cfg.MinSpacing),
			logx.Bool("refund_failed_use", cfg.RefundFailedUse))
	}
}

// Close rejects further acquisitions. In-flight leases finish normally.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Stats returns a point-in-time view of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked(p.now())
	return Stats{
		Instances:  len(p.browsers),
		InUse:      p.inUse,
		UsedToday:  p.usedToday,
		DailyQuota: p.cfg.DailyQuota,
	}
}

func (p *Pool) checkQuota() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.DailyQuota < 0 {
		return nil
	}
	p.rolloverLocked(p.now())
	if p.usedToday >= p.cfg.DailyQuota {
		return ErrQuotaExceeded
	}
	return nil
}

// waitSpacing sleeps out the remaining start-to-start gap. Call with gate
// held.
func (p *Pool) waitSpacing(ctx context.Context) error {
	p.mu.Lock()
	spacing := p.cfg.MinSpacing
	last := p.lastStart
	p.mu.Unlock()
	if spacing <= 0 || last.IsZero() {
		return nil
	}
	wait := spacing - p.now().Sub(last)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rolloverLocked resets the daily counter when the local calendar date
// changes. Call with mu held.
func (p *Pool) rolloverLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if day != p.day {
		if p.day != "" {
			p.log.Info("daily quota reset", logx.String("day", day))
		}
		p.day = day
		p.usedToday = 0
	}
}

func (p *Pool) refund() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolloverLocked(p.now())
	if p.usedToday > 0 {
		p.usedToday--
	}
}
