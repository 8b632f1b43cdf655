package browserpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "huginn/pkg/logx"
)

type fakeBrowser struct{ slot int }

func (f *fakeBrowser) Search(ctx context.Context, query string) ([]SearchResult, error) {
	return []SearchResult{{Title: "t", URL: "https://example.com"}}, nil
}

func fakeFactory(slot int) (Browser, error) { return &fakeBrowser{slot: slot}, nil }

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p, err := New(cfg, fakeFactory, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestQuotaFailFast(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		l, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		l.Release()
	}

	// Quota spent: the error is immediate even with a free instance.
	start := time.Now()
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Acquire err = %v, want ErrQuotaExceeded", err)
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("quota rejection took %v, want immediate", d)
	}
}

func TestQuotaFailFastWhileInstancesBusy(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: 1})
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	// The instance is held AND the quota is spent; the quota error wins
	// without queueing behind the busy instance.
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Acquire err = %v, want ErrQuotaExceeded", err)
	}
}

func TestConcurrencyCap(t *testing.T) {
	const instances = 3
	p := newTestPool(t, Config{Instances: instances, DailyQuota: -1})
	ctx := context.Background()

	var cur, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Execute(ctx, func(ctx context.Context, b Browser) error {
				n := cur.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				cur.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := peak.Load(); got > instances {
		t.Fatalf("peak concurrency %d exceeds %d instances", got, instances)
	}
}

func TestSpacingStartToStart(t *testing.T) {
	const spacing = 60 * time.Millisecond
	p := newTestPool(t, Config{Instances: 2, DailyQuota: -1, MinSpacing: spacing})
	ctx := context.Background()

	var mu sync.Mutex
	var starts []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			l.Release()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < spacing-10*time.Millisecond {
			t.Fatalf("start gap %d is %v, want >= %v", i, gap, spacing)
		}
	}
}

func TestRoundRobinSlots(t *testing.T) {
	const instances = 3
	p := newTestPool(t, Config{Instances: instances, DailyQuota: -1})
	ctx := context.Background()

	// Sequential acquisitions walk the instances in order: the n-th use of
	// the day gets slot n modulo the instance count.
	for i := 1; i <= 7; i++ {
		l, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if want := i % instances; l.Slot() != want {
			t.Fatalf("use %d got slot %d, want %d", i, l.Slot(), want)
		}
		l.Release()
	}
}

func TestDayRolloverResetsQuota(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: 1})
	ctx := context.Background()

	day1 := time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)
	p.now = func() time.Time { return day1 }

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
	if _, err := p.Acquire(ctx); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Acquire err = %v, want ErrQuotaExceeded", err)
	}

	// Midnight passes; the counter resets to a fresh day.
	p.now = func() time.Time { return day1.Add(20 * time.Minute) }
	l, err = p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after rollover: %v", err)
	}
	l.Release()
	if st := p.Stats(); st.UsedToday != 1 {
		t.Fatalf("UsedToday after rollover = %d, want 1", st.UsedToday)
	}
}

func TestRefundFailedUse(t *testing.T) {
	boom := errors.New("boom")
	run := func(refund bool) int {
		p := newTestPool(t, Config{Instances: 1, DailyQuota: 10, RefundFailedUse: refund})
		err := p.Execute(context.Background(), func(ctx context.Context, b Browser) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Execute err = %v, want boom", err)
		}
		return p.Stats().UsedToday
	}
	if used := run(false); used != 1 {
		t.Fatalf("without refund UsedToday = %d, want 1", used)
	}
	if used := run(true); used != 0 {
		t.Fatalf("with refund UsedToday = %d, want 0", used)
	}
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: -1})

	l, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire err = %v, want DeadlineExceeded", err)
	}

	// The slot was not leaked by the abandoned wait.
	l.Release()
	l2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after cancel: %v", err)
	}
	l2.Release()
}

func TestAcquireAfterClose(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: -1})
	p.Close()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Acquire err = %v, want ErrClosed", err)
	}
}

func TestExecuteWrapsWorkerError(t *testing.T) {
	boom := errors.New("boom")
	p := newTestPool(t, Config{Instances: 1, DailyQuota: -1})

	err := p.Execute(context.Background(), func(ctx context.Context, b Browser) error { return boom })
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("Execute err = %T (%v), want *ExecError", err, err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("ExecError does not unwrap to the worker error: %v", err)
	}

	// Quota exhaustion is an acquisition failure, not an ExecError.
	p2 := newTestPool(t, Config{Instances: 1, DailyQuota: 1})
	l, err := p2.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
	err = p2.Execute(context.Background(), func(ctx context.Context, b Browser) error { return nil })
	if errors.As(err, &ee) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Execute err = %v, want bare ErrQuotaExceeded", err)
	}
}

func TestApplyUpdatesLimits(t *testing.T) {
	p := newTestPool(t, Config{Instances: 1, DailyQuota: 1})

	l, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	l.Release()
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Acquire err = %v, want ErrQuotaExceeded", err)
	}

	// Raising the quota takes effect without rebuilding the pool.
	p.Apply(Config{Instances: 1, DailyQuota: 5})
	l, err = p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Apply: %v", err)
	}
	l.Release()
	if st := p.Stats(); st.DailyQuota != 5 || st.UsedToday != 2 {
		t.Fatalf("Stats after Apply = %+v", st)
	}
}
