package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "huginn/internal/transport"
	logx "huginn/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	fails int // fail this many sends before succeeding
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Message) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("send failed")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func waitForSends(t *testing.T, f *fakeAdapter, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if f.sentCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("got %d sends, want %d", f.sentCount(), want)
}

func TestNotifyDelivers(t *testing.T) {
	f := &fakeAdapter{}
	s := New(Config{Enabled: true, Workers: 2, RatePerSec: 100}, f, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 5; i++ {
		err := s.Notify(context.Background(), kit.Notification{
			Channel: "telegram",
			Target:  kit.ChatTarget{ChatID: 42},
			Text:    "task done",
		})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	waitForSends(t, f, 5)

	if len(s.Snapshot()) != 5 {
		t.Fatalf("history has %d items, want 5", len(s.Snapshot()))
	}
}

func TestNotifyRetries(t *testing.T) {
	f := &fakeAdapter{fails: 2}
	s := New(Config{
		Enabled: true, Workers: 1, RatePerSec: 100,
		RetryMax: 3, RetryBase: 5 * time.Millisecond, RetryMaxDelay: 20 * time.Millisecond,
	}, f, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), kit.Notification{Channel: "telegram", Text: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitForSends(t, f, 1)
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeAdapter{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify err = %v, want ErrDisabled", err)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	f := &fakeAdapter{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100}, f, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify err = %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	f := &fakeAdapter{}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 1000}, f, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 10; i++ {
		if err := s.Notify(context.Background(), kit.Notification{Text: "drain"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := f.sentCount(); got != 10 {
		t.Fatalf("drained %d sends, want 10", got)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > cfg.RetryMaxDelay+cfg.RetryMaxDelay/2 {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}
