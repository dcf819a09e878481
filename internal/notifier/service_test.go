package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"planbot/internal/eventbus"
	kit "planbot/internal/transport"
	logx "planbot/pkg/logx"
)

type fakeSender struct {
	mu     sync.Mutex
	texts  []string
	media  []kit.Media
	errs   []error // consumed per call, nil entries mean success
	chatID int64
}

func (f *fakeSender) next() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatID = to.ChatID
	if err := f.next(); err != nil {
		return kit.MessageRef{}, err
	}
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next(); err != nil {
		return kit.MessageRef{}, err
	}
	f.media = append(f.media, m)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestDeliverTextSingleAttemptByDefault(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{errs: []error{errors.New("timeout")}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, fs, logx.Nop(), bus)
	if err := s.DeliverText(context.Background(), 42, "hello"); err == nil {
		t.Fatalf("expected failure")
	}
	snap := s.Snapshot()
	if snap.Attempts != 1 || snap.Failed != 1 || snap.Sent != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	e := <-events
	if e.Type != eventbus.DeliveryFailed {
		t.Fatalf("event=%+v", e)
	}
}

func TestDeliverRetriesWhenConfigured(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{errs: []error{errors.New("502"), nil}}
	s := New(Config{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, fs, logx.Nop(), nil)
	if err := s.DeliverText(context.Background(), 7, "hi"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if fs.chatID != 7 || len(fs.texts) != 1 {
		t.Fatalf("sender state: chat=%d texts=%v", fs.chatID, fs.texts)
	}
	if s.Snapshot().Attempts != 2 {
		t.Fatalf("attempts=%d", s.Snapshot().Attempts)
	}
}

func TestDeliverStopsOnUndeliverable(t *testing.T) {
	t.Parallel()

	blocked := fmt.Errorf("%w: bot was blocked", kit.ErrUndeliverable)
	fs := &fakeSender{errs: []error{blocked, nil}}
	s := New(Config{RetryMax: 3, RetryBase: time.Millisecond}, fs, logx.Nop(), nil)
	err := s.DeliverAttachment(context.Background(), 1, "file-1", "photo")
	if !errors.Is(err, kit.ErrUndeliverable) {
		t.Fatalf("expected ErrUndeliverable, got %v", err)
	}
	if s.Snapshot().Attempts != 1 {
		t.Fatalf("should not retry permanent errors")
	}
}

func TestDeliverAttachment(t *testing.T) {
	t.Parallel()

	fs := &fakeSender{}
	s := New(Config{}, fs, logx.Nop(), nil)
	if err := s.DeliverAttachment(context.Background(), 1, "voice-1", "voice"); err != nil {
		t.Fatal(err)
	}
	if len(fs.media) != 1 || fs.media[0].Kind != "voice" || fs.media[0].FileID != "voice-1" {
		t.Fatalf("media=%+v", fs.media)
	}
	if err := s.DeliverAttachment(context.Background(), 1, "", "voice"); err == nil {
		t.Fatalf("empty media id should fail")
	}
}

func TestNoSender(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Logger{}, nil)
	if err := s.DeliverText(context.Background(), 1, "x"); !errors.Is(err, ErrNoSender) {
		t.Fatalf("expected ErrNoSender, got %v", err)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < time.Second || d > 3*time.Second+3*time.Second/5 {
			t.Fatalf("attempt %d: delay %s out of range", attempt, d)
		}
	}
}
