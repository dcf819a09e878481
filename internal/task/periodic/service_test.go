package periodic

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "planbot/pkg/logx"
)

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.Add(" ", "1h", 0, noop); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("blank name: %v", err)
	}
	if err := s.Add("x", "1h", 0, nil); err == nil {
		t.Fatal("nil task accepted")
	}
	if err := s.Add("x", "61 * * * *", 0, noop); err == nil {
		t.Fatal("bad cron accepted")
	}
	if err := s.Add("x", "@daily", 0, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("x", "6h", 0, noop); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got := s.Entries()
	if len(got) != 1 || got[0].Spec != "@every 6h0m0s" {
		t.Fatalf("entries after upsert = %+v", got)
	}
	if !s.Remove("x") || s.Remove("x") {
		t.Fatal("Remove should report existence once")
	}
}

func TestIntervalTaskRuns(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	if err := s.Add("sweep", "100ms", time.Second, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("task context has no deadline")
		}
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("task never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
	e := s.Entries()
	if len(e) != 1 || e[0].Runs == 0 || e[0].Next.IsZero() {
		t.Fatalf("entries = %+v", e)
	}
}

func TestStopCancelsRunningTask(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	started := make(chan struct{})
	var once atomic.Bool
	_ = s.Add("slow", "100ms", 0, func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return ctx.Err()
	})
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Stop(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
