package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/benbjohnson/clock"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunTicksOnVirtualClock(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk, logger.Nop())

	var fast, slow atomic.Int32
	started := make(chan struct{}, 2)
	if err := s.Add(Task{Name: "fast", Interval: time.Second, Run: func(context.Context) error {
		fast.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Task{Name: "slow", Interval: 3 * time.Second, Run: func(context.Context) error {
		slow.Add(1)
		return errors.New("logged, not fatal")
	}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		started <- struct{}{}
		done <- s.Run(ctx)
	}()
	<-started
	// tickers are created right after Run starts
	time.Sleep(20 * time.Millisecond)

	for i := 1; i <= 6; i++ {
		clk.Add(time.Second)
		want := int32(i)
		waitFor(t, func() bool { return fast.Load() == want })
	}
	waitFor(t, func() bool { return slow.Load() == 2 })

	if err := s.Add(Task{Name: "late", Interval: time.Second, Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrRunning) {
		t.Errorf("expected ErrRunning, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}

	clk.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if fast.Load() != 6 {
		t.Errorf("task ran after stop: %d", fast.Load())
	}
}

func TestAddValidates(t *testing.T) {
	s := New(clock.NewMock(), logger.Nop())
	if err := s.Add(Task{Name: "zero", Run: func(context.Context) error { return nil }}); err == nil {
		t.Error("expected interval error")
	}
	if err := s.Add(Task{Name: "nil", Interval: time.Second}); err == nil {
		t.Error("expected nil run error")
	}
}
