// Package scheduler runs periodic tasks over an injectable clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/benbjohnson/clock"
)

var ErrRunning = errors.New("scheduler is already running")

type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	clock  clock.Clock
	logger logger.Logger

	mu      sync.Mutex
	tasks   []Task
	running bool
}

func New(clk clock.Clock, logger logger.Logger) *Scheduler {
	return &Scheduler{clock: clk, logger: logger}
}

// Add registers a task. Tasks cannot be added while the scheduler runs.
func (s *Scheduler) Add(t Task) error {
	if t.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: nil run func", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// Run starts one ticker per task and blocks until ctx is done and every task has returned.
// A tick that arrives while the previous run of the same task is busy is dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for _, t := range tasks {
		ticker := s.clock.Ticker(t.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer ticker.Stop()
			s.loop(ctx, t, ticker)
		}()
	}

	s.logger.Infof("scheduler started with %d tasks", len(tasks))
	wg.Wait()
	s.logger.Infof("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorf("%s: task %s failed", err, t.Name)
			}
		}
	}
}
