// Package milestone tracks one-shot portfolio performance thresholds against a baseline.
package milestone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/store"
	"github.com/benbjohnson/clock"
)

var ErrInvalidBaseline = errors.New("baseline must be a positive number")

var DefaultThresholds = []float64{10, 25, 50, 100, -10, -20, -30}

const DefaultBaseline = 10000

type Tracker struct {
	store    store.Store
	clock    clock.Clock
	notifier notify.Notifier
	logger   logger.Logger

	thresholds []float64
	baseline   float64

	mu sync.Mutex
}

type Option func(*Tracker)

// WithThresholds replaces the default thresholds. Evaluation follows the given order.
func WithThresholds(thresholds []float64) Option {
	return func(t *Tracker) {
		if len(thresholds) > 0 {
			t.thresholds = append([]float64(nil), thresholds...)
		}
	}
}

func WithDefaultBaseline(baseline float64) Option {
	return func(t *Tracker) {
		if baseline > 0 {
			t.baseline = baseline
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(t *Tracker) {
		if n != nil {
			t.notifier = n
		}
	}
}

func NewTracker(s store.Store, clk clock.Clock, logger logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:      s,
		clock:      clk,
		notifier:   notify.Nop{},
		logger:     logger,
		thresholds: DefaultThresholds,
		baseline:   DefaultBaseline,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the stored state, or the default one when nothing has been stored yet.
func (t *Tracker) State(ctx context.Context) (model.MilestoneState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// Reset stores a fresh state with baseline and every threshold unreached.
func (t *Tracker) Reset(ctx context.Context, baseline float64) (model.MilestoneState, error) {
	if !(baseline > 0) || math.IsInf(baseline, 0) {
		return model.MilestoneState{}, fmt.Errorf("%w: got %v", ErrInvalidBaseline, baseline)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := model.NewMilestoneState(baseline, t.thresholds)
	if err := t.save(ctx, state); err != nil {
		return model.MilestoneState{}, err
	}
	t.logger.Infof("milestones reset with baseline %.2f", baseline)
	return state, nil
}

// Initialize adopts current as the baseline while the stored one is still the untouched default.
func (t *Tracker) Initialize(ctx context.Context, current float64) (model.MilestoneState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		return model.MilestoneState{}, err
	}
	if state.InitialValue != t.baseline || !(current > 0) || current == t.baseline || anyReached(state) {
		return state, nil
	}

	state = model.NewMilestoneState(current, t.thresholds)
	if err := t.save(ctx, state); err != nil {
		return model.MilestoneState{}, err
	}
	t.logger.Infof("milestone baseline initialized to %.2f", current)
	return state, nil
}

// Check marks every unreached threshold crossed by current and calls onReached for each of them
// in threshold order. The state is persisted only if something was reached. Callbacks and
// notifications run after the state lock is released.
func (t *Tracker) Check(ctx context.Context, current float64, onReached func(model.Milestone)) ([]model.Milestone, error) {
	reached, change, err := t.mark(ctx, current)
	if err != nil || len(reached) == 0 {
		return nil, err
	}

	for _, m := range reached {
		t.logger.Infof("milestone %+g%% reached (change %.2f%%)", m.Percentage, change)
		if onReached != nil {
			onReached(m)
		}
		if err := t.notifier.Notify(ctx, notification(m, current)); err != nil {
			t.logger.Warnf("%s: can't notify about milestone %s", err, model.ThresholdKey(m.Percentage))
		}
	}
	return reached, nil
}

func (t *Tracker) mark(ctx context.Context, current float64) ([]model.Milestone, float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !(state.InitialValue > 0) || math.IsNaN(current) {
		return nil, 0, nil
	}

	change := (current - state.InitialValue) / state.InitialValue * 100
	now := t.clock.Now().UTC()

	var reached []model.Milestone
	for _, threshold := range t.thresholds {
		key := model.ThresholdKey(threshold)
		m, ok := state.Milestones[key]
		if !ok {
			m = model.Milestone{Percentage: threshold}
		}
		if m.Reached || !crossed(threshold, change) {
			continue
		}
		ts := now
		m.Reached = true
		m.Timestamp = &ts
		state.Milestones[key] = m
		reached = append(reached, m)
	}

	if len(reached) == 0 {
		return nil, change, nil
	}
	if err := t.save(ctx, state); err != nil {
		return nil, 0, err
	}
	return reached, change, nil
}

func crossed(threshold, change float64) bool {
	if threshold >= 0 {
		return change >= threshold
	}
	return change <= threshold
}

func anyReached(s model.MilestoneState) bool {
	for _, m := range s.Milestones {
		if m.Reached {
			return true
		}
	}
	return false
}

func notification(m model.Milestone, value float64) notify.Notification {
	title := "Milestone reached"
	if m.Percentage < 0 {
		title = "Drawdown alert"
	}
	return notify.Notification{
		Kind:  notify.MilestoneReached,
		Title: title,
		Body:  fmt.Sprintf("Your portfolio has moved %+g%% from its baseline (now %.2f).", m.Percentage, value),
		Data: map[string]any{
			"percentage": m.Percentage,
			"value":      value,
		},
	}
}

func (t *Tracker) load(ctx context.Context) (model.MilestoneState, error) {
	var state model.MilestoneState
	found, err := store.LoadJSON(ctx, t.store, store.MilestonesKey, &state)
	if err != nil {
		return model.MilestoneState{}, err
	}
	if !found {
		return model.NewMilestoneState(t.baseline, t.thresholds), nil
	}
	if math.IsNaN(state.InitialValue) || math.IsInf(state.InitialValue, 0) {
		return model.MilestoneState{}, store.Corrupt(store.MilestonesKey, fmt.Errorf("bad initial value %v", state.InitialValue))
	}
	if state.Milestones == nil {
		state.Milestones = make(map[string]model.Milestone, len(t.thresholds))
	}
	for _, threshold := range t.thresholds {
		key := model.ThresholdKey(threshold)
		if _, ok := state.Milestones[key]; !ok {
			state.Milestones[key] = model.Milestone{Percentage: threshold}
		}
	}
	return state, nil
}

func (t *Tracker) save(ctx context.Context, state model.MilestoneState) error {
	if err := store.SaveJSON(ctx, t.store, store.MilestonesKey, state); err != nil {
		return fmt.Errorf("%w: can't persist milestones", err)
	}
	return nil
}
