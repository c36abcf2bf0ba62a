package milestone

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/store"
	"github.com/benbjohnson/clock"
)

type countingStore struct {
	*store.Memory
	saves int
}

func (c *countingStore) Save(ctx context.Context, key string, blob []byte) error {
	c.saves++
	return c.Memory.Save(ctx, key, blob)
}

type recordingNotifier struct {
	got []notify.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func newTestTracker(opts ...Option) (*Tracker, *countingStore, *clock.Mock) {
	s := &countingStore{Memory: store.NewMemory()}
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewTracker(s, clk, logger.Nop(), opts...), s, clk
}

func TestDefaultState(t *testing.T) {
	tr, s, _ := newTestTracker()

	state, err := tr.State(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.InitialValue != DefaultBaseline {
		t.Errorf("baseline = %f", state.InitialValue)
	}
	if len(state.Milestones) != len(DefaultThresholds) {
		t.Errorf("milestones = %d", len(state.Milestones))
	}
	for key, m := range state.Milestones {
		if m.Reached || m.Timestamp != nil {
			t.Errorf("milestone %s reached in default state", key)
		}
	}
	if s.saves != 0 {
		t.Errorf("reading defaults must not persist")
	}
}

func TestCheckFiresOncePerBaseline(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	tr, s, clk := newTestTracker(WithNotifier(n))

	var events []float64
	onReached := func(m model.Milestone) { events = append(events, m.Percentage) }

	for _, v := range []float64{10500, 11000, 12600} {
		if _, err := tr.Check(ctx, v, onReached); err != nil {
			t.Fatal(err)
		}
		clk.Add(time.Minute)
	}
	if len(events) != 2 || events[0] != 10 || events[1] != 25 {
		t.Fatalf("events = %v, want [10 25]", events)
	}
	if len(n.got) != 2 || n.got[0].Kind != notify.MilestoneReached {
		t.Errorf("notifications = %+v", n.got)
	}
	saves := s.saves

	reached, err := tr.Check(ctx, 12600, onReached)
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 0 || len(events) != 2 {
		t.Errorf("repeat check reached %v", reached)
	}
	if s.saves != saves {
		t.Errorf("check without events persisted")
	}

	state, err := tr.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ten := state.Milestones["10"]
	if !ten.Reached || ten.Timestamp == nil {
		t.Errorf("milestone 10 = %+v", ten)
	}
	if state.Milestones["50"].Reached {
		t.Error("milestone 50 must stay unreached")
	}
}

func TestThresholdsIndependent(t *testing.T) {
	tr, _, _ := newTestTracker()

	reached, err := tr.Check(context.Background(), 15000, nil)
	if err != nil {
		t.Fatal(err)
	}
	var got []float64
	for _, m := range reached {
		got = append(got, m.Percentage)
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 25 || got[2] != 50 {
		t.Errorf("reached = %v, want [10 25 50]", got)
	}

	reached, err = tr.Check(context.Background(), 6900, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 3 || reached[0].Percentage != -10 || reached[2].Percentage != -30 {
		t.Errorf("drawdowns = %+v", reached)
	}
}

func TestResetThenCheckSameValue(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker()

	if _, err := tr.Check(ctx, 20000, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Reset(ctx, 20000); err != nil {
		t.Fatal(err)
	}
	reached, err := tr.Check(ctx, 20000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 0 {
		t.Errorf("reached after reset = %+v", reached)
	}

	if _, err := tr.Reset(ctx, 0); err == nil {
		t.Error("expected error for zero baseline")
	}
}

func TestInitializeAdoptsFirstReading(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker()

	state, err := tr.Initialize(ctx, 25000)
	if err != nil {
		t.Fatal(err)
	}
	if state.InitialValue != 25000 {
		t.Fatalf("baseline = %f", state.InitialValue)
	}

	state, err = tr.Initialize(ctx, 30000)
	if err != nil {
		t.Fatal(err)
	}
	if state.InitialValue != 25000 {
		t.Errorf("second initialize changed baseline to %f", state.InitialValue)
	}
}

func TestNonPositiveBaselineYieldsNothing(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTestTracker()

	blob, err := store.Encode(model.MilestoneState{InitialValue: 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Memory.Save(ctx, store.MilestonesKey, blob); err != nil {
		t.Fatal(err)
	}
	reached, err := tr.Check(ctx, 1000, nil)
	if err != nil || len(reached) != 0 {
		t.Errorf("reached = %v, err = %v", reached, err)
	}
}

func TestNotifierFailureIsNotReturned(t *testing.T) {
	n := &recordingNotifier{err: errors.New("permission denied")}
	tr, _, _ := newTestTracker(WithNotifier(n), WithThresholds([]float64{5}))

	reached, err := tr.Check(context.Background(), 10500, nil)
	if err != nil {
		t.Fatalf("notifier error leaked: %v", err)
	}
	if len(reached) != 1 {
		t.Errorf("reached = %+v", reached)
	}
}

// gateNotifier holds every notification until release is closed.
type gateNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (g gateNotifier) Notify(ctx context.Context, _ notify.Notification) error {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowNotifierDoesNotHoldState(t *testing.T) {
	g := gateNotifier{entered: make(chan struct{}, 1), release: make(chan struct{})}
	tr, _, _ := newTestTracker(WithNotifier(g), WithThresholds([]float64{5}))

	done := make(chan error, 1)
	go func() {
		_, err := tr.Check(context.Background(), 10500, nil)
		done <- err
	}()
	<-g.entered

	read := make(chan model.MilestoneState, 1)
	go func() {
		state, _ := tr.State(context.Background())
		read <- state
	}()
	select {
	case state := <-read:
		if !state.Milestones["5"].Reached {
			t.Errorf("state read during notification = %+v", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("State blocked while a notification was in flight")
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("Check failed: %v", err)
	}
}

func TestLegacyStateAndCorruption(t *testing.T) {
	ctx := context.Background()
	tr, s, _ := newTestTracker()

	legacy := `{"initialValue":5000,"milestones":{"10":{"percentage":10,"reached":true,"timestamp":"2024-05-01T00:00:00Z"}}}`
	if err := s.Memory.Save(ctx, store.MilestonesKey, []byte(legacy)); err != nil {
		t.Fatal(err)
	}
	reached, err := tr.Check(ctx, 6500, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(reached) != 1 || reached[0].Percentage != 25 {
		t.Errorf("reached = %+v, want only 25", reached)
	}

	if err := s.Memory.Save(ctx, store.MilestonesKey, []byte(`{"initialValue":`)); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.State(ctx); !errors.Is(err, store.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}
