package engine

import (
	"context"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/scheduler"
)

const (
	_flushInterval     = 10 * time.Second
	_maxExpireInterval = time.Minute
)

type Intervals struct {
	Tick        time.Duration
	BookRefresh time.Duration
	OrderTTL    time.Duration // zero disables expiry
}

// Tasks is the periodic work of a running simulation: price steps, order book refreshes,
// order expiry and account flushes.
func (e *Engine) Tasks(iv Intervals) []scheduler.Task {
	tasks := []scheduler.Task{
		{Name: "market-step", Interval: iv.Tick, Run: e.Step},
		{Name: "orderbook-refresh", Interval: iv.BookRefresh, Run: e.RefreshBooks},
		{Name: "account-flush", Interval: _flushInterval, Run: e.FlushAccount},
	}
	if iv.OrderTTL > 0 {
		tasks = append(tasks, scheduler.Task{
			Name:     "order-expiry",
			Interval: min(iv.OrderTTL, _maxExpireInterval),
			Run: func(ctx context.Context) error {
				_, err := e.ExpireOrders(ctx, iv.OrderTTL)
				return err
			},
		})
	}
	return tasks
}
