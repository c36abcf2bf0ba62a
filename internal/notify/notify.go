// Package notify delivers best-effort user notifications.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
)

type Kind string

const (
	MilestoneReached Kind = "milestone_reached"
	OrderFilled      Kind = "order_filled"
	OrderExpired     Kind = "order_expired"
	OrderRejected    Kind = "order_rejected"
)

type Notification struct {
	Kind      Kind           `json:"kind"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier failures are reported to the caller, which is expected to log and carry on.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

type Log struct {
	logger logger.Logger
}

func NewLog(l logger.Logger) *Log {
	return &Log{logger: l.With("component", "notify")}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.logger.Infof("[%s] %s: %s", n.Kind, n.Title, n.Body)
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
