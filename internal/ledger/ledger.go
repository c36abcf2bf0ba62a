// Package ledger owns the list of simulated orders and their lifecycle.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/store"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidPrice  = errors.New("price must be a positive number")
)

const _orderIDPrefix = "order-"

type Ledger struct {
	store  store.Store
	clock  clock.Clock
	logger logger.Logger

	// serializes read-modify-write of the persisted list
	mu sync.Mutex
}

func New(s store.Store, clk clock.Clock, logger logger.Logger) *Ledger {
	return &Ledger{
		store:  s,
		clock:  clk,
		logger: logger,
	}
}

// CreateOrder builds a new order without persisting it. Market orders are born filled,
// limit and stop-loss orders are born pending.
func (l *Ledger) CreateOrder(
	assetID, symbol string,
	kind model.OrderKind, side model.Side,
	quantity float64, price *float64,
) (model.Order, error) {
	now := l.clock.Now().UTC()
	o := model.Order{
		ID:        _orderIDPrefix + uuid.NewString(),
		AssetID:   assetID,
		Symbol:    symbol,
		Kind:      kind,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    model.Pending,
		CreatedAt: now,
	}
	if err := o.Validate(); err != nil {
		return model.Order{}, err
	}
	if price != nil && !validPrice(*price) {
		return model.Order{}, fmt.Errorf("%w: %w", model.ErrInvalidOrder, ErrInvalidPrice)
	}

	if kind == model.Market {
		filledAt := now
		o.Status = model.Filled
		o.FilledAt = &filledAt
	}
	return o, nil
}

// AddOrder appends o to the persisted list and returns the updated list.
func (l *Ledger) AddOrder(ctx context.Context, o model.Order) ([]model.Order, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load(ctx)
	if err != nil {
		return nil, err
	}
	orders = append(orders, o)
	if err := l.save(ctx, orders); err != nil {
		return nil, err
	}

	l.logger.Infof("order %s added: %s %s %s qty=%g status=%s", o.ID, o.Kind, o.Side, o.AssetID, o.Quantity, o.Status)
	return orders, nil
}

// CancelOrder moves a pending order to cancelled. Absent and terminal orders are left alone
// and nothing is written.
func (l *Ledger) CancelOrder(ctx context.Context, id string) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	i := slices.IndexFunc(orders, func(o model.Order) bool { return o.ID == id })
	if i < 0 || !orders[i].Pending() {
		l.logger.Debugf("cancel of %s ignored", id)
		return orders, nil
	}

	orders[i].Status = model.Cancelled
	if err := l.save(ctx, orders); err != nil {
		return nil, err
	}

	l.logger.Infof("order %s cancelled", id)
	return orders, nil
}

// Settle books a triggered order before it is persisted as filled. An error rejects the order.
type Settle func(model.Order) error

// CheckAndFillOrders fills every pending order for assetID whose trigger is satisfied by price.
// Each triggered order is passed to settle (if not nil) in list order; the ones it refuses end up
// rejected instead of filled. It returns the full list and the orders filled by this call. The
// list is persisted only when something changed.
func (l *Ledger) CheckAndFillOrders(
	ctx context.Context,
	price float64, assetID string,
	settle Settle,
) ([]model.Order, []model.Order, error) {
	if !validPrice(price) {
		return nil, nil, ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		filled  []model.Order
		changed bool
	)
	now := l.clock.Now().UTC()
	for i := range orders {
		o := &orders[i]
		if o.AssetID != assetID || !o.Pending() || !o.TriggeredBy(price) {
			continue
		}
		changed = true
		filledAt := now
		o.Status = model.Filled
		o.FilledAt = &filledAt
		if settle != nil {
			if err := settle(*o); err != nil {
				o.Status = model.Rejected
				o.FilledAt = nil
				o.Reason = err.Error()
				l.logger.Warnf("%s: order %s rejected at %g", err, o.ID, price)
				continue
			}
		}
		filled = append(filled, *o)
	}

	if !changed {
		return orders, nil, nil
	}

	if err := l.save(ctx, orders); err != nil {
		return nil, nil, err
	}

	for _, o := range filled {
		l.logger.Infof("order %s filled at %g (%s %s trigger %g)", o.ID, price, o.Kind, o.Side, *o.Price)
	}
	return orders, filled, nil
}

// ExpireOrders marks pending orders older than ttl as expired. A non-positive ttl disables expiry.
func (l *Ledger) ExpireOrders(ctx context.Context, ttl time.Duration) ([]model.Order, []model.Order, error) {
	if ttl <= 0 {
		return nil, nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.load(ctx)
	if err != nil {
		return nil, nil, err
	}

	var expired []model.Order
	deadline := l.clock.Now().Add(-ttl)
	for i := range orders {
		o := &orders[i]
		if !o.Pending() || o.CreatedAt.After(deadline) {
			continue
		}
		o.Status = model.Expired
		expired = append(expired, *o)
	}

	if len(expired) == 0 {
		return orders, nil, nil
	}

	if err := l.save(ctx, orders); err != nil {
		return nil, nil, err
	}

	l.logger.Infof("%d pending orders expired", len(expired))
	return orders, expired, nil
}

func (l *Ledger) Orders(ctx context.Context) ([]model.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

func (l *Ledger) Order(ctx context.Context, id string) (model.Order, error) {
	orders, err := l.Orders(ctx)
	if err != nil {
		return model.Order{}, err
	}
	for _, o := range orders {
		if o.ID == id {
			return o, nil
		}
	}
	return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

func (l *Ledger) load(ctx context.Context) ([]model.Order, error) {
	var orders []model.Order
	if _, err := store.LoadJSON(ctx, l.store, store.OrdersKey, &orders); err != nil {
		return nil, err
	}
	for i, o := range orders {
		if err := validateStored(o); err != nil {
			return nil, store.Corrupt(store.OrdersKey, fmt.Errorf("order #%d: %w", i, err))
		}
	}
	return orders, nil
}

func (l *Ledger) save(ctx context.Context, orders []model.Order) error {
	if err := store.SaveJSON(ctx, l.store, store.OrdersKey, orders); err != nil {
		return fmt.Errorf("%w: can't persist orders", err)
	}
	return nil
}

func validateStored(o model.Order) error {
	if o.ID == "" {
		return errors.New("empty id")
	}
	switch o.Status {
	case model.Pending, model.Filled, model.Cancelled, model.Expired, model.Rejected:
	default:
		return fmt.Errorf("unknown status %q", o.Status)
	}
	return o.Validate()
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
