// Package engine runs the simulation: price ticks flow through the ledger, the account, the
// milestone tracker and the order book feed, and every change is pushed to live clients.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/ledger"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/market"
	"github.com/STTM-NSU/trading-sim/internal/milestone"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/orderbook"
	"github.com/STTM-NSU/trading-sim/internal/portfolio"
	"github.com/STTM-NSU/trading-sim/internal/risk"
	"github.com/STTM-NSU/trading-sim/internal/stream"
)

var ErrNothingToSell = portfolio.ErrNothingToSell

// Broadcaster is the part of stream.Hub the engine needs.
type Broadcaster interface {
	Broadcast(eventType string, data any) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any) error { return nil }

type OrderRequest struct {
	AssetID  string          `json:"assetId"`
	Kind     model.OrderKind `json:"type"`
	Side     model.Side      `json:"side"`
	Quantity float64         `json:"quantity"`
	Price    *float64        `json:"price,omitempty"`
}

type PlaceResult struct {
	Order  model.Order     `json:"order"`
	Orders []model.Order   `json:"orders"`
	Fill   *portfolio.Fill `json:"fill,omitempty"`
}

type TickResult struct {
	Asset      model.Asset       `json:"asset"`
	Orders     []model.Order     `json:"orders"`
	Filled     []model.Order     `json:"filled"`
	Rejected   []model.Order     `json:"rejected,omitempty"`
	Fills      []portfolio.Fill  `json:"fills,omitempty"`
	Milestones []model.Milestone `json:"milestones,omitempty"`
}

type Engine struct {
	logger logger.Logger

	market     *market.Simulator
	ledger     *ledger.Ledger
	account    *portfolio.Portfolio
	milestones *milestone.Tracker
	books      *orderbook.Feed

	hub      Broadcaster
	notifier notify.Notifier
	bookTTL  time.Duration

	// one tick or order at a time, so fills see a consistent account
	mu sync.Mutex
}

type Option func(*Engine)

func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) {
		if b != nil {
			e.hub = b
		}
	}
}

// WithNotifier receives order fill, rejection and expiry notifications. Milestone notifications are sent
// by the tracker itself.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithBookTTL lets OrderBook serve the cached ladder while it is younger than ttl.
func WithBookTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.bookTTL = ttl
	}
}

func New(logger logger.Logger,
	m *market.Simulator,
	l *ledger.Ledger,
	account *portfolio.Portfolio,
	milestones *milestone.Tracker,
	books *orderbook.Feed,
	opts ...Option,
) *Engine {
	e := &Engine{
		logger:     logger,
		market:     m,
		ledger:     l,
		account:    account,
		milestones: milestones,
		books:      books,
		hub:        nopBroadcaster{},
		notifier:   notify.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore loads the stored account, revalues it at the current simulated prices and lets the
// milestone tracker adopt its value as the baseline on first start.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded, err := e.account.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: can't load account", err)
	}
	if !loaded {
		e.logger.Infof("no stored account, starting with %.2f cash", e.account.GetBalance())
	}
	for id, price := range e.market.Prices() {
		e.account.UpdatePrice(id, price)
	}

	if _, err := e.milestones.Initialize(ctx, e.account.Snapshot().TotalValue()); err != nil {
		return fmt.Errorf("%w: can't initialize milestones", err)
	}
	return nil
}

// Tick feeds one price for an asset id or symbol through the simulation.
func (e *Engine) Tick(ctx context.Context, key string, price float64) (TickResult, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return TickResult{}, ledger.ErrInvalidPrice
	}
	t, err := e.tick(ctx, key, price)
	if err != nil {
		return t.res, err
	}
	return e.publish(ctx, t)
}

func (e *Engine) tick(ctx context.Context, key string, price float64) (tick, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, ok := e.market.Find(key)
	if !ok {
		return tick{}, fmt.Errorf("%w: %s", market.ErrUnknownAsset, key)
	}
	asset, err := e.market.Set(asset.ID, price)
	if err != nil {
		return tick{}, err
	}
	return e.process(ctx, asset)
}

// Step moves every simulated price by one random step and processes the new prices.
func (e *Engine) Step(ctx context.Context) error {
	ticks, errs := e.step(ctx)
	for _, t := range ticks {
		if _, err := e.publish(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("%w: tick %s", err, t.res.Asset.ID))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) step(ctx context.Context) ([]tick, []error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		ticks []tick
		errs  []error
	)
	for _, a := range e.market.Step() {
		t, err := e.process(ctx, a)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: tick %s", err, a.ID))
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, errs
}

// tick is what one processed price leaves to publish once e.mu is released.
type tick struct {
	res   TickResult
	snap  model.Snapshot
	book  model.OrderBook
	notes []notify.Notification
}

// process settles the orders triggered by asset's new price. Must be called with e.mu held.
func (e *Engine) process(ctx context.Context, asset model.Asset) (tick, error) {
	t := tick{res: TickResult{Asset: asset}}

	rejected := make(map[string]bool)
	orders, filled, err := e.ledger.CheckAndFillOrders(ctx, asset.Price, asset.ID, func(o model.Order) error {
		f, err := e.account.Apply(o, asset)
		if err != nil {
			rejected[o.ID] = true
			return err
		}
		t.res.Fills = append(t.res.Fills, f)
		t.notes = append(t.notes, fillNotification(o, f))
		return nil
	})
	if err != nil {
		return t, fmt.Errorf("%w: can't check orders", err)
	}
	t.res.Orders, t.res.Filled = orders, filled
	for _, o := range orders {
		if rejected[o.ID] {
			t.res.Rejected = append(t.res.Rejected, o)
			t.notes = append(t.notes, rejectNotification(o))
		}
	}

	e.account.UpdatePrice(asset.ID, asset.Price)
	t.snap = e.account.Snapshot()
	t.book = e.books.Update(asset.Symbol, asset.Price, 0)
	return t, nil
}

// publish sends out everything a processed tick produced and evaluates milestones on the
// account value it left behind.
func (e *Engine) publish(ctx context.Context, t tick) (TickResult, error) {
	e.broadcast(stream.EventPrice, t.res.Asset)
	for _, n := range t.notes {
		e.notify(ctx, n)
	}

	reached, err := e.milestones.Check(ctx, t.snap.TotalValue(), func(m model.Milestone) {
		e.broadcast(stream.EventMilestone, m)
	})
	if err != nil {
		return t.res, fmt.Errorf("%w: can't check milestones", err)
	}
	t.res.Milestones = reached

	e.broadcast(stream.EventOrderBook, t.book)
	if len(t.res.Filled) > 0 || len(t.res.Rejected) > 0 {
		e.broadcast(stream.EventOrders, t.res.Orders)
	}
	if len(t.res.Filled) > 0 || len(t.snap.Positions) > 0 {
		e.broadcast(stream.EventPortfolio, t.snap)
	}
	return t.res, nil
}

// PlaceOrder creates and stores an order. Market orders execute at once at the current price.
// Buys that the cash balance cannot cover and sells of an asset that is not held are rejected
// up front.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (PlaceResult, error) {
	res, err := e.placeOrder(ctx, req)
	if err != nil {
		return PlaceResult{}, err
	}
	if res.Fill != nil {
		e.notify(ctx, fillNotification(res.Order, *res.Fill))
		e.broadcast(stream.EventPortfolio, e.account.Snapshot())
	}
	e.broadcast(stream.EventOrders, res.Orders)
	return res, nil
}

func (e *Engine) placeOrder(ctx context.Context, req OrderRequest) (PlaceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asset, ok := e.market.Find(req.AssetID)
	if !ok {
		return PlaceResult{}, fmt.Errorf("%w: %s", market.ErrUnknownAsset, req.AssetID)
	}

	price := req.Price
	if req.Kind == model.Market {
		price = model.PriceOf(asset.Price)
	}

	o, err := e.ledger.CreateOrder(asset.ID, asset.Symbol, req.Kind, req.Side, req.Quantity, price)
	if err != nil {
		return PlaceResult{}, err
	}

	switch o.Side {
	case model.Buy:
		if !e.account.CanAfford(o.Quantity, *o.Price) {
			return PlaceResult{}, fmt.Errorf("%w: %g %s at %g", portfolio.ErrInsufficientFunds, o.Quantity, asset.Symbol, *o.Price)
		}
	case model.Sell:
		if _, held := e.account.GetHolding(asset.ID); !held {
			return PlaceResult{}, fmt.Errorf("%w: %s", ErrNothingToSell, asset.Symbol)
		}
	}

	var res PlaceResult
	if o.Status == model.Filled {
		f, err := e.account.Apply(o, asset)
		if err != nil {
			return PlaceResult{}, fmt.Errorf("%w: can't execute %s order", err, o.Kind)
		}
		res.Fill = &f
	}

	orders, err := e.ledger.AddOrder(ctx, o)
	if err != nil {
		if res.Fill != nil {
			e.logger.Errorf("%s: market order %s applied to the account but not stored", err, o.ID)
		}
		return PlaceResult{}, err
	}
	res.Order, res.Orders = o, orders
	return res, nil
}

func (e *Engine) CancelOrder(ctx context.Context, id string) ([]model.Order, error) {
	orders, err := e.ledger.CancelOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	e.broadcast(stream.EventOrders, orders)
	return orders, nil
}

func (e *Engine) Orders(ctx context.Context) ([]model.Order, error) {
	return e.ledger.Orders(ctx)
}

func (e *Engine) Order(ctx context.Context, id string) (model.Order, error) {
	return e.ledger.Order(ctx, id)
}

// ExpireOrders expires pending orders older than ttl and notifies about each of them.
func (e *Engine) ExpireOrders(ctx context.Context, ttl time.Duration) ([]model.Order, error) {
	orders, expired, err := e.ledger.ExpireOrders(ctx, ttl)
	if err != nil {
		return nil, err
	}
	for _, o := range expired {
		e.notify(ctx, notify.Notification{
			Kind:  notify.OrderExpired,
			Title: "Order expired",
			Body:  fmt.Sprintf("Your %s %s order for %g %s expired.", o.Kind, o.Side, o.Quantity, o.Symbol),
			Data:  map[string]any{"orderId": o.ID},
		})
	}
	if len(expired) > 0 {
		e.broadcast(stream.EventOrders, orders)
	}
	return expired, nil
}

// CheckMilestones evaluates an externally supplied portfolio value.
func (e *Engine) CheckMilestones(ctx context.Context, value float64) ([]model.Milestone, error) {
	return e.milestones.Check(ctx, value, func(m model.Milestone) {
		e.broadcast(stream.EventMilestone, m)
	})
}

func (e *Engine) Milestones(ctx context.Context) (model.MilestoneState, error) {
	return e.milestones.State(ctx)
}

func (e *Engine) ResetMilestones(ctx context.Context, baseline float64) (model.MilestoneState, error) {
	return e.milestones.Reset(ctx, baseline)
}

func (e *Engine) Portfolio() model.Snapshot {
	return e.account.Snapshot()
}

// Profit is the change of the account value against its starting cash, in percent.
func (e *Engine) Profit() float64 {
	return e.account.GetProfit()
}

func (e *Engine) Risk() model.RiskReport {
	return risk.Analyze(e.account.Snapshot())
}

// ResetAccount starts the account over with cash and moves the milestone baseline to it.
func (e *Engine) ResetAccount(ctx context.Context, cash float64) (model.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.account.Reset(ctx, cash); err != nil {
		return model.Snapshot{}, err
	}
	if cash > 0 {
		if _, err := e.milestones.Reset(ctx, cash); err != nil {
			return model.Snapshot{}, err
		}
	}
	snap := e.account.Snapshot()
	e.broadcast(stream.EventPortfolio, snap)
	return snap, nil
}

func (e *Engine) FlushAccount(ctx context.Context) error {
	return e.account.FlushToStore(ctx)
}

func (e *Engine) Assets() []model.Asset {
	return e.market.Assets()
}

// OrderBook returns the ladder for an asset id or symbol, refreshing it when the cached one is
// stale or has a different depth.
func (e *Engine) OrderBook(key string, levels int) (model.OrderBook, error) {
	asset, ok := e.market.Find(key)
	if !ok {
		return model.OrderBook{}, fmt.Errorf("%w: %s", market.ErrUnknownAsset, key)
	}
	if b, ok := e.books.Last(asset.Symbol); ok && (levels <= 0 || len(b.Bids) == levels) {
		if age, _ := e.books.Age(asset.Symbol); age < e.bookTTL {
			return b, nil
		}
	}
	return e.books.Update(asset.Symbol, asset.Price, levels), nil
}

// RefreshBooks regenerates every asset's ladder at its current price and pushes it.
func (e *Engine) RefreshBooks(context.Context) error {
	for _, a := range e.market.Assets() {
		e.broadcast(stream.EventOrderBook, e.books.Update(a.Symbol, a.Price, 0))
	}
	return nil
}

func (e *Engine) broadcast(eventType string, data any) {
	if err := e.hub.Broadcast(eventType, data); err != nil {
		e.logger.Warnf("%s: can't broadcast %s", err, eventType)
	}
}

func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warnf("%s: can't send %s notification", err, n.Kind)
	}
}

func fillNotification(o model.Order, f portfolio.Fill) notify.Notification {
	return notify.Notification{
		Kind:  notify.OrderFilled,
		Title: "Order filled",
		Body:  fmt.Sprintf("%s %g %s at %g.", o.Side, f.Quantity, o.Symbol, f.Price),
		Data: map[string]any{
			"orderId": o.ID,
			"value":   f.Value,
		},
	}
}

func rejectNotification(o model.Order) notify.Notification {
	return notify.Notification{
		Kind:  notify.OrderRejected,
		Title: "Order rejected",
		Body:  fmt.Sprintf("Your %s %s order for %g %s triggered but could not be executed: %s.", o.Kind, o.Side, o.Quantity, o.Symbol, o.Reason),
		Data:  map[string]any{"orderId": o.ID},
	}
}
