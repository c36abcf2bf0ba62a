// Package portfolio keeps the simulated account that filled orders are applied to.
package portfolio

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFilled         = errors.New("order is not filled")
	ErrNegativeCash      = errors.New("cash must not be negative")
	ErrNothingToSell     = errors.New("no position to sell")
)

type Holding struct {
	Asset       model.Asset `json:"asset"`
	Quantity    float64     `json:"quantity"`
	AverageCost float64     `json:"averageCost"`
}

type state struct {
	Cash         float64            `json:"cash"`
	StartingCash float64            `json:"startingCash"`
	Holdings     map[string]Holding `json:"holdings"`
}

// Fill is the effect of one order on the account.
type Fill struct {
	OrderID     string     `json:"orderId"`
	AssetID     string     `json:"assetId"`
	Side        model.Side `json:"side"`
	Quantity    float64    `json:"quantity"`
	Price       float64    `json:"price"`
	Value       float64    `json:"value"`
	RealizedPnL float64    `json:"realizedPnl"`
}

type Portfolio struct {
	store  store.Store
	logger logger.Logger

	mu    sync.RWMutex
	state state
	dirty bool
}

func NewPortfolio(s store.Store, startingCash float64, logger logger.Logger) *Portfolio {
	return &Portfolio{
		store:  s,
		logger: logger,
		state:  newState(startingCash),
	}
}

func newState(cash float64) state {
	return state{
		Cash:         cash,
		StartingCash: cash,
		Holdings:     make(map[string]Holding),
	}
}

func (p *Portfolio) GetBalance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Cash
}

func (p *Portfolio) StartingCash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.StartingCash
}

func (p *Portfolio) GetHolding(assetID string) (Holding, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.state.Holdings[assetID]
	return h, ok
}

// CanAfford reports whether buying quantity at price fits into the cash balance.
func (p *Portfolio) CanAfford(quantity, price float64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return quantity*price <= p.state.Cash
}

// Apply books a filled order. Buys debit cash and average into the position; sells credit cash
// and are clamped to the held quantity; a sell with nothing held is refused. a carries the asset's current market price, used when
// the order has no price of its own.
func (p *Portfolio) Apply(o model.Order, a model.Asset) (Fill, error) {
	if o.Status != model.Filled {
		return Fill{}, fmt.Errorf("%w: %s is %s", ErrNotFilled, o.ID, o.Status)
	}
	price := a.Price
	if o.Price != nil {
		price = *o.Price
	}
	if !(price > 0) {
		return Fill{}, fmt.Errorf("no execution price for order %s", o.ID)
	}
	a.ID = cmp.Or(a.ID, o.AssetID)
	a.Symbol = cmp.Or(a.Symbol, o.Symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.state.Holdings[a.ID]
	h.Asset = a
	f := Fill{OrderID: o.ID, AssetID: a.ID, Side: o.Side, Price: price}

	switch o.Side {
	case model.Buy:
		cost := o.Quantity * price
		if cost > p.state.Cash {
			return Fill{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, cost, p.state.Cash)
		}
		h.AverageCost = (h.AverageCost*h.Quantity + cost) / (h.Quantity + o.Quantity)
		h.Quantity += o.Quantity
		p.state.Cash -= cost
		f.Quantity, f.Value = o.Quantity, cost
	case model.Sell:
		if !(h.Quantity > 0) {
			return Fill{}, fmt.Errorf("%w: %s", ErrNothingToSell, a.ID)
		}
		qty := min(o.Quantity, h.Quantity)
		if qty < o.Quantity {
			p.logger.Warnf("sell of %g %s clamped to held %g", o.Quantity, a.ID, qty)
		}
		f.Quantity, f.Value = qty, qty*price
		f.RealizedPnL = (price - h.AverageCost) * qty
		h.Quantity -= qty
		p.state.Cash += f.Value
	default:
		return Fill{}, fmt.Errorf("%w: unknown side %q", model.ErrInvalidOrder, o.Side)
	}

	if h.Quantity > 0 {
		p.state.Holdings[a.ID] = h
	} else {
		delete(p.state.Holdings, a.ID)
	}
	p.dirty = true

	p.logger.Infof("applied %s %s %g @ %g, cash %.2f", o.Side, a.ID, f.Quantity, price, p.state.Cash)
	return f, nil
}

// UpdatePrice revalues the held position of assetID, if any.
func (p *Portfolio) UpdatePrice(assetID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.state.Holdings[assetID]
	if !ok || h.Asset.Price == price {
		return
	}
	h.Asset.Price = price
	p.state.Holdings[assetID] = h
	p.dirty = true
}

// Snapshot values every holding at its last known price. Positions are ordered by asset id.
func (p *Portfolio) Snapshot() model.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := model.Snapshot{
		Cash:      p.state.Cash,
		Positions: make([]model.Position, 0, len(p.state.Holdings)),
	}
	for _, h := range p.state.Holdings {
		value := h.Quantity * h.Asset.Price
		s.Positions = append(s.Positions, model.Position{
			Asset:        h.Asset,
			Quantity:     h.Quantity,
			AverageCost:  h.AverageCost,
			CurrentValue: value,
			ProfitLoss:   value - h.Quantity*h.AverageCost,
		})
	}
	slices.SortFunc(s.Positions, func(a, b model.Position) int {
		return cmp.Compare(a.Asset.ID, b.Asset.ID)
	})
	return s
}

// GetProfit is the change of total value against the starting cash, in percent.
func (p *Portfolio) GetProfit() float64 {
	total := p.Snapshot().TotalValue()
	start := p.StartingCash()
	if start == 0 {
		return 0
	}
	return (total - start) / start * 100
}
