// Package replay drives the simulation through historical (or generated) candles on a virtual
// clock and reports the resulting equity curve.
package replay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/engine"
	"github.com/STTM-NSU/trading-sim/internal/ledger"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/STTM-NSU/trading-sim/internal/market"
	"github.com/STTM-NSU/trading-sim/internal/milestone"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/orderbook"
	"github.com/STTM-NSU/trading-sim/internal/portfolio"
	"github.com/STTM-NSU/trading-sim/internal/store"
	"github.com/benbjohnson/clock"
)

var ErrNoCandles = errors.New("no candles in the replay interval")

const _replayBookLevels = 5

type Result struct {
	From         time.Time              `json:"from"`
	To           time.Time              `json:"to"`
	StartingCash float64                `json:"startingCash"`
	Final        model.Snapshot         `json:"final"`
	Profit       float64                `json:"profit"` // percent against starting cash
	Curve        []model.IntervalProfit `json:"curve"`
	Orders       []model.Order          `json:"orders"`
	Milestones   []model.Milestone      `json:"milestones"`
	Ticks        int                    `json:"ticks"`
}

type Replayer struct {
	source   CandleSource
	notifier notify.Notifier
	logger   logger.Logger
}

type Option func(*Replayer)

func WithNotifier(n notify.Notifier) Option {
	return func(r *Replayer) {
		if n != nil {
			r.notifier = n
		}
	}
}

func New(src CandleSource, logger logger.Logger, opts ...Option) *Replayer {
	r := &Replayer{
		source:   src,
		notifier: notify.Nop{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run replays cfg on a fresh in-memory simulation. Configured orders are placed at the first
// candle; afterwards every new candle is fed to the engine as a price tick.
func (r *Replayer) Run(ctx context.Context, cfg config.ReplayConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	assets, series, err := r.load(ctx, cfg)
	if err != nil {
		return Result{}, err
	}

	clk := clock.NewMock()
	clk.Set(cfg.From)
	e := r.newEngine(cfg, assets, clk)

	for i, o := range cfg.Orders {
		req := engine.OrderRequest{AssetID: o.AssetID, Kind: o.Kind, Side: o.Side, Quantity: o.Quantity}
		if o.Price > 0 {
			req.Price = model.PriceOf(o.Price)
		}
		if _, err := e.PlaceOrder(ctx, req); err != nil {
			r.logger.Warnf("%s: replay order #%d rejected", err, i)
		}
	}

	res := Result{From: cfg.From, To: cfg.To, StartingCash: cfg.StartingCash}
	cursors := make(map[string]int, len(assets))
	var lastDay time.Time

	for _, week := range SplitIntoWeeks(cfg.From, cfg.To) {
		r.logger.Infof("replay week %s - %s, value %.2f", week.Start.Format(time.DateOnly), week.End.Format(time.DateOnly),
			e.Portfolio().TotalValue())

		for _, ts := range DivideInto(week.Start, week.End, cfg.Step) {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if ts.After(cfg.To) {
				break
			}
			clk.Set(ts)

			if day := ts.Truncate(_day); day != lastDay {
				if !lastDay.IsZero() {
					res.Curve = append(res.Curve, point(e.Portfolio(), cfg.StartingCash, lastDay))
				}
				lastDay = day
			}

			for _, a := range assets {
				price, ok := advance(series[a.ID], cursors, a.ID, ts)
				if !ok {
					continue
				}
				tick, err := e.Tick(ctx, a.ID, price)
				if err != nil {
					return res, fmt.Errorf("%w: replay tick %s at %s", err, a.ID, ts)
				}
				res.Ticks++
				res.Milestones = append(res.Milestones, tick.Milestones...)
			}
		}
	}

	res.Final = e.Portfolio()
	if !lastDay.IsZero() {
		res.Curve = append(res.Curve, point(res.Final, cfg.StartingCash, lastDay))
	}
	res.Profit = e.Profit()
	if res.Orders, err = e.Orders(ctx); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Replayer) load(ctx context.Context, cfg config.ReplayConfig) ([]config.AssetConfig, map[string][]model.Candle, error) {
	series := make(map[string][]model.Candle, len(cfg.Assets))
	assets := make([]config.AssetConfig, 0, len(cfg.Assets))
	for _, a := range cfg.Assets {
		candles, err := r.source.Candles(ctx, a.ID, cfg.From, cfg.To)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: can't load candles for %s", err, a.ID)
		}
		if len(candles) == 0 {
			r.logger.Warnf("no candles for %s between %s and %s, skipping", a.ID, cfg.From, cfg.To)
			continue
		}
		a.Price = candles[0].ClosePrice
		if a.Symbol == "" {
			a.Symbol = a.ID
		}
		assets = append(assets, a)
		series[a.ID] = candles
	}
	if len(assets) == 0 {
		return nil, nil, ErrNoCandles
	}
	return assets, series, nil
}

func (r *Replayer) newEngine(cfg config.ReplayConfig, assets []config.AssetConfig, clk clock.Clock) *engine.Engine {
	st := store.NewMemory()
	tracker := milestone.NewTracker(st, clk, r.logger,
		milestone.WithDefaultBaseline(cfg.StartingCash),
		milestone.WithNotifier(r.notifier),
	)
	gen := orderbook.NewGenerator(orderbook.DefaultConfig(), rand.New(rand.NewSource(cfg.From.Unix())), clk)

	return engine.New(r.logger,
		market.NewSimulator(assets, rand.New(rand.NewSource(cfg.From.Unix()))),
		ledger.New(st, clk, r.logger),
		portfolio.NewPortfolio(st, cfg.StartingCash, r.logger),
		tracker,
		orderbook.NewFeed(gen, _replayBookLevels),
		engine.WithNotifier(r.notifier),
	)
}

// advance moves the cursor of assetID past every candle at or before ts and returns the close of
// the last one passed. It reports false when no new candle was reached.
func advance(candles []model.Candle, cursors map[string]int, assetID string, ts time.Time) (float64, bool) {
	c := cursors[assetID]
	start := c
	for c < len(candles) && !candles[c].Ts.After(ts) {
		c++
	}
	cursors[assetID] = c
	if c == start {
		return 0, false
	}
	return candles[c-1].ClosePrice, true
}

func point(s model.Snapshot, startingCash float64, ts time.Time) model.IntervalProfit {
	return model.IntervalProfit{
		Balance: s.TotalValue(),
		Profit:  profit(s.TotalValue(), startingCash),
		Ts:      ts,
	}
}

func profit(total, start float64) float64 {
	if start == 0 {
		return 0
	}
	return (total - start) / start * 100
}
