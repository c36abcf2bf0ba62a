// Package orderbook builds synthetic bid/ask ladders for display.
package orderbook

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/STTM-NSU/trading-sim/internal/tools"
	"github.com/benbjohnson/clock"
)

type Config struct {
	Spread        float64
	Step          float64
	MinQuantity   float64
	QuantityRange float64
	Smoothing     float64 // weight of the previous quantity when refreshing
	PriceStep     float64 // tick size; zero keeps raw prices
}

func DefaultConfig() Config {
	return Config{
		Spread:        0.001,
		Step:          0.0005,
		MinQuantity:   0.5,
		QuantityRange: 10,
		Smoothing:     0.7,
	}
}

// Generator is not safe for concurrent use; Feed serializes access to it.
type Generator struct {
	cfg   Config
	rnd   *rand.Rand
	clock clock.Clock
}

func NewGenerator(cfg Config, rnd *rand.Rand, clk clock.Clock) *Generator {
	return &Generator{cfg: cfg, rnd: rnd, clock: clk}
}

// Generate builds a fresh ladder of up to levels rungs per side around basePrice. Bids strictly
// descend, asks strictly ascend and the best ask is always above the best bid; bid rungs that
// would reach zero are left out.
func (g *Generator) Generate(symbol string, basePrice float64, levels int) model.OrderBook {
	if levels < 0 || !(basePrice > 0) || math.IsInf(basePrice, 0) {
		levels = 0
	}
	tick := g.tick(basePrice)

	bids := make([]model.Level, 0, levels)
	for i := range levels {
		p := g.bidPrice(basePrice, i, tick)
		if n := len(bids); n > 0 && p >= bids[n-1].Price {
			p = below(bids[n-1].Price, tick)
		}
		if !(p > 0) {
			break
		}
		bids = append(bids, model.Level{Price: p, Quantity: g.quantity()})
	}

	var floor float64
	if len(bids) > 0 {
		floor = bids[0].Price
	}
	asks := make([]model.Level, 0, levels)
	for i := range levels {
		p := g.askPrice(basePrice, i, tick)
		prev := floor
		if n := len(asks); n > 0 {
			prev = asks[n-1].Price
		}
		if p <= prev {
			p = above(prev, tick)
		}
		asks = append(asks, model.Level{Price: p, Quantity: g.quantity()})
	}
	return g.finish(symbol, bids, asks)
}

// Refresh generates a new ladder and blends each rung's quantity with the same rung of prev.
// Rungs prev does not have keep the fresh quantity.
func (g *Generator) Refresh(prev model.OrderBook, symbol string, basePrice float64, levels int) model.OrderBook {
	next := g.Generate(symbol, basePrice, levels)
	w := g.cfg.Smoothing
	for i := range next.Bids {
		if i < len(prev.Bids) {
			next.Bids[i].Quantity = w*prev.Bids[i].Quantity + (1-w)*next.Bids[i].Quantity
		}
	}
	for i := range next.Asks {
		if i < len(prev.Asks) {
			next.Asks[i].Quantity = w*prev.Asks[i].Quantity + (1-w)*next.Asks[i].Quantity
		}
	}
	accumulate(next.Bids)
	accumulate(next.Asks)
	return next
}

// tick is the configured price step, or zero when the step exceeds the best bid and rounding
// would collapse the ladder.
func (g *Generator) tick(base float64) float64 {
	if g.cfg.PriceStep > 0 && g.cfg.PriceStep <= base*(1-g.cfg.Spread) {
		return g.cfg.PriceStep
	}
	return 0
}

func (g *Generator) bidPrice(base float64, i int, tick float64) float64 {
	p := base * (1 - g.cfg.Spread) * (1 - float64(i)*g.cfg.Step)
	return tools.FloorToStep(p, tick)
}

func (g *Generator) askPrice(base float64, i int, tick float64) float64 {
	p := base * (1 + g.cfg.Spread) * (1 + float64(i)*g.cfg.Step)
	return tools.CeilToStep(p, tick)
}

func below(p, tick float64) float64 {
	if tick > 0 {
		return p - tick
	}
	return math.Nextafter(p, 0)
}

func above(p, tick float64) float64 {
	if tick > 0 {
		return p + tick
	}
	return math.Nextafter(p, math.Inf(1))
}

func (g *Generator) quantity() float64 {
	return g.cfg.MinQuantity + g.rnd.Float64()*g.cfg.QuantityRange
}

func (g *Generator) finish(symbol string, bids, asks []model.Level) model.OrderBook {
	accumulate(bids)
	accumulate(asks)
	b := model.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: g.clock.Now().UTC(),
	}
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if hasBid && hasAsk {
		b.Spread = ask.Price - bid.Price
		b.MidPrice = (ask.Price + bid.Price) / 2
	}
	return b
}

func accumulate(levels []model.Level) {
	var total float64
	for i := range levels {
		total += levels[i].Quantity
		levels[i].Total = total
	}
}

// Feed keeps the last book per symbol so every refresh is smoothed against the previous one.
type Feed struct {
	gen    *Generator
	levels int

	mu    sync.Mutex
	books map[string]model.OrderBook
}

func NewFeed(gen *Generator, levels int) *Feed {
	return &Feed{
		gen:    gen,
		levels: levels,
		books:  make(map[string]model.OrderBook),
	}
}

// Update refreshes the book for symbol around basePrice. A non-positive levels uses the feed default.
func (f *Feed) Update(symbol string, basePrice float64, levels int) model.OrderBook {
	if levels <= 0 {
		levels = f.levels
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	prev, ok := f.books[symbol]
	var b model.OrderBook
	if ok {
		b = f.gen.Refresh(prev, symbol, basePrice, levels)
	} else {
		b = f.gen.Generate(symbol, basePrice, levels)
	}
	f.books[symbol] = b
	return b
}

// Last returns the most recent book for symbol, if any.
func (f *Feed) Last(symbol string) (model.OrderBook, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[symbol]
	return b, ok
}

func (f *Feed) Forget(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.books, symbol)
}

// Age is how long ago the book for symbol was produced.
func (f *Feed) Age(symbol string) (time.Duration, bool) {
	b, ok := f.Last(symbol)
	if !ok {
		return 0, false
	}
	return f.gen.clock.Since(b.Timestamp), true
}
