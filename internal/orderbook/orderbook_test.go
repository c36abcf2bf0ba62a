package orderbook

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/benbjohnson/clock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestGenerator(cfg Config) *Generator {
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	return NewGenerator(cfg, rand.New(rand.NewSource(42)), clk)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGenerateLadder(t *testing.T) {
	g := newTestGenerator(DefaultConfig())
	b := g.Generate("BTC", 40000, 5)

	if len(b.Bids) != 5 || len(b.Asks) != 5 {
		t.Fatalf("levels = %d/%d", len(b.Bids), len(b.Asks))
	}
	if !almostEqual(b.Bids[0].Price, 40000*0.999) || !almostEqual(b.Asks[0].Price, 40000*1.001) {
		t.Errorf("best prices = %f / %f", b.Bids[0].Price, b.Asks[0].Price)
	}
	if !almostEqual(b.Bids[2].Price, 40000*0.999*(1-2*0.0005)) {
		t.Errorf("bid #2 = %f", b.Bids[2].Price)
	}
	if !almostEqual(b.Asks[3].Price, 40000*1.001*(1+3*0.0005)) {
		t.Errorf("ask #3 = %f", b.Asks[3].Price)
	}

	var total float64
	for i, l := range b.Bids {
		if l.Quantity < 0.5 || l.Quantity >= 10.5 {
			t.Errorf("bid #%d quantity %f out of range", i, l.Quantity)
		}
		if i > 0 && l.Price >= b.Bids[i-1].Price {
			t.Errorf("bids not descending at %d", i)
		}
		total += l.Quantity
		if !almostEqual(l.Total, total) {
			t.Errorf("bid #%d total = %f, want %f", i, l.Total, total)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price <= b.Asks[i-1].Price {
			t.Errorf("asks not ascending at %d", i)
		}
	}
	if !almostEqual(b.Spread, b.Asks[0].Price-b.Bids[0].Price) || !almostEqual(b.MidPrice, 40000) {
		t.Errorf("spread = %f mid = %f", b.Spread, b.MidPrice)
	}
}

func TestRefreshSmoothsQuantities(t *testing.T) {
	g := newTestGenerator(DefaultConfig())
	prev := model.OrderBook{
		Bids: []model.Level{{Quantity: 10}, {Quantity: 10}},
		Asks: []model.Level{{Quantity: 1}},
	}

	next := g.Refresh(prev, "ETH", 2000, 3)

	for i := 0; i < 2; i++ {
		q := next.Bids[i].Quantity
		// 0.7*10 + 0.3*[0.5, 10.5)
		if q < 7.15 || q >= 10.15 {
			t.Errorf("bid #%d smoothed quantity %f out of range", i, q)
		}
	}
	if q := next.Asks[0].Quantity; q < 0.85 || q >= 3.85 {
		t.Errorf("ask #0 smoothed quantity %f out of range", q)
	}
	if q := next.Asks[2].Quantity; q < 0.5 || q >= 10.5 {
		t.Errorf("rung without history = %f", q)
	}
	if !almostEqual(next.Bids[2].Total, next.Bids[0].Quantity+next.Bids[1].Quantity+next.Bids[2].Quantity) {
		t.Errorf("totals not recomputed after blending")
	}
}

func TestPriceStepKeepsBookUncrossed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriceStep = 0.5
	g := newTestGenerator(cfg)

	b := g.Generate("XAU", 2035.3, 3)
	for _, l := range append(b.Bids, b.Asks...) {
		if r := math.Mod(l.Price, 0.5); !almostEqual(r, 0) && !almostEqual(r, 0.5) {
			t.Errorf("price %f is off the tick", l.Price)
		}
	}
	if b.Bids[0].Price != 2033 || b.Asks[0].Price != 2037.5 {
		t.Errorf("best = %f / %f", b.Bids[0].Price, b.Asks[0].Price)
	}
}

func TestPriceStepAboveBasePriceIsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PriceStep = 0.01
	b := newTestGenerator(cfg).Generate("PENNY", 0.004, 3)

	if len(b.Bids) != 3 || len(b.Asks) != 3 {
		t.Fatalf("levels = %d/%d", len(b.Bids), len(b.Asks))
	}
	if !almostEqual(b.Bids[0].Price, 0.004*0.999) || !almostEqual(b.Asks[0].Price, 0.004*1.001) {
		t.Errorf("best = %v / %v", b.Bids[0].Price, b.Asks[0].Price)
	}
	assertOrdered(t, b)
}

func TestTinyBasePriceStaysUncrossed(t *testing.T) {
	b := newTestGenerator(DefaultConfig()).Generate("DUST", 5e-324, 3)

	if len(b.Bids) == 0 || len(b.Asks) != 3 {
		t.Fatalf("levels = %d/%d", len(b.Bids), len(b.Asks))
	}
	assertOrdered(t, b)
}

func TestGenerateRejectsBadBasePrice(t *testing.T) {
	g := newTestGenerator(DefaultConfig())
	for _, base := range []float64{0, -1, math.Inf(1), math.NaN()} {
		if b := g.Generate("X", base, 3); len(b.Bids) != 0 || len(b.Asks) != 0 {
			t.Errorf("base %v produced %+v", base, b)
		}
	}
}

func assertOrdered(t *testing.T, b model.OrderBook) {
	t.Helper()
	for i, l := range b.Bids {
		if !(l.Price > 0) {
			t.Errorf("bid #%d price %v", i, l.Price)
		}
		if i > 0 && l.Price >= b.Bids[i-1].Price {
			t.Errorf("bids not descending at %d: %v", i, b.Bids)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price <= b.Asks[i-1].Price {
			t.Errorf("asks not ascending at %d: %v", i, b.Asks)
		}
	}
	if b.Asks[0].Price <= b.Bids[0].Price {
		t.Errorf("book crossed: %v / %v", b.Bids[0].Price, b.Asks[0].Price)
	}
}

func TestFeedKeepsHistory(t *testing.T) {
	f := NewFeed(newTestGenerator(DefaultConfig()), 4)

	if _, ok := f.Last("BTC"); ok {
		t.Fatal("unexpected book before first update")
	}
	first := f.Update("BTC", 40000, 0)
	if len(first.Bids) != 4 {
		t.Fatalf("default levels not applied: %d", len(first.Bids))
	}
	second := f.Update("BTC", 40100, 0)
	last, ok := f.Last("BTC")
	if !ok || last.Bids[0].Price != second.Bids[0].Price {
		t.Errorf("Last = %+v", last)
	}
	for i := range second.Bids {
		lo := 0.7*first.Bids[i].Quantity + 0.3*0.5
		hi := 0.7*first.Bids[i].Quantity + 0.3*10.5
		if q := second.Bids[i].Quantity; q < lo-1e-9 || q >= hi {
			t.Errorf("bid #%d not smoothed against previous book: %f", i, q)
		}
	}
	if age, ok := f.Age("BTC"); !ok || age != 0 {
		t.Errorf("age = %s", age)
	}

	f.Forget("BTC")
	if _, ok := f.Last("BTC"); ok {
		t.Error("book not forgotten")
	}
}

func TestPropertyBestAskAboveBestBid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("asks[0] > bids[0] for any positive base price", prop.ForAll(
		func(base float64, levels int, step float64) bool {
			cfg := DefaultConfig()
			cfg.PriceStep = step
			b := newTestGenerator(cfg).Generate("X", base, levels)
			if len(b.Bids) == 0 || len(b.Asks) != levels {
				return false
			}
			for i := 1; i < len(b.Bids); i++ {
				if b.Bids[i].Price >= b.Bids[i-1].Price {
					return false
				}
			}
			return b.Asks[0].Price > b.Bids[0].Price
		},
		gen.Float64Range(1e-6, 1e9),
		gen.IntRange(1, 50),
		gen.OneConstOf(0.0, 0.01, 0.5, 1.0, 100.0),
	))

	properties.TestingRun(t)
}
