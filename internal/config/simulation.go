package config

import (
	"fmt"
	"math"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/milestone"
	"github.com/STTM-NSU/trading-sim/internal/model"
)

type AssetConfig struct {
	model.Asset `yaml:",inline"`
	Volatility  float64 `yaml:"volatility"` // relative stddev per tick
}

type SimulationConfig struct {
	Assets          []AssetConfig `yaml:"assets"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	StartingCash    float64       `yaml:"starting_cash"`
	PendingOrderTTL time.Duration `yaml:"pending_order_ttl"` // zero keeps pending orders forever
	NotifyWebhook   string        `yaml:"notify_webhook"`
}

const (
	_tickIntervalDefault = 3 * time.Second
	_startingCashDefault = 10000
	_volatilityDefault   = 0.002
)

var DefaultAssets = []AssetConfig{
	{Asset: model.Asset{ID: "btc", Symbol: "BTC", Name: "Bitcoin", Type: model.Crypto, Price: 43250}, Volatility: 0.004},
	{Asset: model.Asset{ID: "eth", Symbol: "ETH", Name: "Ethereum", Type: model.Crypto, Price: 2280}, Volatility: 0.005},
	{Asset: model.Asset{ID: "aapl", Symbol: "AAPL", Name: "Apple Inc.", Type: model.Stock, Price: 189.5}, Volatility: 0.0015},
	{Asset: model.Asset{ID: "tsla", Symbol: "TSLA", Name: "Tesla Inc.", Type: model.Stock, Price: 248.4}, Volatility: 0.003},
	{Asset: model.Asset{ID: "eurusd", Symbol: "EUR/USD", Name: "Euro / US Dollar", Type: model.Forex, Price: 1.0875}, Volatility: 0.0005},
	{Asset: model.Asset{ID: "gold", Symbol: "XAU", Name: "Gold", Type: model.Commodity, Price: 2035}, Volatility: 0.001},
}

func (c *SimulationConfig) Setup() error {
	if len(c.Assets) == 0 {
		c.Assets = append([]AssetConfig(nil), DefaultAssets...)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for i := range c.Assets {
		a := &c.Assets[i]
		if a.ID == "" {
			return fmt.Errorf("asset #%d has empty id", i)
		}
		if _, ok := seen[a.ID]; ok {
			return fmt.Errorf("duplicate asset id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Price <= 0 {
			return fmt.Errorf("asset %s must have a positive start price", a.ID)
		}
		if a.Symbol == "" {
			a.Symbol = a.ID
		}
		if a.Type == "" {
			a.Type = model.Stock
		}
		if a.Volatility <= 0 {
			a.Volatility = _volatilityDefault
		}
	}
	if c.TickInterval <= 0 {
		c.TickInterval = _tickIntervalDefault
	}
	if c.StartingCash <= 0 {
		c.StartingCash = _startingCashDefault
	}
	if c.PendingOrderTTL < 0 {
		c.PendingOrderTTL = 0
	}
	return nil
}

type MilestonesConfig struct {
	DefaultBaseline float64   `yaml:"default_baseline"`
	Thresholds      []float64 `yaml:"thresholds"`
}

// Setup rejects thresholds that could never fire once (zero, NaN, infinite) or that would share
// a stored key with another threshold.
func (c *MilestonesConfig) Setup() error {
	if math.IsNaN(c.DefaultBaseline) || math.IsInf(c.DefaultBaseline, 0) {
		return fmt.Errorf("default baseline must be finite, got %v", c.DefaultBaseline)
	}
	if c.DefaultBaseline <= 0 {
		c.DefaultBaseline = milestone.DefaultBaseline
	}
	if len(c.Thresholds) == 0 {
		c.Thresholds = append([]float64(nil), milestone.DefaultThresholds...)
	}
	seen := make(map[string]struct{}, len(c.Thresholds))
	for _, t := range c.Thresholds {
		if t == 0 || math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("milestone threshold must be a finite non-zero percentage, got %v", t)
		}
		key := model.ThresholdKey(t)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicate milestone threshold %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

type OrderBookConfig struct {
	Levels          int           `yaml:"levels"`
	Spread          float64       `yaml:"spread"`
	Step            float64       `yaml:"step"`
	MinQuantity     float64       `yaml:"min_quantity"`
	QuantityRange   float64       `yaml:"quantity_range"`
	Smoothing       float64       `yaml:"smoothing"` // weight kept from the previous tick
	PriceStep       float64       `yaml:"price_step"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

const (
	_levelsDefault          = 10
	_spreadDefault          = 0.001
	_stepDefault            = 0.0005
	_minQuantityDefault     = 0.5
	_quantityRangeDefault   = 10
	_smoothingDefault       = 0.7
	_refreshIntervalDefault = 2 * time.Second
)

func (c *OrderBookConfig) Setup() error {
	if c.Levels <= 0 {
		c.Levels = _levelsDefault
	}
	if c.Spread <= 0 {
		c.Spread = _spreadDefault
	}
	if c.Step <= 0 {
		c.Step = _stepDefault
	}
	if c.MinQuantity <= 0 {
		c.MinQuantity = _minQuantityDefault
	}
	if c.QuantityRange <= 0 {
		c.QuantityRange = _quantityRangeDefault
	}
	if c.Smoothing <= 0 {
		c.Smoothing = _smoothingDefault
	}
	if c.Smoothing >= 1 {
		return fmt.Errorf("smoothing must be below 1, got %f", c.Smoothing)
	}
	if c.PriceStep < 0 {
		c.PriceStep = 0
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = _refreshIntervalDefault
	}
	return nil
}
