// Package market simulates prices for the configured assets.
package market

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/model"
)

var ErrUnknownAsset = errors.New("unknown asset")

const _minPrice = 1e-8

type tracked struct {
	asset      model.Asset
	volatility float64
}

// Simulator moves every asset along an independent multiplicative random walk.
type Simulator struct {
	mu     sync.RWMutex
	rnd    *rand.Rand
	assets map[string]*tracked
	order  []string
}

func NewSimulator(assets []config.AssetConfig, rnd *rand.Rand) *Simulator {
	s := &Simulator{
		rnd:    rnd,
		assets: make(map[string]*tracked, len(assets)),
		order:  make([]string, 0, len(assets)),
	}
	for _, a := range assets {
		s.assets[a.ID] = &tracked{asset: a.Asset, volatility: a.Volatility}
		s.order = append(s.order, a.ID)
	}
	return s
}

// Next advances assetID by one step and returns its new state.
func (s *Simulator) Next(assetID string) (model.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.assets[assetID]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	price := t.asset.Price * (1 + t.volatility*s.rnd.NormFloat64())
	if price < _minPrice {
		price = math.Max(t.asset.Price/2, _minPrice)
	}
	t.asset.Price = price
	return t.asset, nil
}

// Step advances every asset once, in configuration order.
func (s *Simulator) Step() []model.Asset {
	out := make([]model.Asset, 0, len(s.order))
	for _, id := range s.order {
		a, err := s.Next(id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Set records a client-supplied price for assetID.
func (s *Simulator) Set(assetID string, price float64) (model.Asset, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return model.Asset{}, fmt.Errorf("price must be positive, got %v", price)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.assets[assetID]
	if !ok {
		return model.Asset{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	t.asset.Price = price
	return t.asset, nil
}

func (s *Simulator) Asset(assetID string) (model.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.assets[assetID]
	if !ok {
		return model.Asset{}, false
	}
	return t.asset, true
}

// Find looks an asset up by id, then by symbol ignoring case.
func (s *Simulator) Find(key string) (model.Asset, bool) {
	if a, ok := s.Asset(key); ok {
		return a, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if a := s.assets[id].asset; strings.EqualFold(a.Symbol, key) {
			return a, true
		}
	}
	return model.Asset{}, false
}

func (s *Simulator) Assets() []model.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Asset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.assets[id].asset)
	}
	return out
}

func (s *Simulator) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.assets))
	for id, t := range s.assets {
		out[id] = t.asset.Price
	}
	return out
}
