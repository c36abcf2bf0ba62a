package replay

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/market"
	"github.com/STTM-NSU/trading-sim/internal/model"
	"github.com/jmoiron/sqlx"
)

// CandleSource returns the candles of one asset within [from, to], oldest first.
type CandleSource interface {
	Candles(ctx context.Context, assetID string, from, to time.Time) ([]model.Candle, error)
}

const (
	_queryCandles = "SELECT instrument_id, ts, close_price FROM stocks WHERE ts BETWEEN $1::timestamp AND $2::timestamp AND instrument_id = $3 ORDER BY ts ASC"
)

// DBSource reads hourly close prices from the stocks table.
type DBSource struct {
	db *sqlx.DB
}

func NewDBSource(db *sqlx.DB) *DBSource {
	return &DBSource{db: db}
}

func (s *DBSource) Candles(ctx context.Context, assetID string, from, to time.Time) ([]model.Candle, error) {
	var candles []model.Candle
	if err := s.db.SelectContext(ctx, &candles, _queryCandles, from, to, assetID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't get candles from database", err)
	}
	return candles, nil
}

// MemorySource serves fixed candles, mostly for tests and small scripted replays.
type MemorySource map[string][]model.Candle

func (m MemorySource) Candles(_ context.Context, assetID string, from, to time.Time) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range m[assetID] {
		if !c.Ts.Before(from) && !c.Ts.After(to) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b model.Candle) int { return a.Ts.Compare(b.Ts) })
	return out, nil
}

// SyntheticSource walks each asset's configured start price with the market simulator, one
// candle per step. The same seed yields the same candles.
type SyntheticSource struct {
	assets []config.AssetConfig
	step   time.Duration
	seed   int64
}

func NewSyntheticSource(assets []config.AssetConfig, step time.Duration, seed int64) *SyntheticSource {
	return &SyntheticSource{assets: assets, step: cmp.Or(step, time.Hour), seed: seed}
}

func (s *SyntheticSource) Candles(_ context.Context, assetID string, from, to time.Time) ([]model.Candle, error) {
	i := slices.IndexFunc(s.assets, func(a config.AssetConfig) bool { return a.ID == assetID })
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", market.ErrUnknownAsset, assetID)
	}
	a := s.assets[i]
	if a.Price <= 0 {
		return nil, fmt.Errorf("asset %s needs a positive start price for synthetic candles", assetID)
	}

	sim := market.NewSimulator([]config.AssetConfig{a}, rand.New(rand.NewSource(s.seed+int64(i))))
	var out []model.Candle
	for _, ts := range DivideInto(from, to.Add(time.Nanosecond), s.step) {
		if len(out) == 0 {
			out = append(out, model.Candle{InstrumentID: assetID, Ts: ts, ClosePrice: a.Price})
			continue
		}
		next, err := sim.Next(assetID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Candle{InstrumentID: assetID, Ts: ts, ClosePrice: next.Price})
	}
	return out, nil
}
