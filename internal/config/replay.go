package config

import (
	"fmt"
	"os"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/model"
	"gopkg.in/yaml.v3"
)

type ReplayOrder struct {
	AssetID  string          `yaml:"asset_id"`
	Kind     model.OrderKind `yaml:"type"`
	Side     model.Side      `yaml:"side"`
	Quantity float64         `yaml:"quantity"`
	Price    float64         `yaml:"price"`
}

type ReplayConfig struct {
	From         time.Time     `yaml:"from"`
	To           time.Time     `yaml:"to"`
	Step         time.Duration `yaml:"step"`
	StartingCash float64       `yaml:"starting_cash"`
	Assets       []AssetConfig `yaml:"assets"`
	Orders       []ReplayOrder `yaml:"orders"`
}

const _replayStepDefault = time.Hour

func (c *ReplayConfig) Validate() error {
	if c.From.IsZero() || c.To.IsZero() {
		return fmt.Errorf("from and to are required")
	}
	if !c.From.Before(c.To) {
		return fmt.Errorf("from must be before to")
	}
	if c.Step <= 0 {
		c.Step = _replayStepDefault
	}
	if c.StartingCash <= 0 {
		c.StartingCash = _startingCashDefault
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("empty assets")
	}
	ids := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		ids[a.ID] = struct{}{}
	}
	for i, o := range c.Orders {
		if _, ok := ids[o.AssetID]; !ok {
			return fmt.Errorf("order #%d references unknown asset %s", i, o.AssetID)
		}
	}
	return nil
}

func LoadReplayConfig(filename string) (ReplayConfig, error) {
	var cfg ReplayConfig
	input, err := os.ReadFile(filename)
	if err != nil {
		return cfg, fmt.Errorf("%w: can't read file", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: can't unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: can't validate replay cfg", err)
	}

	return cfg, nil
}
