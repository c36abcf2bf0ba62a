package config

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/STTM-NSU/trading-sim/internal/logger"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

const (
	_portDefault            = "8080"
	_allowedOriginDefault   = "*"
	_shutdownTimeoutDefault = 10 * time.Second
)

func (c *ServerConfig) Setup() {
	c.Port = cmp.Or(c.Port, _portDefault)
	c.AllowedOrigin = cmp.Or(c.AllowedOrigin, _allowedOriginDefault)
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = _shutdownTimeoutDefault
	}
}

type StoreBackend string

const (
	MemoryStore   StoreBackend = "memory"
	SQLiteStore   StoreBackend = "sqlite"
	PostgresStore StoreBackend = "postgres"
)

type StoreConfig struct {
	Backend    StoreBackend `yaml:"backend"`
	SQLitePath string       `yaml:"sqlite_path"`
}

const (
	_storeBackendDefault = SQLiteStore
	_sqlitePathDefault   = "./data/trading-sim.db"
)

func (c *StoreConfig) Setup() error {
	c.Backend = cmp.Or(c.Backend, _storeBackendDefault)
	switch c.Backend {
	case MemoryStore, PostgresStore:
	case SQLiteStore:
		c.SQLitePath = cmp.Or(c.SQLitePath, _sqlitePathDefault)
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	return nil
}

type LogConfig struct {
	Level string            `yaml:"level"`
	File  logger.FileConfig `yaml:"file"`
}

func (c *LogConfig) Setup() {
	c.Level = cmp.Or(c.Level, "info")
	if c.File.Path == "" {
		return
	}
	if c.File.MaxSizeMB <= 0 {
		c.File.MaxSizeMB = 100
	}
	if c.File.MaxBackups <= 0 {
		c.File.MaxBackups = 7
	}
	if c.File.MaxAgeDays <= 0 {
		c.File.MaxAgeDays = 30
	}
}

type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Advisor    AdvisorConfig    `yaml:"advisor"`
	Simulation SimulationConfig `yaml:"simulation"`
	Milestones MilestonesConfig `yaml:"milestones"`
	OrderBook  OrderBookConfig  `yaml:"order_book"`
}

func (c *AppConfig) ValidateAndSetup() error {
	c.Server.Setup()
	if err := c.Store.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup store", err)
	}
	c.Log.Setup()
	if err := c.Advisor.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup advisor", err)
	}
	if err := c.Simulation.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup simulation", err)
	}
	if err := c.Milestones.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup milestones", err)
	}
	if err := c.OrderBook.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup order book", err)
	}
	return nil
}

// LoadAppConfig reads filename, or starts from defaults when filename is empty.
func LoadAppConfig(filename string) (AppConfig, error) {
	var cfg AppConfig
	if filename != "" {
		input, err := os.ReadFile(filename)
		if err != nil {
			return cfg, fmt.Errorf("%w: can't read file", err)
		}

		if err := yaml.Unmarshal(input, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: can't unmarshal config", err)
		}
	}

	if err := cfg.ValidateAndSetup(); err != nil {
		return cfg, fmt.Errorf("%w: can't setup cfg", err)
	}

	ApplyEnv(&cfg)

	return cfg, nil
}
