package main

import (
	"fmt"
	"log"
	"os"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	_appCfgFilePath    = "./configs/trading-sim.yaml"
	_replayCfgFilePath = "./configs/replay.yaml"
)

type rootFlags struct {
	config   string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("%s: trading-sim failed", err)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "trading-sim",
		Short:         "Paper trading simulator with an AI trading mentor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Printf("can't detect .env file")
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.config, "config", "", "path to the yaml config")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error; overrides the config")

	rootCmd.AddCommand(newServeCmd(flags), newReplayCmd(flags))
	return rootCmd
}

// newLogger builds the process logger. The level flag wins over the configured one.
func newLogger(flags *rootFlags, cfg config.LogConfig) (logger.Logger, func(), error) {
	level := cfg.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(level), logger.WithFile(cfg.File))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: can't init logger", err)
	}
	return zapLogger, loggerSync, nil
}

// configPath prefers the flag, then the default file if it exists.
func configPath(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}
