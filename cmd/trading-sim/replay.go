package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/STTM-NSU/trading-sim/internal/config"
	"github.com/STTM-NSU/trading-sim/internal/notify"
	"github.com/STTM-NSU/trading-sim/internal/postgres"
	"github.com/STTM-NSU/trading-sim/internal/replay"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

type replayFlags struct {
	source string
	seed   int64
	json   bool
}

func newReplayCmd(flags *rootFlags) *cobra.Command {
	rf := &replayFlags{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay scripted orders over historical or generated candles",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(flags.config, _replayCfgFilePath)
			if path == "" {
				return fmt.Errorf("replay needs a config file, pass --config")
			}
			cfg, err := config.LoadReplayConfig(path)
			if err != nil {
				return fmt.Errorf("%w: can't load replay cfg", err)
			}

			zapLogger, loggerSync, err := newLogger(flags, config.LogConfig{Level: "info"})
			if err != nil {
				return err
			}
			defer loggerSync()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			var src replay.CandleSource
			switch rf.source {
			case "db":
				pgConfig := postgres.NewConfigFromEnv().Setup()
				zapLogger.Debugf("trying to connect to db with: %s", pgConfig.Redacted())
				db, err := postgres.NewDB(ctx, pgConfig)
				if err != nil {
					return err
				}
				defer db.Close()
				src = replay.NewDBSource(db)
			case "synthetic":
				src = replay.NewSyntheticSource(cfg.Assets, cfg.Step, rf.seed)
			default:
				return fmt.Errorf("unknown candle source %q", rf.source)
			}

			res, err := replay.New(src, zapLogger, replay.WithNotifier(notify.NewLog(zapLogger))).Run(ctx, cfg)
			if err != nil {
				return fmt.Errorf("%w: replay failed", err)
			}

			if rf.json {
				out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
				if err != nil {
					return fmt.Errorf("%w: can't marshal result", err)
				}
				_, err = fmt.Fprintln(os.Stdout, string(out))
				return err
			}
			replay.PrintSummary(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&rf.source, "source", "synthetic", "candle source: synthetic or db")
	cmd.Flags().Int64Var(&rf.seed, "seed", 1, "seed of the synthetic candles")
	cmd.Flags().BoolVar(&rf.json, "json", false, "print the result as json")
	return cmd
}
