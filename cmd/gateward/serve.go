// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/config"
	"github.com/gateward/gateward/internal/engine"
	"github.com/gateward/gateward/internal/logging"
	"github.com/gateward/gateward/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication engine",
		Long: `Start the authentication engine and keep it running until
interrupted. SIGHUP reloads the config file and re-applies thresholds
without dropping sessions or ban state.`,
		RunE: runServe,
	}

	// Dotted flag names bind directly to config keys.
	cmd.Flags().String("metrics.addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log.format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().Bool("log.verbose", defaults.Log.Verbose, "enable debug logging")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database URL is required (config file or DATABASE_URL)")
	}

	logger := logging.Setup("gateward", version, cfg.Log.Format, os.Stderr)
	slog.SetDefault(logger)
	logging.SetVerbose(cfg.Log.Verbose)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var eng *engine.Engine
	var obs *observability.Server
	opts := engine.Options{}
	if cfg.Metrics.Addr != "" {
		obs = observability.NewServer(cfg.Metrics.Addr, func() bool {
			return eng != nil && eng.Ready()
		})
		opts.Registry = obs.Registry()
		opts.Metrics = obs.Metrics()
	}

	eng, err = engine.New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer eng.Close()

	var obsErrCh <-chan error
	if obs != nil {
		obsErrCh, err = obs.Start()
		if err != nil {
			return oops.Code("METRICS_START_FAILED").
				With("addr", cfg.Metrics.Addr).
				Wrap(err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				logger.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	cmd.Println("GateWard started")
	logger.Info("engine ready", "metrics_addr", cfg.Metrics.Addr)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadConfig(cmd, eng, logger)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			return nil
		case err, ok := <-obsErrCh:
			if !ok {
				obsErrCh = nil
				continue
			}
			return oops.Code("METRICS_SERVER_FAILED").Wrap(err)
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			return nil
		}
	}
}

// reloadConfig re-reads the config file and applies it to the running engine.
// A broken config is logged and ignored; the engine keeps its current
// thresholds.
func reloadConfig(cmd *cobra.Command, eng *engine.Engine, logger *slog.Logger) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Error("config reload failed, keeping current configuration", "error", err)
		return
	}
	if err := eng.Reload(cfg); err != nil {
		logger.Error("config reload rejected, keeping current configuration", "error", err)
	}
}
