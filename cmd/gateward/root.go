// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the GateWard CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateward",
		Short: "GateWard - player authentication engine for game servers",
		Long: `GateWard is a player-authentication and account-security engine
for multiplayer game servers: credential verification, sessions, TOTP
second factor, anti-bot IP bans, rate limiting, and an audit trail.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig merges defaults, the optional config file, and the command's
// flags. DATABASE_URL from the environment wins over the file so deployments
// can keep credentials out of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	return cfg, nil
}
