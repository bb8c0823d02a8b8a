// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GateWard Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gateward/gateward/internal/store"
)

// newMigrateCmd creates the migrate subcommand and its actions.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back, or inspect schema migrations against the PostgreSQL database.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *store.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					cmd.Println("Migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *store.Migrator) error {
					if err := m.Down(); err != nil {
						return err
					}
					cmd.Println("Migrations rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return oops.Code("MIGRATE_INVALID_STEPS").
						With("steps", args[0]).
						Wrap(err)
				}
				return withMigrator(cmd, func(m *store.Migrator) error {
					if err := m.Steps(n); err != nil {
						return err
					}
					cmd.Printf("Applied %d migration step(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the current schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrator(cmd, func(m *store.Migrator) error {
					version, dirty, err := m.Version()
					if err != nil {
						return err
					}
					if dirty {
						cmd.Printf("Version: %d (dirty)\n", version)
					} else {
						cmd.Printf("Version: %d\n", version)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the schema version without running migrations",
			Long:  `Mark the schema as being at the given version. Used to recover from a dirty state after a failed migration.`,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return oops.Code("MIGRATE_INVALID_VERSION").
						With("version", args[0]).
						Wrap(err)
				}
				return withMigrator(cmd, func(m *store.Migrator) error {
					if err := m.Force(v); err != nil {
						return err
					}
					cmd.Printf("Forced version to %d\n", v)
					return nil
				})
			},
		},
	)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			Errorf("database URL is required (config file or DATABASE_URL)")
	}

	m, err := store.NewMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()

	return fn(m)
}
