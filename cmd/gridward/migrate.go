// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gridward/gridward/internal/config"
	"github.com/gridward/gridward/internal/store"
)

// NewMigrateCmd creates the migrate subcommand group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

// openMigrator loads the config and builds a Migrator for its database URL.
func openMigrator(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(cfg.Database.URL)
}

func newMigrateUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("No pending migrations")
				return nil
			}
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		},
	}
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (destructive)",
		Long:  `Roll back all migrations, dropping the grants and audit tables along with their data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return oops.Code("INVALID_REQUEST").
					Errorf("migrate down drops all permission data; re-run with --yes to confirm")
			}
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the rollback")
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Printf("Current version: %d (dirty: %v)\n", version, dirty)

			applied, err := m.AppliedMigrations()
			if err != nil {
				return err
			}
			for _, v := range applied {
				name, err := store.MigrationName(v)
				if err != nil {
					return err
				}
				cmd.Printf("  applied: %s\n", name)
			}

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			for _, v := range pending {
				name, err := store.MigrationName(v)
				if err != nil {
					return err
				}
				cmd.Printf("  pending: %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	return cmd
}

func newMigrateForceCmd() *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Set the migration version without running migrations",
		Long: `Set the schema version directly. Only for recovering from a dirty
migration state after fixing the database by hand.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if version < 0 {
				return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
			}
			m, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version to %d\n", version)
			return nil
		},
	}
	cmd.Flags().IntVar(&version, "version", -1, "target version")
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}
