// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gridward/gridward/internal/logging"
)

// Global flags available to all subcommands.
var (
	configFile string
	logFormat  string
	logLevel   string
)

// NewRootCmd creates the root command for the gridward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gridward",
		Short: "Gridward - permission resolution service",
		Long: `Gridward resolves permissions for typed resources: grants to users
and groups, hierarchy inheritance, field restrictions, and audited
allow/deny decisions backed by PostgreSQL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logging.SetDefault("gridward", version, logFormat, level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewCheckCmd())

	return cmd
}
