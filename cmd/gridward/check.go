// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package main

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gridward/gridward/internal/config"
	"github.com/gridward/gridward/internal/directory"
	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	permstore "github.com/gridward/gridward/internal/perm/store"
)

// checkResult is the JSON shape printed by the check command.
type checkResult struct {
	User       string   `json:"user"`
	Resource   string   `json:"resource"`
	Permission string   `json:"permission"`
	Allowed    bool     `json:"allowed"`
	Fields     []string `json:"fields,omitempty"`
	Reason     string   `json:"reason"`
}

// NewCheckCmd creates the check subcommand.
func NewCheckCmd() *cobra.Command {
	var (
		userID     string
		admin      bool
		resource   string
		permission string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve one permission check against the database",
		Long: `Resolve a single permission check and print the decision as JSON.
The resource is given as kind:id, e.g. site:factory1.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ref, err := perm.ParseResourceRef(resource)
			if err != nil {
				return err
			}
			req := perm.CheckRequest{
				Resource:   ref,
				Permission: perm.Permission(permission),
			}

			result, err := runCheck(cmd.Context(), cfg, perm.User{ID: userID, Admin: admin}, req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return oops.Wrapf(err, "encoding decision")
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID to check for")
	cmd.Flags().BoolVar(&admin, "admin", false, "treat the user as an administrator")
	cmd.Flags().StringVar(&resource, "resource", "", "resource as kind:id")
	cmd.Flags().StringVar(&permission, "permission", "", "permission to check (read, write, delete, create, manage, member)")
	cmd.Flags().String("database.url", "", "PostgreSQL connection string")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("permission")

	return cmd
}

// runCheck wires a one-shot engine without cache or audit and resolves the
// request.
func runCheck(ctx context.Context, cfg *config.Config, user perm.User, req perm.CheckRequest) (*checkResult, error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrapf(err, "connecting to database")
	}
	defer pool.Close()

	kinds, err := cfg.HierarchyConfig()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.DefaultRules()
	if err != nil {
		return nil, err
	}

	dir := directory.NewPostgres(pool, kinds)
	grants := permstore.NewPostgres(pool, dir)
	resolver := hierarchy.NewResolver(kinds, dir)
	eng := engine.NewEngine(grants, resolver, engine.WithDefaults(defaults))

	d, err := eng.Check(ctx, user, req)
	if err != nil {
		return nil, err
	}

	return &checkResult{
		User:       user.ID,
		Resource:   req.Resource.String(),
		Permission: string(req.Permission),
		Allowed:    d.Allowed(),
		Fields:     d.Fields.Names(),
		Reason:     d.Reason,
	}, nil
}
