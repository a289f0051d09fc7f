// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package directory implements the resource-lookup capability the engine
// consumes: existence checks and parent references for business resources
// the engine does not own.
package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// rowQuerier is the subset of pgxpool.Pool the directory needs. pgxmock
// satisfies it in tests.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres answers lookups against the business tables named by the
// hierarchy configuration. It never writes.
type Postgres struct {
	pool rowQuerier
	cfg  *hierarchy.Config
}

// NewPostgres creates a Postgres directory over the given pool and validated
// kind registry.
func NewPostgres(pool rowQuerier, cfg *hierarchy.Config) *Postgres {
	return &Postgres{pool: pool, cfg: cfg}
}

// Exists reports whether a row for the resource is present in its kind's
// table.
func (d *Postgres) Exists(ctx context.Context, ref perm.ResourceRef) (bool, error) {
	spec, ok := d.cfg.Spec(ref.Kind)
	if !ok {
		return false, oops.Code("CONFIG_INVALID").
			With("kind", string(ref.Kind)).
			Errorf("unknown resource kind")
	}
	// Table names come from the startup-validated configuration, not from
	// callers; Sanitize guards against a malformed config value.
	table := pgx.Identifier{spec.Table}.Sanitize()
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, ref.ID,
	).Scan(&exists)
	if err != nil {
		return false, oops.
			With("resource", ref.String()).
			Wrapf(err, "existence lookup")
	}
	return exists, nil
}

// ParentRef returns the parent resource ID recorded on the resource's row,
// with ok=false for a null parent column. Standalone kinds always report no
// parent. A missing row is RESOURCE_NOT_FOUND.
func (d *Postgres) ParentRef(ctx context.Context, ref perm.ResourceRef) (string, bool, error) {
	spec, ok := d.cfg.Spec(ref.Kind)
	if !ok {
		return "", false, oops.Code("CONFIG_INVALID").
			With("kind", string(ref.Kind)).
			Errorf("unknown resource kind")
	}
	if spec.Parent == "" {
		return "", false, nil
	}
	table := pgx.Identifier{spec.Table}.Sanitize()
	column := pgx.Identifier{spec.ParentColumn}.Sanitize()
	var parentID *string
	err := d.pool.QueryRow(ctx,
		`SELECT `+column+` FROM `+table+` WHERE id = $1`, ref.ID,
	).Scan(&parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, oops.Code("RESOURCE_NOT_FOUND").
			With("resource", ref.String()).
			Errorf("resource not found")
	}
	if err != nil {
		return "", false, oops.
			With("resource", ref.String()).
			Wrapf(err, "parent lookup")
	}
	if parentID == nil {
		return "", false, nil
	}
	return *parentID, true, nil
}

// Compile-time check that Postgres implements hierarchy.Directory.
var _ hierarchy.Directory = (*Postgres)(nil)
