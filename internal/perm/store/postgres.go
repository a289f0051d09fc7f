// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// poolIface is the subset of pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool poolIface
	dir  hierarchy.Directory
}

// NewPostgres creates a Postgres store. The directory is consulted for
// grantee and resource existence at grant time; if nil, existence checks are
// skipped (NullDirectory).
func NewPostgres(pool poolIface, dir hierarchy.Directory) *Postgres {
	if dir == nil {
		dir = hierarchy.NullDirectory{}
	}
	return &Postgres{pool: pool, dir: dir}
}

// Compile-time check that Postgres implements Store.
var _ Store = (*Postgres)(nil)

// grantColumns is the shared column list for SELECT queries.
const grantColumns = `id, grantee_kind, grantee_id, resource_kind, resource_id, permission, effect, inherit, fields, granted_by, granted_at, expires_at`

func scanGrant(row pgx.Row) (*perm.Grant, error) {
	var g perm.Grant
	var granteeKind, resourceKind, permission, effect string
	var fields []string
	var grantedBy *string
	err := row.Scan(
		&g.ID, &granteeKind, &g.Grantee.ID, &resourceKind, &g.Resource.ID,
		&permission, &effect, &g.Inherit, &fields, &grantedBy,
		&g.GrantedAt, &g.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning grant row: %w", err)
	}
	g.Grantee.Kind = perm.GranteeKind(granteeKind)
	g.Resource.Kind = perm.Kind(resourceKind)
	g.Permission = perm.Permission(permission)
	g.Effect = perm.Effect(effect)
	if fields != nil {
		g.Fields = perm.NewFieldSet(fields...)
	}
	if grantedBy != nil {
		g.GrantedBy = *grantedBy
	}
	return &g, nil
}

func scanGrants(rows pgx.Rows) ([]*perm.Grant, error) {
	defer rows.Close()
	var grants []*perm.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grant rows: %w", err)
	}
	return grants, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// granteeRef maps a grantee onto its standalone resource kind for directory
// existence checks. Users and groups are resources too.
func granteeRef(g perm.Grantee) perm.ResourceRef {
	return perm.ResourceRef{Kind: perm.Kind(g.Kind), ID: g.ID}
}

// notify publishes a ChangeEvent inside tx so the notification commits (or
// rolls back) with the mutation it describes.
func notify(ctx context.Context, tx pgx.Tx, ev ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding change event: %w", err)
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, GrantChangedChannel, string(payload))
	return err
}

// Grant validates and inserts a new grant, generating a ULID for its ID.
// The uniqueness constraint on (grantee, resource, permission) turns a
// concurrent duplicate into GRANT_CONFLICT rather than a silent overwrite.
func (s *Postgres) Grant(ctx context.Context, g *perm.Grant) error {
	if err := g.Validate(); err != nil {
		return err
	}

	ok, err := s.dir.Exists(ctx, granteeRef(g.Grantee))
	if err != nil {
		return oops.With("grantee", g.Grantee.String()).Wrapf(err, "grantee lookup")
	}
	if !ok {
		return oops.Code("GRANTEE_NOT_FOUND").
			With("grantee", g.Grantee.String()).
			Errorf("grantee not found")
	}
	ok, err = s.dir.Exists(ctx, g.Resource)
	if err != nil {
		return oops.With("resource", g.Resource.String()).Wrapf(err, "resource lookup")
	}
	if !ok {
		return oops.Code("RESOURCE_NOT_FOUND").
			With("resource", g.Resource.String()).
			Errorf("resource not found")
	}

	id := ulid.Make().String()
	grantedAt := g.GrantedAt
	if grantedAt.IsZero() {
		grantedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("grantee", g.Grantee.String()).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO grants (id, grantee_kind, grantee_id, resource_kind, resource_id, permission, effect, inherit, fields, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, id, string(g.Grantee.Kind), g.Grantee.ID, string(g.Resource.Kind), g.Resource.ID,
		string(g.Permission), string(g.Effect), g.Inherit, g.Fields.Names(),
		nullIfEmpty(g.GrantedBy), grantedAt, g.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("GRANT_CONFLICT").
				With("grantee", g.Grantee.String()).
				With("resource", g.Resource.String()).
				With("permission", string(g.Permission)).
				Errorf("grant already exists for this grantee, resource, and permission")
		}
		return oops.Code("GRANT_CREATE_FAILED").With("grantee", g.Grantee.String()).Wrap(err)
	}

	if err := notify(ctx, tx, ChangeEvent{
		Op:           "grant",
		GranteeKind:  string(g.Grantee.Kind),
		GranteeID:    g.Grantee.ID,
		ResourceKind: string(g.Resource.Kind),
		ResourceID:   g.Resource.ID,
		Permission:   string(g.Permission),
		Inherit:      g.Inherit,
	}); err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("GRANT_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}

	g.ID = id
	g.GrantedAt = grantedAt
	return nil
}

// Revoke deletes a grant by ID and returns the deleted record. Revoking an
// already-revoked ID is GRANT_NOT_FOUND; state after is identical either way.
func (s *Postgres) Revoke(ctx context.Context, id string) (*perm.Grant, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("GRANT_REVOKE_FAILED").With("id", id).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		fmt.Sprintf(`DELETE FROM grants WHERE id = $1 RETURNING %s`, grantColumns), id)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("GRANT_NOT_FOUND").With("id", id).Errorf("grant not found")
	}
	if err != nil {
		return nil, oops.Code("GRANT_REVOKE_FAILED").With("id", id).Wrap(err)
	}

	if err := notify(ctx, tx, ChangeEvent{
		Op:           "revoke",
		GranteeKind:  string(g.Grantee.Kind),
		GranteeID:    g.Grantee.ID,
		ResourceKind: string(g.Resource.Kind),
		ResourceID:   g.Resource.ID,
		Permission:   string(g.Permission),
		Inherit:      g.Inherit,
	}); err != nil {
		return nil, oops.Code("GRANT_REVOKE_FAILED").With("operation", "notify").Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("GRANT_REVOKE_FAILED").With("operation", "commit").Wrap(err)
	}
	return g, nil
}

// Get retrieves a grant by ID.
func (s *Postgres) Get(ctx context.Context, id string) (*perm.Grant, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM grants WHERE id = $1`, grantColumns), id)
	g, err := scanGrant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("GRANT_NOT_FOUND").With("id", id).Errorf("grant not found")
	}
	if err != nil {
		return nil, oops.With("operation", "get grant").With("id", id).Wrap(err)
	}
	return g, nil
}

// List returns grants matching the given options, ordered by grant time.
func (s *Postgres) List(ctx context.Context, opts ListOptions) ([]*perm.Grant, error) {
	var where []string
	var args []any
	argIdx := 1

	if opts.Grantee != nil {
		where = append(where, fmt.Sprintf("grantee_kind = $%d AND grantee_id = $%d", argIdx, argIdx+1))
		args = append(args, string(opts.Grantee.Kind), opts.Grantee.ID)
		argIdx += 2
	}
	if opts.Resource != nil {
		where = append(where, fmt.Sprintf("resource_kind = $%d AND resource_id = $%d", argIdx, argIdx+1))
		args = append(args, string(opts.Resource.Kind), opts.Resource.ID)
		argIdx += 2
	}
	if opts.Permission != nil {
		where = append(where, fmt.Sprintf("permission = $%d", argIdx))
		args = append(args, string(*opts.Permission))
		argIdx++ //nolint:ineffassign // keeps consistent pattern for future filter additions
	}
	if !opts.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at > now())")
	}

	query := fmt.Sprintf("SELECT %s FROM grants", grantColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY granted_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, oops.With("operation", "list grants").Wrap(err)
	}
	return scanGrants(rows)
}

// Applicable runs the one resolution query: grantee set × ancestor set ×
// permission set, expired rows excluded, ordered for the engine's scan.
func (s *Postgres) Applicable(ctx context.Context, grantees []perm.Grantee, ancestors []hierarchy.Ancestor, perms []perm.Permission) ([]ApplicableGrant, error) {
	if len(grantees) == 0 || len(ancestors) == 0 || len(perms) == 0 {
		return nil, nil
	}

	granteeKinds := make([]string, len(grantees))
	granteeIDs := make([]string, len(grantees))
	for i, g := range grantees {
		granteeKinds[i] = string(g.Kind)
		granteeIDs[i] = g.ID
	}
	ancKinds := make([]string, len(ancestors))
	ancIDs := make([]string, len(ancestors))
	depths := make([]int32, len(ancestors))
	for i, a := range ancestors {
		ancKinds[i] = string(a.Ref.Kind)
		ancIDs[i] = a.Ref.ID
		depths[i] = int32(a.Depth)
	}
	permStrs := make([]string, len(perms))
	for i, p := range perms {
		permStrs[i] = string(p)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.resource_kind, g.resource_id, g.permission, g.effect, a.depth, g.inherit, g.fields
		FROM grants g
		JOIN unnest($1::text[], $2::text[]) AS ge(kind, id)
		  ON g.grantee_kind = ge.kind AND g.grantee_id = ge.id
		JOIN unnest($3::text[], $4::text[], $5::int[]) AS a(kind, id, depth)
		  ON g.resource_kind = a.kind AND g.resource_id = a.id
		WHERE g.permission = ANY($6::text[])
		  AND (g.expires_at IS NULL OR g.expires_at > now())
		ORDER BY a.depth, CASE g.effect WHEN 'deny' THEN 0 ELSE 1 END, g.granted_at, g.id
	`, granteeKinds, granteeIDs, ancKinds, ancIDs, depths, permStrs)
	if err != nil {
		return nil, oops.With("operation", "applicable grants").Wrap(err)
	}
	defer rows.Close()

	var out []ApplicableGrant
	for rows.Next() {
		var ag ApplicableGrant
		var resourceKind, permission, effect string
		var depth int32
		var fields []string
		if err := rows.Scan(&ag.GrantID, &resourceKind, &ag.Resource.ID,
			&permission, &effect, &depth, &ag.Inherit, &fields); err != nil {
			return nil, oops.With("operation", "applicable grants").Wrapf(err, "scanning row")
		}
		ag.Resource.Kind = perm.Kind(resourceKind)
		ag.Permission = perm.Permission(permission)
		ag.Effect = perm.Effect(effect)
		ag.Depth = int(depth)
		if fields != nil {
			ag.Fields = perm.NewFieldSet(fields...)
		}
		out = append(out, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "applicable grants").Wrapf(err, "iterating rows")
	}
	return out, nil
}

// MemberGroups returns the groups the user holds a live Member grant on.
// Group membership is itself a grant; there is no separate membership table.
func (s *Postgres) MemberGroups(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT resource_id FROM grants
		WHERE grantee_kind = $1 AND grantee_id = $2
		  AND resource_kind = $3 AND permission = $4 AND effect = $5
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY resource_id
	`, string(perm.GranteeUser), userID, string(perm.KindGroup),
		string(perm.PermissionMember), string(perm.EffectAllow))
	if err != nil {
		return nil, oops.With("operation", "member groups").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, oops.With("operation", "member groups").Wrapf(err, "scanning row")
		}
		groups = append(groups, id)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "member groups").Wrapf(err, "iterating rows")
	}
	return groups, nil
}
