// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package store defines the persistence boundary for grant records and its
// PostgreSQL implementation.
//
// The one query that matters is Applicable: a single indexed lookup joining
// a grantee set, an ancestor-resource set, and an expanded permission set,
// returning rows ordered the way the engine consumes them (depth ascending,
// deny before allow within equal depth).
package store

import (
	"context"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// GrantChangedChannel is the NOTIFY channel carrying ChangeEvent payloads.
const GrantChangedChannel = "grant_changed"

// ChangeEvent describes one committed grant mutation. It is published on
// GrantChangedChannel in the same transaction as the mutation and consumed
// by cache invalidation.
type ChangeEvent struct {
	Op           string `json:"op"` // "grant" or "revoke"
	GranteeKind  string `json:"grantee_kind"`
	GranteeID    string `json:"grantee_id"`
	ResourceKind string `json:"resource_kind"`
	ResourceID   string `json:"resource_id"`
	Permission   string `json:"permission"`
	Inherit      bool   `json:"inherit"`
}

// ApplicableGrant is one row of the Applicable result: the grant attributes
// the resolution scan consumes plus the ancestor depth it matched at.
type ApplicableGrant struct {
	GrantID    string
	Resource   perm.ResourceRef
	Permission perm.Permission
	Effect     perm.Effect
	Depth      int
	Inherit    bool
	Fields     perm.FieldSet
}

// ListOptions filters List results. Nil fields match everything.
type ListOptions struct {
	Grantee        *perm.Grantee
	Resource       *perm.ResourceRef
	Permission     *perm.Permission
	IncludeExpired bool
}

// Store is the persistence contract for grant records. Grants are immutable
// once written: there is no update, only Grant and Revoke.
type Store interface {
	// Grant validates and inserts a new grant, assigning its ID. A
	// duplicate (grantee, resource, permission) tuple is GRANT_CONFLICT;
	// a missing grantee or resource is GRANTEE_NOT_FOUND or
	// RESOURCE_NOT_FOUND.
	Grant(ctx context.Context, g *perm.Grant) error

	// Revoke deletes a grant by ID and returns the deleted record.
	// An unknown ID is GRANT_NOT_FOUND.
	Revoke(ctx context.Context, id string) (*perm.Grant, error)

	// Get returns a grant by ID, or GRANT_NOT_FOUND.
	Get(ctx context.Context, id string) (*perm.Grant, error)

	// List returns grants matching the options, ordered by grant time.
	List(ctx context.Context, opts ListOptions) ([]*perm.Grant, error)

	// Applicable returns the non-expired grants held by any of the
	// grantees on any of the ancestor resources for any of the expanded
	// permissions, ordered depth ascending with deny before allow at
	// equal depth.
	Applicable(ctx context.Context, grantees []perm.Grantee, ancestors []hierarchy.Ancestor, perms []perm.Permission) ([]ApplicableGrant, error)

	// MemberGroups returns the IDs of groups the user holds a live Member
	// grant on, sorted.
	MemberGroups(ctx context.Context, userID string) ([]string, error)
}
