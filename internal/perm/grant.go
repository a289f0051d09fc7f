// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package perm

import (
	"time"

	"github.com/samber/oops"
)

// Grant is the sole ACL record type. One row grants or denies a single
// permission to a single grantee on a single resource. There is no update:
// changing a grant's shape is modeled as revoke followed by grant.
type Grant struct {
	ID         string // ULID assigned by the store on insert
	Grantee    Grantee
	Resource   ResourceRef
	Permission Permission
	Effect     Effect
	Inherit    bool
	Fields     FieldSet // nil = all fields
	GrantedBy  string   // user ID of the issuer; empty for system-issued grants
	GrantedAt  time.Time
	ExpiresAt  *time.Time // nil = never expires
}

// Expired reports whether the grant is inert at the given instant. Expired
// grants are excluded from resolution but never eagerly deleted.
func (g *Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Validate checks the structural invariants of a grant before it reaches the
// store. Existence of the grantee and resource is the store's concern.
func (g *Grant) Validate() error {
	if !g.Grantee.Kind.Valid() {
		return oops.Code("GRANT_INVALID").
			With("grantee_kind", string(g.Grantee.Kind)).
			Errorf("unknown grantee kind")
	}
	if g.Grantee.ID == "" {
		return oops.Code("GRANT_INVALID").Errorf("grantee id must not be empty")
	}
	if g.Resource.Kind == "" || g.Resource.ID == "" {
		return oops.Code("GRANT_INVALID").
			With("resource", g.Resource.String()).
			Errorf("resource kind and id must not be empty")
	}
	if !g.Permission.Valid() {
		return oops.Code("GRANT_INVALID").
			With("permission", string(g.Permission)).
			Errorf("unknown permission")
	}
	if !g.Effect.Valid() {
		return oops.Code("GRANT_INVALID").
			With("effect", string(g.Effect)).
			Errorf("unknown effect")
	}
	if g.Permission == PermissionMember {
		if g.Resource.Kind != KindGroup {
			return oops.Code("GRANT_INVALID").
				With("resource", g.Resource.String()).
				Errorf("member grants apply only to %q resources", string(KindGroup))
		}
		if g.Grantee.Kind != GranteeUser {
			return oops.Code("GRANT_INVALID").
				With("grantee", g.Grantee.String()).
				Errorf("member grants apply only to user grantees")
		}
		// Membership is always additive; a deny-member grant has no defined
		// resolution semantics and is rejected outright.
		if g.Effect != EffectAllow {
			return oops.Code("GRANT_INVALID").
				Errorf("member grants must have effect %q", string(EffectAllow))
		}
	}
	return nil
}
