// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package autogrant authorizes resource creation and records the creator's
// automatic Manage grant on newly created resources.
package autogrant

import (
	"context"

	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	"github.com/gridward/gridward/internal/perm/store"
)

// Service ties creation authorization to the permission engine.
type Service struct {
	engine *engine.Engine
	store  store.Store
	kinds  *hierarchy.Config
	cache  engine.Cache
}

// Option configures a Service.
type Option func(*Service)

// WithCache lets RecordCreated invalidate locally cached decisions.
func WithCache(c engine.Cache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// NewService creates a Service.
func NewService(e *engine.Engine, st store.Store, kinds *hierarchy.Config, opts ...Option) *Service {
	s := &Service{
		engine: e,
		store:  st,
		kinds:  kinds,
		cache:  engine.NopCache{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthorizeCreate decides whether the user may create a resource of the given
// kind. Hierarchical kinds require Create on the named parent; admin-managed
// kinds (including hierarchy roots) require an admin; any other kind is open.
func (s *Service) AuthorizeCreate(ctx context.Context, user perm.User, kind perm.Kind, parentID string) error {
	if !s.kinds.Known(kind) {
		return oops.Code("INVALID_REQUEST").
			With("kind", string(kind)).
			Errorf("unknown resource kind")
	}
	if user.Admin {
		return nil
	}

	if parentKind, ok := s.kinds.ParentKind(kind); ok {
		if parentID == "" {
			return oops.Code("INVALID_REQUEST").
				With("kind", string(kind)).
				Errorf("creating a hierarchical resource requires a parent")
		}
		parent := perm.ResourceRef{Kind: parentKind, ID: parentID}
		d, err := s.engine.Check(ctx, user, perm.CheckRequest{
			Resource:   parent,
			Permission: perm.PermissionCreate,
		})
		if err != nil {
			return err
		}
		if !d.Allowed() {
			return oops.Code("FORBIDDEN").
				With("user_id", user.ID).
				With("parent", parent.String()).
				Errorf("create permission required on parent")
		}
		return nil
	}

	if s.kinds.AdminManaged(kind) {
		return oops.Code("FORBIDDEN").
			With("user_id", user.ID).
			With("kind", string(kind)).
			Errorf("kind is admin-managed")
	}
	return nil
}

// RecordCreated grants the creator an inheritable, unrestricted Manage grant
// on the new resource. GrantedBy stays empty: the grant comes from the
// system, not from another principal's authority. Recording the same
// creation twice is idempotent.
func (s *Service) RecordCreated(ctx context.Context, user perm.User, kind perm.Kind, id string) (*perm.Grant, error) {
	if !s.kinds.Known(kind) {
		return nil, oops.Code("INVALID_REQUEST").
			With("kind", string(kind)).
			Errorf("unknown resource kind")
	}

	g := &perm.Grant{
		Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: user.ID},
		Resource:   perm.ResourceRef{Kind: kind, ID: id},
		Permission: perm.PermissionManage,
		Effect:     perm.EffectAllow,
		Inherit:    true,
	}
	if err := s.store.Grant(ctx, g); err != nil {
		if store.IsConflict(err) {
			return nil, nil
		}
		return nil, err
	}

	// A denial for this resource may have been cached between creation and
	// this grant.
	s.cache.Invalidate(store.ChangeEvent{
		Op:           "grant",
		GranteeKind:  string(g.Grantee.Kind),
		GranteeID:    g.Grantee.ID,
		ResourceKind: string(g.Resource.Kind),
		ResourceID:   g.Resource.ID,
		Permission:   string(g.Permission),
		Inherit:      g.Inherit,
	})
	return g, nil
}
