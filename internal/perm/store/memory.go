// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// Memory is an in-memory Store with the same ordering semantics as the
// PostgreSQL implementation. It backs engine tests and the one-shot check
// subcommand; it is not meant for production multi-process use.
type Memory struct {
	mu     sync.RWMutex
	byID   map[string]*perm.Grant
	tuples map[string]string // uniqueness tuple -> grant ID
	dir    hierarchy.Directory
	now    func() time.Time
}

// NewMemory creates an empty Memory store. If dir is nil, existence checks
// always pass.
func NewMemory(dir hierarchy.Directory) *Memory {
	if dir == nil {
		dir = hierarchy.NullDirectory{}
	}
	return &Memory{
		byID:   make(map[string]*perm.Grant),
		tuples: make(map[string]string),
		dir:    dir,
		now:    time.Now,
	}
}

// SetClock overrides the expiry clock. Test use only.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

func tupleKey(g *perm.Grant) string {
	return g.Grantee.String() + "|" + g.Resource.String() + "|" + string(g.Permission)
}

func copyGrant(g *perm.Grant) *perm.Grant {
	out := *g
	if g.Fields != nil {
		out.Fields = perm.NewFieldSet(g.Fields.Names()...)
	}
	if g.ExpiresAt != nil {
		t := *g.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

// Grant validates and inserts a new grant.
func (s *Memory) Grant(ctx context.Context, g *perm.Grant) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tupleKey(g)
	if _, dup := s.tuples[key]; dup {
		return oops.Code("GRANT_CONFLICT").
			With("grantee", g.Grantee.String()).
			With("resource", g.Resource.String()).
			With("permission", string(g.Permission)).
			Errorf("grant already exists for this grantee, resource, and permission")
	}

	g.ID = ulid.Make().String()
	if g.GrantedAt.IsZero() {
		g.GrantedAt = s.now().UTC()
	}
	s.byID[g.ID] = copyGrant(g)
	s.tuples[key] = g.ID
	return nil
}

// Revoke deletes a grant by ID and returns the deleted record.
func (s *Memory) Revoke(_ context.Context, id string) (*perm.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("GRANT_NOT_FOUND").With("id", id).Errorf("grant not found")
	}
	delete(s.byID, id)
	delete(s.tuples, tupleKey(g))
	return copyGrant(g), nil
}

// Get retrieves a grant by ID.
func (s *Memory) Get(_ context.Context, id string) (*perm.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("GRANT_NOT_FOUND").With("id", id).Errorf("grant not found")
	}
	return copyGrant(g), nil
}

// List returns grants matching the options, ordered by grant time then ID.
func (s *Memory) List(_ context.Context, opts ListOptions) ([]*perm.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []*perm.Grant
	for _, g := range s.byID {
		if opts.Grantee != nil && g.Grantee != *opts.Grantee {
			continue
		}
		if opts.Resource != nil && g.Resource != *opts.Resource {
			continue
		}
		if opts.Permission != nil && g.Permission != *opts.Permission {
			continue
		}
		if !opts.IncludeExpired && g.Expired(now) {
			continue
		}
		out = append(out, copyGrant(g))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Applicable mirrors the PostgreSQL resolution query over the in-memory map.
func (s *Memory) Applicable(_ context.Context, grantees []perm.Grantee, ancestors []hierarchy.Ancestor, perms []perm.Permission) ([]ApplicableGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	granteeSet := make(map[perm.Grantee]struct{}, len(grantees))
	for _, g := range grantees {
		granteeSet[g] = struct{}{}
	}
	depthByRef := make(map[perm.ResourceRef]int, len(ancestors))
	for _, a := range ancestors {
		depthByRef[a.Ref] = a.Depth
	}
	permSet := make(map[perm.Permission]struct{}, len(perms))
	for _, p := range perms {
		permSet[p] = struct{}{}
	}

	now := s.now()
	var out []ApplicableGrant
	for _, g := range s.byID {
		if _, ok := granteeSet[g.Grantee]; !ok {
			continue
		}
		depth, ok := depthByRef[g.Resource]
		if !ok {
			continue
		}
		if _, ok := permSet[g.Permission]; !ok {
			continue
		}
		if g.Expired(now) {
			continue
		}
		ag := ApplicableGrant{
			GrantID:    g.ID,
			Resource:   g.Resource,
			Permission: g.Permission,
			Effect:     g.Effect,
			Depth:      depth,
			Inherit:    g.Inherit,
		}
		if g.Fields != nil {
			ag.Fields = perm.NewFieldSet(g.Fields.Names()...)
		}
		out = append(out, ag)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		if out[i].Effect != out[j].Effect {
			return out[i].Effect == perm.EffectDeny
		}
		return out[i].GrantID < out[j].GrantID
	})
	return out, nil
}

// MemberGroups returns the groups the user holds a live Member grant on.
func (s *Memory) MemberGroups(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var groups []string
	for _, g := range s.byID {
		if g.Grantee.Kind != perm.GranteeUser || g.Grantee.ID != userID {
			continue
		}
		if g.Resource.Kind != perm.KindGroup || g.Permission != perm.PermissionMember {
			continue
		}
		if g.Effect != perm.EffectAllow || g.Expired(now) {
			continue
		}
		groups = append(groups, g.Resource.ID)
	}
	sort.Strings(groups)
	return groups, nil
}
