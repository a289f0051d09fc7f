// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package engine

import (
	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	"github.com/gridward/gridward/internal/perm/store"
)

// Cache holds resolved decisions, group memberships, and ancestor chains.
// Implementations fail open: a miss or fault means direct resolution, never a
// synthesized decision. Invalidate is called after every committed mutation.
type Cache interface {
	GetDecision(userID string, req perm.CheckRequest) (perm.Decision, bool)
	SetDecision(userID string, req perm.CheckRequest, d perm.Decision)

	GetGroups(userID string) ([]string, bool)
	SetGroups(userID string, groups []string)

	GetAncestors(ref perm.ResourceRef) ([]hierarchy.Ancestor, bool)
	SetAncestors(ref perm.ResourceRef, ancestors []hierarchy.Ancestor)

	Invalidate(ev store.ChangeEvent)
}

// NopCache caches nothing. Every check resolves against the store.
type NopCache struct{}

// GetDecision always misses.
func (NopCache) GetDecision(string, perm.CheckRequest) (perm.Decision, bool) {
	return perm.Decision{}, false
}

// SetDecision discards the entry.
func (NopCache) SetDecision(string, perm.CheckRequest, perm.Decision) {}

// GetGroups always misses.
func (NopCache) GetGroups(string) ([]string, bool) { return nil, false }

// SetGroups discards the entry.
func (NopCache) SetGroups(string, []string) {}

// GetAncestors always misses.
func (NopCache) GetAncestors(perm.ResourceRef) ([]hierarchy.Ancestor, bool) {
	return nil, false
}

// SetAncestors discards the entry.
func (NopCache) SetAncestors(perm.ResourceRef, []hierarchy.Ancestor) {}

// Invalidate is a no-op.
func (NopCache) Invalidate(store.ChangeEvent) {}
