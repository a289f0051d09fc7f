// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package perm defines the core types for the permission-resolution engine:
// permissions, effects, grantees, resource references, field sets, and the
// Grant record itself.
package perm

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a capability that can be granted on a resource.
type Permission string

// The closed set of grantable capabilities. Member is not a capability on the
// resource itself: a Member grant on a group resource records group membership.
const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionCreate Permission = "create"
	PermissionManage Permission = "manage"
	PermissionMember Permission = "member"
)

// Permissions lists every valid permission.
var Permissions = []Permission{
	PermissionRead,
	PermissionWrite,
	PermissionDelete,
	PermissionCreate,
	PermissionManage,
	PermissionMember,
}

// Valid reports whether p is one of the defined permissions.
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionWrite, PermissionDelete,
		PermissionCreate, PermissionManage, PermissionMember:
		return true
	}
	return false
}

func (p Permission) String() string {
	return string(p)
}

// implications maps a checked permission to the set of held permissions that
// satisfy it. Possessing a higher capability satisfies a check for any
// capability it implies; checking Manage succeeds only with Manage itself.
var implications = map[Permission][]Permission{
	PermissionRead:   {PermissionRead, PermissionWrite, PermissionDelete, PermissionCreate, PermissionManage},
	PermissionWrite:  {PermissionWrite, PermissionManage},
	PermissionDelete: {PermissionDelete, PermissionManage},
	PermissionCreate: {PermissionCreate, PermissionManage},
	PermissionManage: {PermissionManage},
	PermissionMember: {PermissionMember},
}

// Implied returns the permissions whose possession satisfies a check for p.
// The returned slice is a copy and safe to modify.
func Implied(p Permission) []Permission {
	set, ok := implications[p]
	if !ok {
		return nil
	}
	out := make([]Permission, len(set))
	copy(out, set)
	return out
}

// Effect is the declared outcome of a grant.
type Effect string

// Grant effects. Deny takes precedence over Allow at the same or a shallower
// ancestor depth during resolution.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether e is a defined effect.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

func (e Effect) String() string {
	return string(e)
}

// GranteeKind discriminates the principal a grant applies to.
type GranteeKind string

// Grantee kinds.
const (
	GranteeUser  GranteeKind = "user"
	GranteeGroup GranteeKind = "group"
)

// Valid reports whether k is a defined grantee kind.
func (k GranteeKind) Valid() bool {
	return k == GranteeUser || k == GranteeGroup
}

// Grantee identifies the principal a grant applies to.
type Grantee struct {
	Kind GranteeKind
	ID   string
}

// String renders the grantee in "kind:id" form.
func (g Grantee) String() string {
	return string(g.Kind) + ":" + g.ID
}

// Kind names a resource type. The set of kinds is closed by the hierarchy
// configuration validated at startup, not by the compiler: resource kinds are
// deployment configuration, not code.
type Kind string

// KindGroup is the resource kind that carries Member grants. It must be
// declared standalone in every hierarchy configuration.
const KindGroup Kind = "group"

func (k Kind) String() string {
	return string(k)
}

// ResourceRef addresses any resource by kind and identifier.
type ResourceRef struct {
	Kind Kind
	ID   string
}

// String renders the reference in "kind:id" form.
func (r ResourceRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseResourceRef parses a "kind:id" reference. Both parts must be non-empty.
func ParseResourceRef(s string) (ResourceRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(kind) == "" || strings.TrimSpace(id) == "" {
		return ResourceRef{}, fmt.Errorf("resource ref %q: want non-empty 'kind:id'", s)
	}
	return ResourceRef{Kind: Kind(kind), ID: id}, nil
}

// FieldSet is an allow-list of sub-field names. A nil FieldSet means
// "all fields"; an empty non-nil set covers no fields.
type FieldSet map[string]struct{}

// NewFieldSet builds a FieldSet from field names. NewFieldSet() with no
// arguments returns an empty (not nil) set.
func NewFieldSet(names ...string) FieldSet {
	fs := make(FieldSet, len(names))
	for _, n := range names {
		fs[n] = struct{}{}
	}
	return fs
}

// Contains reports whether the set covers the named field. A nil set covers
// every field.
func (fs FieldSet) Contains(name string) bool {
	if fs == nil {
		return true
	}
	_, ok := fs[name]
	return ok
}

// Union merges other into a copy of fs. If either side is nil the result is
// nil, since nil means unrestricted.
func (fs FieldSet) Union(other FieldSet) FieldSet {
	if fs == nil || other == nil {
		return nil
	}
	out := make(FieldSet, len(fs)+len(other))
	for n := range fs {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// Names returns the field names in sorted order. Nil for a nil set.
func (fs FieldSet) Names() []string {
	if fs == nil {
		return nil
	}
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// User is the authenticated principal presented by callers. Authentication
// itself is outside the engine; Admin short-circuits every check.
type User struct {
	ID    string
	Admin bool
}
