// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package engine

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
)

// DefaultRule grants a baseline permission to every authenticated user on
// resource kinds matching a glob pattern. Typical use: read access to shared
// reference kinds without per-user grants.
type DefaultRule struct {
	// KindGlob is a glob pattern over resource kinds, e.g. "shared_*".
	KindGlob string
	// Permissions are allowed by default on matching kinds.
	Permissions []perm.Permission
}

type compiledRule struct {
	matcher glob.Glob
	perms   map[perm.Permission]struct{}
}

// Defaults answers whether a (kind, permission) pair is allowed with no
// grant at all. A nil *Defaults allows nothing.
type Defaults struct {
	rules []compiledRule
}

// NewDefaults compiles the rule patterns. Invalid globs and unknown
// permissions are configuration errors.
func NewDefaults(rules []DefaultRule) (*Defaults, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		matcher, err := glob.Compile(rule.KindGlob)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("kind_glob", rule.KindGlob).
				Wrapf(err, "compiling default rule pattern")
		}
		perms := make(map[perm.Permission]struct{}, len(rule.Permissions))
		for _, p := range rule.Permissions {
			if !p.Valid() || p == perm.PermissionMember {
				return nil, oops.Code("CONFIG_INVALID").
					With("kind_glob", rule.KindGlob).
					With("permission", string(p)).
					Errorf("default rules cannot carry this permission")
			}
			perms[p] = struct{}{}
		}
		compiled = append(compiled, compiledRule{matcher: matcher, perms: perms})
	}
	return &Defaults{rules: compiled}, nil
}

// Allow reports whether the kind-default table allows p on resources of the
// given kind. Implication applies: a default granting Manage satisfies a
// Read check on the same kind.
func (d *Defaults) Allow(kind perm.Kind, p perm.Permission) bool {
	if d == nil {
		return false
	}
	for _, rule := range d.rules {
		if !rule.matcher.Match(string(kind)) {
			continue
		}
		for _, held := range perm.Implied(p) {
			if _, ok := rule.perms[held]; ok {
				return true
			}
		}
	}
	return false
}
