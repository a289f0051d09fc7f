// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package hierarchy models the configurable resource hierarchy: which
// resource kinds exist, how a kind finds its parent, and how ancestor chains
// are walked at check time.
package hierarchy

import (
	"sort"

	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
)

// KindSpec describes one resource kind. A kind with an empty Parent is
// standalone: it has no ancestors and inheritance never applies to it.
type KindSpec struct {
	// Parent is the kind of this kind's parent resource, or empty.
	Parent perm.Kind
	// Table is the relation the directory consults for existence checks.
	Table string
	// ParentColumn is the column on Table holding the parent resource ID.
	// Required when Parent is set, meaningless otherwise.
	ParentColumn string
	// AdminManaged restricts creation of this kind to admins.
	AdminManaged bool
}

// Config is the immutable, validated kind registry. Build one with NewConfig
// at startup and inject it; it is safe for unsynchronized concurrent reads.
type Config struct {
	kinds    map[perm.Kind]KindSpec
	children map[perm.Kind][]perm.Kind
	maxDepth int
}

// NewConfig validates the kind specs and builds the registry. The "group"
// and "user" kinds are always registered as standalone kinds so that
// membership grants and user-as-resource grants resolve without extra
// configuration; declaring either with a parent is a configuration error.
//
// Validation failures (unknown parent kind, missing parent column, cycles)
// are fatal configuration errors, never retried at runtime.
func NewConfig(specs map[perm.Kind]KindSpec) (*Config, error) {
	kinds := make(map[perm.Kind]KindSpec, len(specs)+2)
	for kind, spec := range specs {
		if kind == "" {
			return nil, oops.Code("CONFIG_INVALID").Errorf("empty resource kind")
		}
		kinds[kind] = spec
	}
	for _, builtin := range []struct {
		kind  perm.Kind
		table string
	}{{perm.KindGroup, "groups"}, {"user", "users"}} {
		spec, ok := kinds[builtin.kind]
		if !ok {
			kinds[builtin.kind] = KindSpec{Table: builtin.table}
			continue
		}
		if spec.Parent != "" {
			return nil, oops.Code("CONFIG_INVALID").
				With("kind", string(builtin.kind)).
				Errorf("built-in kind must be standalone")
		}
	}

	for kind, spec := range kinds {
		if spec.Parent == "" {
			continue
		}
		if _, ok := kinds[spec.Parent]; !ok {
			return nil, oops.Code("CONFIG_INVALID").
				With("kind", string(kind)).
				With("parent", string(spec.Parent)).
				Errorf("parent kind is not configured")
		}
		if spec.ParentColumn == "" {
			return nil, oops.Code("CONFIG_INVALID").
				With("kind", string(kind)).
				Errorf("hierarchical kind needs a parent column")
		}
	}

	cfg := &Config{
		kinds:    kinds,
		children: make(map[perm.Kind][]perm.Kind),
	}

	// Walking more parent edges than there are kinds proves a cycle.
	for kind := range kinds {
		depth := 0
		for cur := kind; kinds[cur].Parent != ""; cur = kinds[cur].Parent {
			depth++
			if depth > len(kinds) {
				return nil, oops.Code("CONFIG_CYCLE").
					With("kind", string(kind)).
					Errorf("resource hierarchy contains a cycle")
			}
		}
		if depth > cfg.maxDepth {
			cfg.maxDepth = depth
		}
	}

	for kind, spec := range kinds {
		if spec.Parent != "" {
			cfg.children[spec.Parent] = append(cfg.children[spec.Parent], kind)
		}
	}
	for _, kids := range cfg.children {
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	}

	return cfg, nil
}

// Known reports whether the kind is configured.
func (c *Config) Known(kind perm.Kind) bool {
	_, ok := c.kinds[kind]
	return ok
}

// Spec returns the spec for a kind.
func (c *Config) Spec(kind perm.Kind) (KindSpec, bool) {
	spec, ok := c.kinds[kind]
	return spec, ok
}

// ParentKind returns the configured parent kind, or false for standalone or
// unknown kinds.
func (c *Config) ParentKind(kind perm.Kind) (perm.Kind, bool) {
	spec, ok := c.kinds[kind]
	if !ok || spec.Parent == "" {
		return "", false
	}
	return spec.Parent, true
}

// AdminManaged reports whether creating resources of this kind requires an
// admin. Hierarchy roots (kinds with children but no parent) are always
// admin-managed.
func (c *Config) AdminManaged(kind perm.Kind) bool {
	spec, ok := c.kinds[kind]
	if !ok {
		return false
	}
	if spec.AdminManaged {
		return true
	}
	return spec.Parent == "" && len(c.children[kind]) > 0
}

// MaxDepth is the longest configured parent chain. AncestorsOf walks are
// bounded by it.
func (c *Config) MaxDepth() int {
	return c.maxDepth
}

// Kinds returns all configured kinds in sorted order.
func (c *Config) Kinds() []perm.Kind {
	out := make([]perm.Kind, 0, len(c.kinds))
	for kind := range c.kinds {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChildKinds returns the kinds whose configured parent is kind.
func (c *Config) ChildKinds(kind perm.Kind) []perm.Kind {
	kids := c.children[kind]
	out := make([]perm.Kind, len(kids))
	copy(out, kids)
	return out
}

// DescendantKinds returns every kind below kind in the hierarchy, in
// breadth-first order. The worklist is bounded by the number of configured
// kinds, so a corrupted registry surfaces as an error instead of unbounded
// growth.
func (c *Config) DescendantKinds(kind perm.Kind) ([]perm.Kind, error) {
	var out []perm.Kind
	seen := map[perm.Kind]struct{}{kind: {}}
	work := c.ChildKinds(kind)
	steps := 0
	for len(work) > 0 {
		steps++
		if steps > len(c.kinds) {
			return nil, oops.Code("CONFIG_CYCLE").
				With("kind", string(kind)).
				Errorf("descendant walk exceeded kind count")
		}
		next := work[0]
		work = work[1:]
		if _, dup := seen[next]; dup {
			return nil, oops.Code("CONFIG_CYCLE").
				With("kind", string(next)).
				Errorf("kind revisited during descendant walk")
		}
		seen[next] = struct{}{}
		out = append(out, next)
		work = append(work, c.ChildKinds(next)...)
	}
	return out, nil
}
