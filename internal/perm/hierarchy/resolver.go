// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package hierarchy

import (
	"context"

	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
)

// Directory is the external resource-lookup capability. The engine never
// owns business entities; it only asks whether they exist and who their
// parent is.
type Directory interface {
	// Exists reports whether the resource is present.
	Exists(ctx context.Context, ref perm.ResourceRef) (bool, error)
	// ParentRef returns the parent resource ID recorded on the resource.
	// ok is false when the parent reference is null. A missing resource is
	// a RESOURCE_NOT_FOUND error.
	ParentRef(ctx context.Context, ref perm.ResourceRef) (id string, ok bool, err error)
}

// NullDirectory is a Directory where every resource exists and nothing has a
// parent. Used in tests and for deployments that trust their callers.
type NullDirectory struct{}

// Exists always reports true.
func (NullDirectory) Exists(context.Context, perm.ResourceRef) (bool, error) {
	return true, nil
}

// ParentRef always reports no parent.
func (NullDirectory) ParentRef(context.Context, perm.ResourceRef) (string, bool, error) {
	return "", false, nil
}

// Ancestor is one entry of an ancestor chain: the resource itself sits at
// depth 0, its parent at depth 1, and so on up to the hierarchy root.
type Ancestor struct {
	Ref   perm.ResourceRef
	Depth int
}

// Resolver walks ancestor chains against the validated kind registry.
type Resolver struct {
	cfg *Config
	dir Directory
}

// NewResolver creates a Resolver. If dir is nil, NullDirectory is used.
func NewResolver(cfg *Config, dir Directory) *Resolver {
	if dir == nil {
		dir = NullDirectory{}
	}
	return &Resolver{cfg: cfg, dir: dir}
}

// Config returns the kind registry the resolver walks against.
func (r *Resolver) Config() *Config {
	return r.cfg
}

// ParentOf returns the parent resource of ref, or ok=false for standalone
// kinds and for resources whose parent reference is null.
func (r *Resolver) ParentOf(ctx context.Context, ref perm.ResourceRef) (perm.ResourceRef, bool, error) {
	spec, known := r.cfg.Spec(ref.Kind)
	if !known {
		return perm.ResourceRef{}, false, oops.Code("CONFIG_INVALID").
			With("kind", string(ref.Kind)).
			Errorf("unknown resource kind")
	}
	if spec.Parent == "" {
		return perm.ResourceRef{}, false, nil
	}
	parentID, ok, err := r.dir.ParentRef(ctx, ref)
	if err != nil {
		return perm.ResourceRef{}, false, oops.
			With("resource", ref.String()).
			Wrapf(err, "resolving parent")
	}
	if !ok {
		return perm.ResourceRef{}, false, nil
	}
	return perm.ResourceRef{Kind: spec.Parent, ID: parentID}, true, nil
}

// AncestorsOf returns ref and its transitive parents, self at depth 0.
// The walk is bounded by the configured hierarchy depth; exceeding it means
// the directory data contradicts the validated configuration, and the walk
// fails closed rather than looping.
func (r *Resolver) AncestorsOf(ctx context.Context, ref perm.ResourceRef) ([]Ancestor, error) {
	chain := []Ancestor{{Ref: ref, Depth: 0}}
	cur := ref
	for depth := 1; ; depth++ {
		if depth > r.cfg.MaxDepth()+1 {
			return nil, oops.Code("CONFIG_CYCLE").
				With("resource", ref.String()).
				Errorf("ancestor walk exceeded configured depth %d", r.cfg.MaxDepth())
		}
		parent, ok, err := r.ParentOf(ctx, cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return chain, nil
		}
		chain = append(chain, Ancestor{Ref: parent, Depth: depth})
		cur = parent
	}
}
