// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package directory

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// Static is an in-memory Directory. It backs tests and the check subcommand,
// where resources are declared up front rather than read from a database.
type Static struct {
	mu      sync.RWMutex
	parents map[perm.ResourceRef]string
	known   map[perm.ResourceRef]struct{}
}

// NewStatic creates an empty Static directory.
func NewStatic() *Static {
	return &Static{
		parents: make(map[perm.ResourceRef]string),
		known:   make(map[perm.ResourceRef]struct{}),
	}
}

// Add registers a resource with no parent.
func (d *Static) Add(ref perm.ResourceRef) *Static {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[ref] = struct{}{}
	return d
}

// AddChild registers a resource with a parent reference. The parent itself
// is not registered implicitly.
func (d *Static) AddChild(ref perm.ResourceRef, parentID string) *Static {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.known[ref] = struct{}{}
	d.parents[ref] = parentID
	return d
}

// Remove forgets a resource.
func (d *Static) Remove(ref perm.ResourceRef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.known, ref)
	delete(d.parents, ref)
}

// Exists reports whether the resource was registered.
func (d *Static) Exists(_ context.Context, ref perm.ResourceRef) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[ref]
	return ok, nil
}

// ParentRef returns the registered parent reference.
func (d *Static) ParentRef(_ context.Context, ref perm.ResourceRef) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.known[ref]; !ok {
		return "", false, oops.Code("RESOURCE_NOT_FOUND").
			With("resource", ref.String()).
			Errorf("resource not found")
	}
	id, ok := d.parents[ref]
	return id, ok, nil
}

// Compile-time check that Static implements hierarchy.Directory.
var _ hierarchy.Directory = (*Static)(nil)
