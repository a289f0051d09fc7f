// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package cache holds resolved decisions, group-membership sets, and ancestor
// chains in TTL'd LRU caches, invalidated on grant changes. The cache fails
// open on performance (a miss means direct resolution) and closed on
// security: invalidation over-approximates, it never under-approximates.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	"github.com/gridward/gridward/internal/perm/store"
)

// Default cache configuration values.
const (
	defaultDecisionSize = 4096
	defaultDecisionTTL  = 30 * time.Second
	defaultGroupSize    = 1024
	defaultGroupTTL     = time.Minute
	defaultAncestorSize = 4096
	defaultAncestorTTL  = time.Minute
)

var (
	hitsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache"})

	missesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache"})

	invalidationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_cache_invalidations_total",
		Help: "Total number of cache invalidation events",
	}, []string{"op"})
)

// Config sizes the three caches. Zero values fall back to defaults.
type Config struct {
	DecisionSize int
	DecisionTTL  time.Duration
	GroupSize    int
	GroupTTL     time.Duration
	AncestorSize int
	AncestorTTL  time.Duration
}

func (c Config) withDefaults() Config {
	if c.DecisionSize <= 0 {
		c.DecisionSize = defaultDecisionSize
	}
	if c.DecisionTTL <= 0 {
		c.DecisionTTL = defaultDecisionTTL
	}
	if c.GroupSize <= 0 {
		c.GroupSize = defaultGroupSize
	}
	if c.GroupTTL <= 0 {
		c.GroupTTL = defaultGroupTTL
	}
	if c.AncestorSize <= 0 {
		c.AncestorSize = defaultAncestorSize
	}
	if c.AncestorTTL <= 0 {
		c.AncestorTTL = defaultAncestorTTL
	}
	return c
}

type decisionKey struct {
	userID     string
	kind       perm.Kind
	id         string
	permission perm.Permission
}

// Cache implements engine.Cache over three expirable LRUs.
type Cache struct {
	kinds     *hierarchy.Config
	decisions *expirable.LRU[decisionKey, perm.Decision]
	groups    *expirable.LRU[string, []string]
	ancestors *expirable.LRU[perm.ResourceRef, []hierarchy.Ancestor]
	wg        sync.WaitGroup
}

// Compile-time check that Cache implements engine.Cache.
var _ engine.Cache = (*Cache)(nil)

// New creates a Cache. The kind registry drives descendant-kind invalidation
// for inheritable grants.
func New(kinds *hierarchy.Config, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		kinds:     kinds,
		decisions: expirable.NewLRU[decisionKey, perm.Decision](cfg.DecisionSize, nil, cfg.DecisionTTL),
		groups:    expirable.NewLRU[string, []string](cfg.GroupSize, nil, cfg.GroupTTL),
		ancestors: expirable.NewLRU[perm.ResourceRef, []hierarchy.Ancestor](cfg.AncestorSize, nil, cfg.AncestorTTL),
	}
}

func key(userID string, req perm.CheckRequest) decisionKey {
	return decisionKey{
		userID:     userID,
		kind:       req.Resource.Kind,
		id:         req.Resource.ID,
		permission: req.Permission,
	}
}

// GetDecision looks up a cached decision.
func (c *Cache) GetDecision(userID string, req perm.CheckRequest) (perm.Decision, bool) {
	d, ok := c.decisions.Get(key(userID, req))
	count("decision", ok)
	return d, ok
}

// SetDecision caches a resolved decision.
func (c *Cache) SetDecision(userID string, req perm.CheckRequest, d perm.Decision) {
	c.decisions.Add(key(userID, req), d)
}

// GetGroups looks up a cached group-membership set.
func (c *Cache) GetGroups(userID string) ([]string, bool) {
	groups, ok := c.groups.Get(userID)
	count("group", ok)
	return groups, ok
}

// SetGroups caches a group-membership set.
func (c *Cache) SetGroups(userID string, groups []string) {
	c.groups.Add(userID, groups)
}

// GetAncestors looks up a cached ancestor chain.
func (c *Cache) GetAncestors(ref perm.ResourceRef) ([]hierarchy.Ancestor, bool) {
	ancestors, ok := c.ancestors.Get(ref)
	count("ancestor", ok)
	return ancestors, ok
}

// SetAncestors caches an ancestor chain.
func (c *Cache) SetAncestors(ref perm.ResourceRef, ancestors []hierarchy.Ancestor) {
	c.ancestors.Add(ref, ancestors)
}

// Invalidate drops every entry a grant change could have made stale.
//
// A membership change drops the user's group set and all of that user's
// decisions. A grant on a resource drops every decision for that exact
// resource; if the grant inherits, decisions for every descendant kind are
// dropped too, regardless of resource ID. That over-invalidates siblings,
// which is the cheap, safe side of the trade.
func (c *Cache) Invalidate(ev store.ChangeEvent) {
	invalidationsCounter.WithLabelValues(ev.Op).Inc()

	if ev.Permission == string(perm.PermissionMember) && ev.ResourceKind == string(perm.KindGroup) {
		c.groups.Remove(ev.GranteeID)
		for _, k := range c.decisions.Keys() {
			if k.userID == ev.GranteeID {
				c.decisions.Remove(k)
			}
		}
		return
	}

	kind := perm.Kind(ev.ResourceKind)
	for _, k := range c.decisions.Keys() {
		if k.kind == kind && k.id == ev.ResourceID {
			c.decisions.Remove(k)
		}
	}

	if !ev.Inherit {
		return
	}
	descendants, err := c.kinds.DescendantKinds(kind)
	if err != nil {
		// The registry contradicts itself; drop everything rather than risk
		// serving a stale allow.
		slog.Error("descendant walk failed during invalidation, purging decisions",
			"kind", ev.ResourceKind, "error", err)
		c.decisions.Purge()
		return
	}
	set := make(map[perm.Kind]struct{}, len(descendants))
	for _, d := range descendants {
		set[d] = struct{}{}
	}
	for _, k := range c.decisions.Keys() {
		if _, ok := set[k.kind]; ok {
			c.decisions.Remove(k)
		}
	}
}

// Purge drops every cached entry.
func (c *Cache) Purge() {
	c.decisions.Purge()
	c.groups.Purge()
	c.ancestors.Purge()
}

// Listener abstracts the PostgreSQL LISTEN/NOTIFY mechanism for testability.
// Implementations return a channel that emits notification payloads and close
// it when the context is cancelled.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

// StartWithListener spawns a background goroutine that applies cross-process
// invalidation events from the listener. The goroutine exits when the context
// is cancelled or the channel closes.
func (c *Cache) StartWithListener(ctx context.Context, listener Listener) error {
	ch, err := listener.Listen(ctx)
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go c.listenLoop(ctx, ch)
	return nil
}

// Wait blocks until all background goroutines have exited.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) listenLoop(ctx context.Context, ch <-chan string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			var ev store.ChangeEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				// An unreadable event still means something changed.
				slog.Error("malformed grant change notification, purging decisions",
					"error", err)
				c.Purge()
				continue
			}
			c.Invalidate(ev)
		}
	}
}

func count(cache string, hit bool) {
	if hit {
		hitsCounter.WithLabelValues(cache).Inc()
	} else {
		missesCounter.WithLabelValues(cache).Inc()
	}
}
