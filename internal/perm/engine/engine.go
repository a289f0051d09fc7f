// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package engine resolves permission checks against the grant store: group
// membership, ancestor inheritance, permission implication, deny-overrides
// combination, field-restriction unions, and kind defaults.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/audit"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	"github.com/gridward/gridward/internal/perm/store"
)

// Engine is the permission-resolution engine.
type Engine struct {
	store    store.Store
	resolver *hierarchy.Resolver
	cache    Cache
	defaults *Defaults
	audit    *audit.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache installs a decision/group/ancestor cache.
func WithCache(c Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithDefaults installs the kind-default rule table.
func WithDefaults(d *Defaults) Option {
	return func(e *Engine) { e.defaults = d }
}

// WithAudit installs an audit logger. Without one, decisions are not audited.
func WithAudit(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// NewEngine creates an Engine over the given store and hierarchy resolver.
func NewEngine(st store.Store, resolver *hierarchy.Resolver, opts ...Option) *Engine {
	e := &Engine{
		store:    st,
		resolver: resolver,
		cache:    NopCache{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check resolves whether user may exercise the requested permission on the
// resource. It never returns an error for a mere denial; errors mean the
// resolution itself failed.
func (e *Engine) Check(ctx context.Context, user perm.User, req perm.CheckRequest) (perm.Decision, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return perm.Decision{}, oops.Wrapf(err, "context cancelled before check")
	}
	if err := e.validateRequest(user, req); err != nil {
		return perm.Decision{}, err
	}

	if user.Admin {
		d := perm.AllowAll("admin bypass")
		e.finish(ctx, user, req, d, audit.OutcomeAdminBypass, "bypass", start)
		return d, nil
	}

	if d, ok := e.cache.GetDecision(user.ID, req); ok {
		e.finish(ctx, user, req, d, outcomeOf(d), "cache", start)
		return d, nil
	}

	groups, err := e.GroupsOf(ctx, user.ID)
	if err != nil {
		return perm.Decision{}, err
	}

	d, outcome, err := e.resolve(ctx, user, groups, req)
	if err != nil {
		return perm.Decision{}, err
	}
	if err := d.Validate(); err != nil {
		return d, oops.Wrapf(err, "decision validation failed")
	}

	e.cache.SetDecision(user.ID, req, d)
	e.finish(ctx, user, req, d, outcome, "store", start)
	return d, nil
}

// BulkCheck resolves several requests for one user with a single group
// lookup. Decisions come back in request order; any resolution failure
// aborts the batch.
func (e *Engine) BulkCheck(ctx context.Context, user perm.User, reqs []perm.CheckRequest) ([]perm.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrapf(err, "context cancelled before bulk check")
	}

	out := make([]perm.Decision, len(reqs))
	var groups []string
	groupsLoaded := false

	for i, req := range reqs {
		start := time.Now()
		if err := e.validateRequest(user, req); err != nil {
			return nil, err
		}

		if user.Admin {
			d := perm.AllowAll("admin bypass")
			e.finish(ctx, user, req, d, audit.OutcomeAdminBypass, "bypass", start)
			out[i] = d
			continue
		}

		if d, ok := e.cache.GetDecision(user.ID, req); ok {
			e.finish(ctx, user, req, d, outcomeOf(d), "cache", start)
			out[i] = d
			continue
		}

		if !groupsLoaded {
			var err error
			groups, err = e.GroupsOf(ctx, user.ID)
			if err != nil {
				return nil, err
			}
			groupsLoaded = true
		}

		d, outcome, err := e.resolve(ctx, user, groups, req)
		if err != nil {
			return nil, err
		}
		if err := d.Validate(); err != nil {
			return nil, oops.Wrapf(err, "decision validation failed")
		}

		e.cache.SetDecision(user.ID, req, d)
		e.finish(ctx, user, req, d, outcome, "store", start)
		out[i] = d
	}
	return out, nil
}

// GroupsOf returns the groups the user is a live member of.
func (e *Engine) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	if groups, ok := e.cache.GetGroups(userID); ok {
		return groups, nil
	}
	groups, err := e.store.MemberGroups(ctx, userID)
	if err != nil {
		return nil, oops.With("user_id", userID).Wrapf(err, "resolving group memberships")
	}
	e.cache.SetGroups(userID, groups)
	return groups, nil
}

// AncestorsOf returns the resource and its transitive parents, self first.
func (e *Engine) AncestorsOf(ctx context.Context, ref perm.ResourceRef) ([]hierarchy.Ancestor, error) {
	if ancestors, ok := e.cache.GetAncestors(ref); ok {
		return ancestors, nil
	}
	ancestors, err := e.resolver.AncestorsOf(ctx, ref)
	if err != nil {
		return nil, err
	}
	e.cache.SetAncestors(ref, ancestors)
	return ancestors, nil
}

// Grant authorizes the actor, records the grant, and invalidates affected
// cache entries. Non-admin actors need Manage on the target resource.
func (e *Engine) Grant(ctx context.Context, actor perm.User, g *perm.Grant) error {
	start := time.Now()

	if err := e.authorizeManage(ctx, actor, g.Resource); err != nil {
		e.auditMutation(ctx, actor, "grant", g, audit.OutcomeDeny, "manage permission required", start)
		mutationsCounter.WithLabelValues("grant", "forbidden").Inc()
		return err
	}

	if g.GrantedBy == "" {
		g.GrantedBy = actor.ID
	}
	if err := e.store.Grant(ctx, g); err != nil {
		mutationsCounter.WithLabelValues("grant", "error").Inc()
		return err
	}

	e.cache.Invalidate(changeEvent("grant", g))
	e.auditMutation(ctx, actor, "grant", g, audit.OutcomeAllow, "grant recorded", start)
	mutationsCounter.WithLabelValues("grant", "ok").Inc()
	return nil
}

// Revoke authorizes the actor against the grant's resource, deletes the
// grant, and invalidates affected cache entries.
func (e *Engine) Revoke(ctx context.Context, actor perm.User, id string) (*perm.Grant, error) {
	start := time.Now()

	g, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.authorizeManage(ctx, actor, g.Resource); err != nil {
		e.auditMutation(ctx, actor, "revoke", g, audit.OutcomeDeny, "manage permission required", start)
		mutationsCounter.WithLabelValues("revoke", "forbidden").Inc()
		return nil, err
	}

	revoked, err := e.store.Revoke(ctx, id)
	if err != nil {
		mutationsCounter.WithLabelValues("revoke", "error").Inc()
		return nil, err
	}

	e.cache.Invalidate(changeEvent("revoke", revoked))
	e.auditMutation(ctx, actor, "revoke", revoked, audit.OutcomeAllow, "grant revoked", start)
	mutationsCounter.WithLabelValues("revoke", "ok").Inc()
	return revoked, nil
}

// resolve runs the grant scan for a non-admin user. The store returns rows
// ordered by depth, then Deny before Allow, so the first terminal row wins.
func (e *Engine) resolve(ctx context.Context, user perm.User, groups []string, req perm.CheckRequest) (perm.Decision, audit.Outcome, error) {
	grantees := make([]perm.Grantee, 0, len(groups)+1)
	grantees = append(grantees, perm.Grantee{Kind: perm.GranteeUser, ID: user.ID})
	for _, group := range groups {
		grantees = append(grantees, perm.Grantee{Kind: perm.GranteeGroup, ID: group})
	}

	ancestors, err := e.AncestorsOf(ctx, req.Resource)
	if err != nil {
		return perm.Decision{}, "", err
	}

	rows, err := e.store.Applicable(ctx, grantees, ancestors, perm.Implied(req.Permission))
	if err != nil {
		return perm.Decision{}, "", oops.
			With("user_id", user.ID).
			With("resource", req.Resource.String()).
			Wrapf(err, "loading applicable grants")
	}

	var fields perm.FieldSet
	restricted := false
	for _, row := range rows {
		// A non-inheritable grant on an ancestor does not reach this resource.
		if row.Depth > 0 && !row.Inherit {
			continue
		}
		if row.Effect == perm.EffectDeny {
			return perm.Denied("denied by grant on " + row.Resource.String()), audit.OutcomeDeny, nil
		}
		if row.Fields == nil {
			return perm.AllowAll("allowed by grant on " + row.Resource.String()), audit.OutcomeAllow, nil
		}
		if !restricted {
			fields = row.Fields
			restricted = true
		} else {
			fields = fields.Union(row.Fields)
		}
	}

	if restricted {
		return perm.AllowFields(fields, "allowed by field-restricted grants"), audit.OutcomeAllow, nil
	}
	if e.defaults.Allow(req.Resource.Kind, req.Permission) {
		return perm.AllowAll("allowed by kind default"), audit.OutcomeAllow, nil
	}
	return perm.Denied("no applicable grants"), audit.OutcomeDefaultDeny, nil
}

// authorizeManage requires the actor to be an admin or hold Manage on the
// resource.
func (e *Engine) authorizeManage(ctx context.Context, actor perm.User, ref perm.ResourceRef) error {
	if actor.Admin {
		return nil
	}
	d, err := e.Check(ctx, actor, perm.CheckRequest{Resource: ref, Permission: perm.PermissionManage})
	if err != nil {
		return err
	}
	if !d.Allowed() {
		return oops.Code("FORBIDDEN").
			With("user_id", actor.ID).
			With("resource", ref.String()).
			Errorf("manage permission required")
	}
	return nil
}

func (e *Engine) validateRequest(user perm.User, req perm.CheckRequest) error {
	if strings.TrimSpace(user.ID) == "" && !user.Admin {
		return oops.Code("INVALID_REQUEST").Errorf("user ID must be non-empty")
	}
	if strings.TrimSpace(req.Resource.ID) == "" {
		return oops.Code("INVALID_REQUEST").Errorf("resource ID must be non-empty")
	}
	if !req.Permission.Valid() {
		return oops.Code("INVALID_REQUEST").
			With("permission", string(req.Permission)).
			Errorf("unknown permission")
	}
	if !e.resolver.Config().Known(req.Resource.Kind) {
		return oops.Code("INVALID_REQUEST").
			With("kind", string(req.Resource.Kind)).
			Errorf("unknown resource kind")
	}
	return nil
}

func (e *Engine) finish(ctx context.Context, user perm.User, req perm.CheckRequest, d perm.Decision, outcome audit.Outcome, source string, start time.Time) {
	if e.audit != nil {
		entry := audit.Entry{
			Op:         "check",
			UserID:     user.ID,
			Resource:   req.Resource.String(),
			Permission: string(req.Permission),
			Outcome:    outcome,
			Reason:     d.Reason,
			Fields:     d.Fields.Names(),
			DurationUS: time.Since(start).Microseconds(),
		}
		if err := e.audit.Log(ctx, entry); err != nil {
			slog.WarnContext(ctx, "audit log failed", "error", err)
		}
	}
	recordCheck(time.Since(start), outcome, source)
}

func (e *Engine) auditMutation(ctx context.Context, actor perm.User, op string, g *perm.Grant, outcome audit.Outcome, reason string, start time.Time) {
	if e.audit == nil {
		return
	}
	entry := audit.Entry{
		Op:         op,
		UserID:     actor.ID,
		Resource:   g.Resource.String(),
		Permission: string(g.Permission),
		Outcome:    outcome,
		Reason:     reason,
		GrantID:    g.ID,
		DurationUS: time.Since(start).Microseconds(),
	}
	if err := e.audit.Log(ctx, entry); err != nil {
		slog.WarnContext(ctx, "audit log failed", "error", err)
	}
}

// outcomeOf classifies a cached decision for audit and metrics. Cached
// entries don't distinguish default deny from grant deny.
func outcomeOf(d perm.Decision) audit.Outcome {
	if d.Allowed() {
		return audit.OutcomeAllow
	}
	return audit.OutcomeDeny
}

func changeEvent(op string, g *perm.Grant) store.ChangeEvent {
	return store.ChangeEvent{
		Op:           op,
		GranteeKind:  string(g.Grantee.Kind),
		GranteeID:    g.Grantee.ID,
		ResourceKind: string(g.Resource.Kind),
		ResourceID:   g.Resource.ID,
		Permission:   string(g.Permission),
		Inherit:      g.Inherit,
	}
}
