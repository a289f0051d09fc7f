// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

//go:build integration

package perm_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/gridward/gridward/internal/directory"
	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/audit"
	"github.com/gridward/gridward/internal/perm/autogrant"
	"github.com/gridward/gridward/internal/perm/cache"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	permstore "github.com/gridward/gridward/internal/perm/store"
)

// fixture seeds one site -> plan -> sensor chain plus a user and a group,
// all with fresh IDs so specs never interfere through shared rows.
type fixture struct {
	site, plan, sensor perm.ResourceRef
	userID             string
	groupID            string
}

func newFixture(ctx context.Context) fixture {
	f := fixture{
		site:    perm.ResourceRef{Kind: "site", ID: "site-" + ulid.Make().String()},
		userID:  "user-" + ulid.Make().String(),
		groupID: "group-" + ulid.Make().String(),
	}
	f.plan = perm.ResourceRef{Kind: "plan", ID: "plan-" + ulid.Make().String()}
	f.sensor = perm.ResourceRef{Kind: "sensor", ID: "sensor-" + ulid.Make().String()}

	_, err := pool.Exec(ctx, `INSERT INTO sites (id) VALUES ($1)`, f.site.ID)
	Expect(err).NotTo(HaveOccurred())
	_, err = pool.Exec(ctx, `INSERT INTO plans (id, site_id) VALUES ($1, $2)`, f.plan.ID, f.site.ID)
	Expect(err).NotTo(HaveOccurred())
	_, err = pool.Exec(ctx, `INSERT INTO sensors (id, plan_id) VALUES ($1, $2)`, f.sensor.ID, f.plan.ID)
	Expect(err).NotTo(HaveOccurred())
	_, err = pool.Exec(ctx, `INSERT INTO users (id) VALUES ($1)`, f.userID)
	Expect(err).NotTo(HaveOccurred())
	_, err = pool.Exec(ctx, `INSERT INTO groups (id) VALUES ($1)`, f.groupID)
	Expect(err).NotTo(HaveOccurred())
	return f
}

func buildEngine(opts ...engine.Option) (*engine.Engine, *permstore.Postgres) {
	dir := directory.NewPostgres(pool, kinds)
	grants := permstore.NewPostgres(pool, dir)
	resolver := hierarchy.NewResolver(kinds, dir)
	return engine.NewEngine(grants, resolver, opts...), grants
}

var _ = Describe("Permission engine against PostgreSQL", func() {
	var (
		ctx context.Context
		f   fixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		f = newFixture(ctx)
	})

	Describe("grant, check, revoke round trip", func() {
		It("inherits an allow down the hierarchy and forgets it on revoke", func() {
			eng, grants := buildEngine()
			user := perm.User{ID: f.userID}

			g := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   f.site,
				Permission: perm.PermissionRead,
				Effect:     perm.EffectAllow,
				Inherit:    true,
			}
			Expect(grants.Grant(ctx, &g)).To(Succeed())
			Expect(g.ID).NotTo(BeEmpty())

			d, err := eng.Check(ctx, user, perm.CheckRequest{Resource: f.sensor, Permission: perm.PermissionRead})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed()).To(BeTrue())

			_, err = grants.Revoke(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())

			d, err = eng.Check(ctx, user, perm.CheckRequest{Resource: f.sensor, Permission: perm.PermissionRead})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed()).To(BeFalse())
		})
	})

	Describe("deny overrides", func() {
		It("prefers a user deny over a group allow on the same resource", func() {
			eng, grants := buildEngine()
			user := perm.User{ID: f.userID}

			member := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   perm.ResourceRef{Kind: perm.KindGroup, ID: f.groupID},
				Permission: perm.PermissionMember,
				Effect:     perm.EffectAllow,
			}
			Expect(grants.Grant(ctx, &member)).To(Succeed())

			groupAllow := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeGroup, ID: f.groupID},
				Resource:   f.plan,
				Permission: perm.PermissionWrite,
				Effect:     perm.EffectAllow,
			}
			Expect(grants.Grant(ctx, &groupAllow)).To(Succeed())

			userDeny := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   f.plan,
				Permission: perm.PermissionWrite,
				Effect:     perm.EffectDeny,
			}
			Expect(grants.Grant(ctx, &userDeny)).To(Succeed())

			d, err := eng.Check(ctx, user, perm.CheckRequest{Resource: f.plan, Permission: perm.PermissionWrite})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed()).To(BeFalse())
		})
	})

	Describe("expiry", func() {
		It("treats an expired grant as absent", func() {
			eng, grants := buildEngine()
			expired := time.Now().UTC().Add(-time.Hour)

			g := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   f.sensor,
				Permission: perm.PermissionRead,
				Effect:     perm.EffectAllow,
				ExpiresAt:  &expired,
			}
			Expect(grants.Grant(ctx, &g)).To(Succeed())

			d, err := eng.Check(ctx, perm.User{ID: f.userID},
				perm.CheckRequest{Resource: f.sensor, Permission: perm.PermissionRead})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed()).To(BeFalse())
		})
	})

	Describe("group resolution", func() {
		It("resolves memberships from member grants", func() {
			eng, grants := buildEngine()

			member := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   perm.ResourceRef{Kind: perm.KindGroup, ID: f.groupID},
				Permission: perm.PermissionMember,
				Effect:     perm.EffectAllow,
			}
			Expect(grants.Grant(ctx, &member)).To(Succeed())

			groups, err := eng.GroupsOf(ctx, f.userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(ContainElement(f.groupID))
		})
	})

	Describe("cache invalidation over NOTIFY", func() {
		It("drops cached decisions when a grant changes in another session", func() {
			listenCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			c := cache.New(kinds, cache.Config{})
			Expect(c.StartWithListener(listenCtx, cache.NewPGListener(connStr))).To(Succeed())
			defer func() {
				cancel()
				c.Wait()
			}()

			eng, grants := buildEngine(engine.WithCache(c))
			user := perm.User{ID: f.userID}
			req := perm.CheckRequest{Resource: f.sensor, Permission: perm.PermissionRead}

			g := perm.Grant{
				Grantee:    perm.Grantee{Kind: perm.GranteeUser, ID: f.userID},
				Resource:   f.site,
				Permission: perm.PermissionRead,
				Effect:     perm.EffectAllow,
				Inherit:    true,
			}
			Expect(grants.Grant(ctx, &g)).To(Succeed())

			Eventually(func() bool {
				d, err := eng.Check(ctx, user, req)
				return err == nil && d.Allowed()
			}).WithTimeout(5 * time.Second).Should(BeTrue())

			// Revoke through the store, not the engine, so only the
			// notification path can invalidate the cached decision.
			_, err := grants.Revoke(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() bool {
				d, err := eng.Check(ctx, user, req)
				return err == nil && !d.Allowed()
			}).WithTimeout(5 * time.Second).Should(BeTrue())
		})
	})

	Describe("creator auto-grant", func() {
		It("records a Manage grant once, idempotently", func() {
			eng, grants := buildEngine()
			svc := autogrant.NewService(eng, grants, kinds)
			user := perm.User{ID: f.userID}

			g, err := svc.RecordCreated(ctx, user, "sensor", f.sensor.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(g).NotTo(BeNil())
			Expect(g.Permission).To(Equal(perm.PermissionManage))

			// The unique tuple constraint turns the duplicate into a no-op.
			dup, err := svc.RecordCreated(ctx, user, "sensor", f.sensor.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(dup).To(BeNil())

			d, err := eng.Check(ctx, user, perm.CheckRequest{Resource: f.sensor, Permission: perm.PermissionManage})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Allowed()).To(BeTrue())
		})
	})

	Describe("audit trail", func() {
		It("persists entries through the Postgres writer", func() {
			writer := audit.NewPostgresWriter(pool)
			defer writer.Close()

			entry := audit.Entry{
				ID:         ulid.Make().String(),
				Op:         "check",
				UserID:     f.userID,
				Resource:   f.sensor.String(),
				Permission: string(perm.PermissionRead),
				Outcome:    audit.OutcomeDeny,
				Reason:     "no applicable grants",
				Timestamp:  time.Now().UTC(),
			}
			Expect(writer.WriteSync(ctx, entry)).To(Succeed())

			var count int
			err := pool.QueryRow(ctx,
				`SELECT count(*) FROM audit_log WHERE id = $1`, entry.ID).Scan(&count)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
		})
	})
})
