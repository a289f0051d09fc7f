// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package hierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/hierarchy"
	"github.com/gridward/gridward/pkg/errutil"
)

// factorySpecs is the canonical test hierarchy: site -> plan -> sensor, with
// dashboard standalone.
func factorySpecs() map[perm.Kind]hierarchy.KindSpec {
	return map[perm.Kind]hierarchy.KindSpec{
		"site":      {Table: "sites"},
		"plan":      {Parent: "site", Table: "plans", ParentColumn: "site_id"},
		"sensor":    {Parent: "plan", Table: "sensors", ParentColumn: "plan_id"},
		"dashboard": {Table: "dashboards"},
	}
}

func TestNewConfig(t *testing.T) {
	cfg, err := hierarchy.NewConfig(factorySpecs())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.MaxDepth())
	assert.True(t, cfg.Known("sensor"))
	assert.True(t, cfg.Known("group"), "group kind is always registered")
	assert.True(t, cfg.Known("user"), "user kind is always registered")
	assert.False(t, cfg.Known("turbine"))

	parent, ok := cfg.ParentKind("sensor")
	require.True(t, ok)
	assert.Equal(t, perm.Kind("plan"), parent)

	_, ok = cfg.ParentKind("dashboard")
	assert.False(t, ok)
	_, ok = cfg.ParentKind("group")
	assert.False(t, ok)
}

func TestNewConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[perm.Kind]hierarchy.KindSpec
		errCode string
	}{
		{
			name: "unknown parent kind",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"sensor": {Parent: "plan", Table: "sensors", ParentColumn: "plan_id"},
			},
			errCode: "CONFIG_INVALID",
		},
		{
			name: "missing parent column",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"site": {Table: "sites"},
				"plan": {Parent: "site", Table: "plans"},
			},
			errCode: "CONFIG_INVALID",
		},
		{
			name: "two-kind cycle",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"a": {Parent: "b", Table: "a", ParentColumn: "b_id"},
				"b": {Parent: "a", Table: "b", ParentColumn: "a_id"},
			},
			errCode: "CONFIG_CYCLE",
		},
		{
			name: "self cycle",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"a": {Parent: "a", Table: "a", ParentColumn: "a_id"},
			},
			errCode: "CONFIG_CYCLE",
		},
		{
			name: "group kind with a parent",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"site":  {Table: "sites"},
				"group": {Parent: "site", Table: "groups", ParentColumn: "site_id"},
			},
			errCode: "CONFIG_INVALID",
		},
		{
			name: "empty kind name",
			specs: map[perm.Kind]hierarchy.KindSpec{
				"": {Table: "things"},
			},
			errCode: "CONFIG_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hierarchy.NewConfig(tt.specs)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.errCode)
		})
	}
}

func TestConfig_ChildAndDescendantKinds(t *testing.T) {
	cfg, err := hierarchy.NewConfig(factorySpecs())
	require.NoError(t, err)

	assert.Equal(t, []perm.Kind{"plan"}, cfg.ChildKinds("site"))
	assert.Empty(t, cfg.ChildKinds("sensor"))
	assert.Empty(t, cfg.ChildKinds("dashboard"))

	desc, err := cfg.DescendantKinds("site")
	require.NoError(t, err)
	assert.Equal(t, []perm.Kind{"plan", "sensor"}, desc)

	desc, err = cfg.DescendantKinds("sensor")
	require.NoError(t, err)
	assert.Empty(t, desc)
}

func TestConfig_DescendantKinds_Fanout(t *testing.T) {
	specs := factorySpecs()
	specs["camera"] = hierarchy.KindSpec{Parent: "plan", Table: "cameras", ParentColumn: "plan_id"}
	cfg, err := hierarchy.NewConfig(specs)
	require.NoError(t, err)

	desc, err := cfg.DescendantKinds("site")
	require.NoError(t, err)
	assert.Equal(t, []perm.Kind{"plan", "camera", "sensor"}, desc)
}

func TestConfig_AdminManaged(t *testing.T) {
	specs := factorySpecs()
	specs["dashboard"] = hierarchy.KindSpec{Table: "dashboards", AdminManaged: true}
	cfg, err := hierarchy.NewConfig(specs)
	require.NoError(t, err)

	assert.True(t, cfg.AdminManaged("site"), "hierarchy roots are admin-managed")
	assert.True(t, cfg.AdminManaged("dashboard"), "explicit flag")
	assert.False(t, cfg.AdminManaged("sensor"))
	assert.False(t, cfg.AdminManaged("group"), "standalone leaf is not admin-managed")
}

func TestConfig_Kinds(t *testing.T) {
	cfg, err := hierarchy.NewConfig(factorySpecs())
	require.NoError(t, err)
	assert.Equal(t,
		[]perm.Kind{"dashboard", "group", "plan", "sensor", "site", "user"},
		cfg.Kinds())
}
