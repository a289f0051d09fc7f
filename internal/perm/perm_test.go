// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package perm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridward/gridward/internal/perm"
)

func TestImplied(t *testing.T) {
	tests := []struct {
		name string
		in   perm.Permission
		want []perm.Permission
	}{
		{
			name: "read is satisfied by any capability",
			in:   perm.PermissionRead,
			want: []perm.Permission{
				perm.PermissionRead, perm.PermissionWrite, perm.PermissionDelete,
				perm.PermissionCreate, perm.PermissionManage,
			},
		},
		{
			name: "write is satisfied by write or manage",
			in:   perm.PermissionWrite,
			want: []perm.Permission{perm.PermissionWrite, perm.PermissionManage},
		},
		{
			name: "delete is satisfied by delete or manage",
			in:   perm.PermissionDelete,
			want: []perm.Permission{perm.PermissionDelete, perm.PermissionManage},
		},
		{
			name: "create is satisfied by create or manage",
			in:   perm.PermissionCreate,
			want: []perm.Permission{perm.PermissionCreate, perm.PermissionManage},
		},
		{
			name: "manage is satisfied only by manage",
			in:   perm.PermissionManage,
			want: []perm.Permission{perm.PermissionManage},
		},
		{
			name: "member is satisfied only by member",
			in:   perm.PermissionMember,
			want: []perm.Permission{perm.PermissionMember},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, perm.Implied(tt.in))
		})
	}
}

func TestImplied_UnknownPermission(t *testing.T) {
	assert.Nil(t, perm.Implied(perm.Permission("fly")))
}

func TestImplied_ReturnsCopy(t *testing.T) {
	first := perm.Implied(perm.PermissionWrite)
	first[0] = perm.Permission("mutated")
	assert.Equal(t, perm.PermissionWrite, perm.Implied(perm.PermissionWrite)[0])
}

func TestPermission_Valid(t *testing.T) {
	for _, p := range perm.Permissions {
		assert.True(t, p.Valid(), "permission %s", p)
	}
	assert.False(t, perm.Permission("fly").Valid())
	assert.False(t, perm.Permission("").Valid())
}

func TestParseResourceRef(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    perm.ResourceRef
		wantErr bool
	}{
		{
			name: "well-formed ref",
			in:   "site:factory1",
			want: perm.ResourceRef{Kind: "site", ID: "factory1"},
		},
		{
			name: "id may contain colons",
			in:   "sensor:line:7",
			want: perm.ResourceRef{Kind: "sensor", ID: "line:7"},
		},
		{
			name:    "missing separator",
			in:      "factory1",
			wantErr: true,
		},
		{
			name:    "empty kind",
			in:      ":factory1",
			wantErr: true,
		},
		{
			name:    "empty id",
			in:      "site:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := perm.ParseResourceRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestFieldSet_Union(t *testing.T) {
	tests := []struct {
		name string
		a    perm.FieldSet
		b    perm.FieldSet
		want []string // nil means unrestricted
	}{
		{
			name: "disjoint sets combine",
			a:    perm.NewFieldSet("a", "b"),
			b:    perm.NewFieldSet("c"),
			want: []string{"a", "b", "c"},
		},
		{
			name: "overlapping sets deduplicate",
			a:    perm.NewFieldSet("a", "b"),
			b:    perm.NewFieldSet("b", "c"),
			want: []string{"a", "b", "c"},
		},
		{
			name: "nil on either side is unrestricted",
			a:    perm.NewFieldSet("a"),
			b:    nil,
			want: nil,
		},
		{
			name: "nil on both sides is unrestricted",
			a:    nil,
			b:    nil,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Union(tt.b)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Names())
		})
	}
}

func TestFieldSet_Contains(t *testing.T) {
	var unrestricted perm.FieldSet
	assert.True(t, unrestricted.Contains("anything"))

	fs := perm.NewFieldSet("temperature", "humidity")
	assert.True(t, fs.Contains("temperature"))
	assert.False(t, fs.Contains("location"))

	empty := perm.NewFieldSet()
	assert.NotNil(t, empty)
	assert.False(t, empty.Contains("anything"))
}

func TestGrantee_String(t *testing.T) {
	assert.Equal(t, "user:alice", perm.Grantee{Kind: perm.GranteeUser, ID: "alice"}.String())
	assert.Equal(t, "group:ops-team", perm.Grantee{Kind: perm.GranteeGroup, ID: "ops-team"}.String())
}
