// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridward/gridward/pkg/errutil"
)

// execute runs the root command with the given args and captures output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "migrate", "check"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-format"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestRootCmd_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level=loud", "migrate", "status")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	migrate := newFinder(t)
	for _, want := range []string{"up", "down", "status", "force"} {
		assert.True(t, migrate.has(want), "missing migrate subcommand %s", want)
	}
}

func TestMigrateDown_RequiresConfirmation(t *testing.T) {
	_, err := execute(t, "migrate", "down")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "INVALID_REQUEST")
	assert.Contains(t, err.Error(), "--yes")
}

func TestMigrateUp_RequiresDatabaseURL(t *testing.T) {
	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestCheckCmd_RequiresResourceAndPermission(t *testing.T) {
	_, err := execute(t, "check", "--user=alice")
	require.Error(t, err, "missing required flags should fail")
}

func TestCheckCmd_RejectsMalformedResource(t *testing.T) {
	_, err := execute(t, "check",
		"--user=alice",
		"--resource=not-a-ref",
		"--permission=read",
		"--database.url=postgres://localhost/gridward")
	require.Error(t, err)
}

func TestServeCmd_RequiresDatabaseURL(t *testing.T) {
	_, err := execute(t, "serve")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

// cobraCommandFinder wraps lookup of the migrate command group.
type cobraCommandFinder struct {
	names map[string]bool
}

func newFinder(t *testing.T) *cobraCommandFinder {
	t.Helper()
	root := NewRootCmd()
	for _, sub := range root.Commands() {
		if sub.Name() != "migrate" {
			continue
		}
		names := make(map[string]bool)
		for _, m := range sub.Commands() {
			names[m.Name()] = true
		}
		return &cobraCommandFinder{names: names}
	}
	t.Fatal("migrate command not found")
	return nil
}

func (f *cobraCommandFinder) has(name string) bool { return f.names[name] }
