// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

// Package config loads and validates the gridward configuration: database,
// observability, cache sizing, audit mode, the resource-kind hierarchy, and
// kind-default rules.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gridward/gridward/internal/perm"
	"github.com/gridward/gridward/internal/perm/audit"
	"github.com/gridward/gridward/internal/perm/cache"
	"github.com/gridward/gridward/internal/perm/engine"
	"github.com/gridward/gridward/internal/perm/hierarchy"
)

// Config is the full gridward configuration.
type Config struct {
	Database      DatabaseConfig        `koanf:"database" json:"database"`
	Observability ObservabilityConfig   `koanf:"observability" json:"observability,omitempty"`
	Cache         CacheConfig           `koanf:"cache" json:"cache,omitempty"`
	Audit         AuditConfig           `koanf:"audit" json:"audit,omitempty"`
	Hierarchy     map[string]KindConfig `koanf:"hierarchy" json:"hierarchy,omitempty"`
	Defaults      []DefaultRuleConfig   `koanf:"defaults" json:"defaults,omitempty"`
}

// DatabaseConfig points at PostgreSQL.
type DatabaseConfig struct {
	// URL is a pgx connection string.
	URL string `koanf:"url" json:"url"`
	// ConnectTimeout bounds startup connection retries, e.g. "30s".
	ConnectTimeout string `koanf:"connect_timeout" json:"connect_timeout,omitempty"`
}

// ObservabilityConfig configures the health/metrics HTTP server.
type ObservabilityConfig struct {
	// MetricsAddr is the listen address; empty disables the server.
	MetricsAddr string `koanf:"metrics_addr" json:"metrics_addr,omitempty"`
}

// CacheConfig sizes the decision/group/ancestor caches. Durations are
// strings like "30s"; zero values fall back to built-in defaults.
type CacheConfig struct {
	Enabled      bool   `koanf:"enabled" json:"enabled,omitempty"`
	DecisionSize int    `koanf:"decision_size" json:"decision_size,omitempty"`
	DecisionTTL  string `koanf:"decision_ttl" json:"decision_ttl,omitempty"`
	GroupSize    int    `koanf:"group_size" json:"group_size,omitempty"`
	GroupTTL     string `koanf:"group_ttl" json:"group_ttl,omitempty"`
	AncestorSize int    `koanf:"ancestor_size" json:"ancestor_size,omitempty"`
	AncestorTTL  string `koanf:"ancestor_ttl" json:"ancestor_ttl,omitempty"`
}

// AuditConfig selects what gets audited and where the WAL fallback lives.
type AuditConfig struct {
	// Mode is one of minimal, denials_only, all.
	Mode string `koanf:"mode" json:"mode,omitempty"`
	// WALPath overrides the XDG default WAL location.
	WALPath string `koanf:"wal_path" json:"wal_path,omitempty"`
}

// KindConfig declares one resource kind of the hierarchy.
type KindConfig struct {
	Parent       string `koanf:"parent" json:"parent,omitempty"`
	Table        string `koanf:"table" json:"table"`
	ParentColumn string `koanf:"parent_column" json:"parent_column,omitempty"`
	AdminManaged bool   `koanf:"admin_managed" json:"admin_managed,omitempty"`
}

// DefaultRuleConfig allows baseline permissions on kinds matching a glob.
type DefaultRuleConfig struct {
	Kinds       string   `koanf:"kinds" json:"kinds"`
	Permissions []string `koanf:"permissions" json:"permissions"`
}

// Default returns the configuration defaults applied before file and flag
// values.
func Default() Config {
	return Config{
		Observability: ObservabilityConfig{MetricsAddr: "127.0.0.1:9100"},
		Cache:         CacheConfig{Enabled: true},
		Audit:         AuditConfig{Mode: string(audit.ModeMinimal)},
		Database:      DatabaseConfig{ConnectTimeout: "30s"},
	}
}

// Load reads configuration from an optional YAML file and optional pflag
// overrides, layered over Default(). The file, when present, is schema
// validated before decoding.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := validateFile(path); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").
				With("path", path).
				Wrapf(err, "loading config file")
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "loading flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate cross-checks the decoded configuration. It builds every derived
// structure once so that bad kinds, globs, modes, or durations fail at
// startup, not at first use.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
	}
	if _, err := c.ConnectTimeout(); err != nil {
		return err
	}
	if _, err := audit.ParseMode(c.Audit.Mode); err != nil {
		return err
	}
	if _, err := c.HierarchyConfig(); err != nil {
		return err
	}
	if _, err := c.DefaultRules(); err != nil {
		return err
	}
	if _, err := c.CacheConfig(); err != nil {
		return err
	}
	return nil
}

// HierarchyConfig builds the validated kind registry.
func (c *Config) HierarchyConfig() (*hierarchy.Config, error) {
	specs := make(map[perm.Kind]hierarchy.KindSpec, len(c.Hierarchy))
	for kind, kc := range c.Hierarchy {
		specs[perm.Kind(kind)] = hierarchy.KindSpec{
			Parent:       perm.Kind(kc.Parent),
			Table:        kc.Table,
			ParentColumn: kc.ParentColumn,
			AdminManaged: kc.AdminManaged,
		}
	}
	return hierarchy.NewConfig(specs)
}

// DefaultRules builds the compiled kind-default table, or nil when no rules
// are configured.
func (c *Config) DefaultRules() (*engine.Defaults, error) {
	if len(c.Defaults) == 0 {
		return nil, nil
	}
	rules := make([]engine.DefaultRule, 0, len(c.Defaults))
	for _, rc := range c.Defaults {
		perms := make([]perm.Permission, 0, len(rc.Permissions))
		for _, p := range rc.Permissions {
			perms = append(perms, perm.Permission(p))
		}
		rules = append(rules, engine.DefaultRule{KindGlob: rc.Kinds, Permissions: perms})
	}
	return engine.NewDefaults(rules)
}

// CacheConfig parses the cache sizing into the cache layer's config.
func (c *Config) CacheConfig() (cache.Config, error) {
	out := cache.Config{
		DecisionSize: c.Cache.DecisionSize,
		GroupSize:    c.Cache.GroupSize,
		AncestorSize: c.Cache.AncestorSize,
	}
	var err error
	if out.DecisionTTL, err = parseDuration("cache.decision_ttl", c.Cache.DecisionTTL); err != nil {
		return cache.Config{}, err
	}
	if out.GroupTTL, err = parseDuration("cache.group_ttl", c.Cache.GroupTTL); err != nil {
		return cache.Config{}, err
	}
	if out.AncestorTTL, err = parseDuration("cache.ancestor_ttl", c.Cache.AncestorTTL); err != nil {
		return cache.Config{}, err
	}
	return out, nil
}

// AuditMode returns the parsed audit mode.
func (c *Config) AuditMode() (audit.Mode, error) {
	return audit.ParseMode(c.Audit.Mode)
}

// ConnectTimeout returns the parsed database connect timeout.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	return parseDuration("database.connect_timeout", c.Database.ConnectTimeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, oops.Code("CONFIG_INVALID").
			With("key", key).
			With("value", value).
			Wrapf(err, "parsing duration")
	}
	if d < 0 {
		return 0, oops.Code("CONFIG_INVALID").
			With("key", key).
			With("value", value).
			Errorf("duration must not be negative")
	}
	return d, nil
}
