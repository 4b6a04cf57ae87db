// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for toolhost.
package config

import (
	"maps"
	"slices"

	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Settings seeds the settings store layers at startup.
	Settings SettingsConfig `yaml:"settings,omitempty"`

	// Tracing configures OTLP span export.
	Tracing telemetry.TracingConfig `yaml:"tracing,omitempty"`

	// Security holds audit, rate limit and URL filter settings.
	Security SecurityConfig `yaml:"security,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "remote.manager").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// ModuleIDs returns the configured module IDs in load order, which is
// sorted by ID.
func (c *Config) ModuleIDs() []string {
	return slices.Sorted(maps.Keys(c.Modules))
}

// SettingsConfig holds one map of setting keys per configurable layer.
// Keys are dotted setting names such as "chat.tools.global.autoApprove".
type SettingsConfig struct {
	Application map[string]any `yaml:"application,omitempty"`
	User        map[string]any `yaml:"user,omitempty"`
	Workspace   map[string]any `yaml:"workspace,omitempty"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// AuditLog is the JSONL audit file. Empty disables the file; events
	// still reach the structured log.
	AuditLog string `yaml:"audit_log,omitempty"`

	// RateLimits overrides the default limits. Nil keeps the defaults.
	RateLimits *security.RateLimitConfig `yaml:"rate_limits,omitempty"`

	// URLFilter vetoes auto-approval of fetches to unlisted domains.
	URLFilter *security.URLFilterConfig `yaml:"url_filter,omitempty"`

	// Secrets are registered in the credential store so they are redacted
	// from logs and stripped from subprocess environments.
	Secrets map[string]string `yaml:"secrets,omitempty"`
}

// Apply replaces the configured layers of store with the configured maps.
// Layers absent from the config are left untouched.
func (s SettingsConfig) Apply(store *settings.Store) {
	if s.Application != nil {
		store.Replace(settings.ScopeApplication, s.Application)
	}
	if s.User != nil {
		store.Replace(settings.ScopeUser, s.User)
	}
	if s.Workspace != nil {
		store.Replace(settings.ScopeWorkspace, s.Workspace)
	}
}
