package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/toolhost/internal/core"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, checks that
// all referenced module IDs exist in the registry and that each
// Configurable module accepts its entry. Settings keys, rate limits, URL
// filter domains and the tracing sample ratio are checked too.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for _, id := range cfg.ModuleIDs() {
		info, ok := core.GetModule(id)
		if !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
			continue
		}
		// Decode into a throwaway instance so config check reports bad
		// module entries without provisioning anything.
		if c, ok := info.New().(core.Configurable); ok {
			node := cfg.Modules[id]
			if err := c.Configure(&node); err != nil {
				errs = append(errs, fmt.Errorf("config: module %q: %w", id, err))
			}
		}
	}

	errs = append(errs, validateSettings(cfg.Settings)...)
	errs = append(errs, validateSecurity(cfg.Security)...)

	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("config: tracing.sample_ratio must be within [0, 1], got %v", r))
	}

	return errors.Join(errs...)
}

func validateSettings(s SettingsConfig) []error {
	var errs []error
	layers := []struct {
		name   string
		values map[string]any
	}{
		{"application", s.Application},
		{"user", s.User},
		{"workspace", s.Workspace},
	}
	for _, layer := range layers {
		for key := range layer.values {
			if strings.TrimSpace(key) == "" {
				errs = append(errs, fmt.Errorf("config: settings.%s: empty setting key", layer.name))
			}
		}
	}
	return errs
}

func validateSecurity(sec SecurityConfig) []error {
	var errs []error

	if rl := sec.RateLimits; rl != nil {
		if rl.ToolCallsPerMin < 0 || rl.SessionToolCallsPerMin < 0 || rl.HostFramesPerSec < 0 || rl.AuthAttemptsPerMin < 0 {
			errs = append(errs, errors.New("config: security.rate_limits must not be negative"))
		}
	}

	if f := sec.URLFilter; f != nil {
		for i, d := range f.AllowDomains {
			if strings.TrimSpace(d) == "" {
				errs = append(errs, fmt.Errorf("config: security.url_filter.allow_domains[%d] is empty", i))
			}
		}
		for i, d := range f.DenyDomains {
			if strings.TrimSpace(d) == "" {
				errs = append(errs, fmt.Errorf("config: security.url_filter.deny_domains[%d] is empty", i))
			}
		}
	}

	for name, value := range sec.Secrets {
		if value == "" {
			errs = append(errs, fmt.Errorf("config: security.secrets.%s is empty", name))
		}
	}

	return errs
}
