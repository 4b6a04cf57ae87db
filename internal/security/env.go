package security

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// sensitiveEnvPrefixes are environment variable prefixes stripped from the
// environment of child processes such as MCP servers. For names that must
// match exactly, see sensitiveEnvExact.
var sensitiveEnvPrefixes = []string{
	"TOOLHOST_",
	"OPENAI_",
	"ANTHROPIC_",
	"POSTHOG_",
	"OTEL_EXPORTER_OTLP_HEADERS",
	"AWS_SECRET",
	"AWS_SESSION_TOKEN",
	"GITHUB_TOKEN",
	"GH_TOKEN",
	"GITLAB_TOKEN",
	"NPM_TOKEN",
	"SMTP_PASSWORD",
}

// sensitiveEnvExact are environment variable names stripped exactly.
// DATABASE_URL and DB_PASSWORD are exact-only so DB_PORT or DATABASE_HOST
// still reach child processes.
var sensitiveEnvExact = map[string]struct{}{
	"AWS_SECRET_ACCESS_KEY": {},
	"DATABASE_URL":          {},
	"DB_PASSWORD":           {},
	"REDIS_PASSWORD":        {},
}

// SanitizedEnv returns a copy of os.Environ() with sensitive variables
// removed. If store is non-nil, credential values registered in it are
// also redacted from the remaining values.
func SanitizedEnv(store *CredentialStore) []string {
	return sanitize(os.Environ(), store)
}

// SubprocessEnv returns the environment of a child process: the sanitized
// parent environment followed by the explicit entries, sorted by name.
// Explicit entries override inherited ones; values that are secret
// references are resolved from store.
func SubprocessEnv(store *CredentialStore, explicit map[string]string) ([]string, error) {
	env := SanitizedEnv(store)
	if len(explicit) == 0 {
		return env, nil
	}
	env = slices.DeleteFunc(env, func(entry string) bool {
		key, _, _ := strings.Cut(entry, "=")
		_, overridden := explicit[key]
		return overridden
	})
	for _, key := range slices.Sorted(maps.Keys(explicit)) {
		value, err := store.Resolve(explicit[key])
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		env = append(env, key+"="+value)
	}
	return env, nil
}

func sanitize(env []string, store *CredentialStore) []string {
	result := make([]string, 0, len(env))

	var secrets []string
	if store != nil {
		secrets = store.Values()
	}

	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok || isSensitiveEnvVar(key) {
			continue
		}

		// Secrets shorter than 8 characters are left alone to avoid
		// mangling values like "yes" or "1".
		sanitized := entry
		for _, secret := range secrets {
			if len(secret) >= 8 && strings.Contains(sanitized, secret) {
				sanitized = strings.ReplaceAll(sanitized, secret, RedactPlaceholder)
			}
		}
		result = append(result, sanitized)
	}
	return result
}

// isSensitiveEnvVar checks if an environment variable name matches
// a known sensitive prefix or exact name.
func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	if _, ok := sensitiveEnvExact[upper]; ok {
		return true
	}
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}
