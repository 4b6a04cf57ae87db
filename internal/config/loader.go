package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads the YAML file at path, expands environment variables and
// decodes it into a Config.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadMap reads a configuration file like Load but returns the generic
// document, for display endpoints that redact it.
func LoadMap(path string) (map[string]any, error) {
	var doc map[string]any
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded, err := expandEnv(raw)
	if err != nil {
		return fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}
	if err := yaml.Unmarshal(expanded, v); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// expandEnv substitutes ${VAR} and ${VAR:-default}. Variables that are
// unset and have no default are all reported in one error.
func expandEnv(raw []byte) ([]byte, error) {
	var (
		out     []byte
		last    int
		missing []string
	)
	for _, m := range envPattern.FindAllSubmatchIndex(raw, -1) {
		out = append(out, raw[last:m[0]]...)
		last = m[1]

		name := string(raw[m[2]:m[3]])
		if value, ok := os.LookupEnv(name); ok {
			out = append(out, value...)
			continue
		}
		if m[4] >= 0 {
			out = append(out, raw[m[4]:m[5]]...)
			continue
		}
		out = append(out, raw[m[0]:m[1]]...)
		if !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	out = append(out, raw[last:]...)

	if len(missing) > 0 {
		return out, fmt.Errorf("unresolved variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
