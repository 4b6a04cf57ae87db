package security

import (
	"cmp"
	"encoding/json"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyWords mark a map key or log attribute as holding a secret once
// separators are removed and the key is lowercased.
var secretKeyWords = []string{
	"secret", "token", "password", "passwd", "credential",
	"apikey", "authorization", "privatekey", "accesskey",
}

// IsSecretKey reports whether key names a secret, e.g. "bearer_token",
// "X-Api-Key" or "clientSecret".
func IsSecretKey(key string) bool {
	k := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', ' ':
			return -1
		}
		return r
	}, strings.ToLower(key))
	for _, w := range secretKeyWords {
		if strings.Contains(k, w) {
			return true
		}
	}
	return false
}

// Redactor scrubs secrets from tool parameters, tool results, logs and
// configuration dumps. Known token formats are matched by pattern;
// credentials loaded at runtime are matched literally. All methods are
// safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
	replacer *strings.Replacer
}

// NewRedactor creates a Redactor with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern adds a pattern whose matches are redacted.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds a secret value redacted wherever it appears. Empty
// strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLiterals(append(slices.Clone(r.literals), secret))
}

// SyncCredentials replaces the literal values with the contents of store.
func (r *Redactor) SyncCredentials(store *CredentialStore) {
	values := store.Values()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLiterals(values)
}

// setLiterals rebuilds the replacer. Longer secrets go first so a secret
// containing another one is replaced whole. Callers hold mu.
func (r *Redactor) setLiterals(literals []string) {
	literals = slices.DeleteFunc(literals, func(s string) bool { return s == "" })
	slices.SortFunc(literals, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(b), len(a)), strings.Compare(a, b))
	})
	literals = slices.Compact(literals)
	r.literals = literals

	r.replacer = nil
	if len(literals) > 0 {
		pairs := make([]string, 0, 2*len(literals))
		for _, lit := range literals {
			pairs = append(pairs, lit, RedactPlaceholder)
		}
		r.replacer = strings.NewReplacer(pairs...)
	}
}

// Redact replaces every pattern match and literal secret in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	r.mu.RLock()
	patterns, replacer := r.patterns, r.replacer
	r.mu.RUnlock()

	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	if replacer != nil {
		s = replacer.Replace(s)
	}
	return s
}

// RedactMap redacts m in place. Non-empty string values under secret keys
// are replaced whole; everything else is scanned.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		m[k] = r.redactValue(k, v)
	}
}

// RedactJSON returns raw with every string scrubbed and values under
// secret keys replaced. Input that is not JSON is redacted as text.
func (r *Redactor) RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(r.Redact(string(raw)))
	}
	out, err := json.Marshal(r.redactValue("", v))
	if err != nil {
		return json.RawMessage(r.Redact(string(raw)))
	}
	return out
}

func (r *Redactor) redactValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		if val != "" && IsSecretKey(key) {
			return RedactPlaceholder
		}
		return r.Redact(val)
	case map[string]any:
		r.RedactMap(val)
		return val
	case []any:
		for i, item := range val {
			val[i] = r.redactValue(key, item)
		}
		return val
	default:
		return v
	}
}

// DefaultPatterns returns patterns for token formats commonly passed to
// tools and MCP servers.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Authorization headers echoed in tool output.
		regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]{16,}`),
		// OpenAI and Anthropic keys.
		regexp.MustCompile(`sk-(ant-)?[a-zA-Z0-9\-_]{20,}`),
		// GitHub tokens.
		regexp.MustCompile(`(ghp_|gho_|ghs_|ghu_|github_pat_)[a-zA-Z0-9_]{20,}`),
		// AWS access key IDs.
		regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`),
		// Slack tokens.
		regexp.MustCompile(`xox[abpr]-[0-9A-Za-z-]{10,}`),
		// PostHog personal API keys.
		regexp.MustCompile(`phx_[a-zA-Z0-9]{20,}`),
		// JWTs.
		regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]{8,}\.eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}`),
		// PEM private keys.
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	}
}
