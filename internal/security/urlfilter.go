package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrURLBlocked is returned when a URL is denied by the filter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig holds the host rules applied to URLs a tool wants to
// fetch without asking.
type URLFilterConfig struct {
	// AllowDomains restricts hosts to the listed domains and their
	// subdomains. Entries may be globs ("docs.*.io"). Empty allows every
	// host that is not denied.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains wins over AllowDomains. Same syntax.
	DenyDomains []string `yaml:"deny_domains"`

	// Schemes lists accepted URL schemes. Empty means http and https.
	Schemes []string `yaml:"schemes,omitempty"`

	// AllowPrivate lets loopback, private and link-local addresses
	// through. They are blocked by default.
	AllowPrivate bool `yaml:"allow_private,omitempty"`
}

// URLFilter checks URLs against a URLFilterConfig.
type URLFilter struct {
	allow        []string
	deny         []string
	schemes      []string
	allowPrivate bool
}

// NewURLFilter creates a URL filter from the given config.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	schemes := normalize(cfg.Schemes)
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	return &URLFilter{
		allow:        normalize(cfg.AllowDomains),
		deny:         normalize(cfg.DenyDomains),
		schemes:      schemes,
		allowPrivate: cfg.AllowPrivate,
	}
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Check returns nil when rawURL passes every rule, or an error wrapping
// ErrURLBlocked naming the rule that failed.
func (f *URLFilter) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}
	if !slices.Contains(f.schemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%w: scheme %q", ErrURLBlocked, u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}
	if !f.allowPrivate && isPrivateHost(host) {
		return fmt.Errorf("%w: %s (private address)", ErrURLBlocked, host)
	}
	if matchAny(host, f.deny) {
		return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
	}
	if len(f.allow) > 0 && !matchAny(host, f.allow) {
		return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
	}
	return nil
}

// matchAny reports whether host is, or is a subdomain of, any entry.
func matchAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
		if ok, _ := doublestar.Match(d, host); ok {
			return true
		}
		if ok, _ := doublestar.Match("*."+d, host); ok {
			return true
		}
	}
	return false
}

func isPrivateHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
