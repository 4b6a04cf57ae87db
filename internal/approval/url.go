package approval

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/tool"
)

// FetchToolID is the built-in web fetch tool the URL contribution guards.
const FetchToolID = "vscode_fetchWebPage_internal"

// URLMatcher reports whether rawURL is covered by pattern.
type URLMatcher interface {
	Match(pattern, rawURL string) bool
}

// URLMatcherFunc adapts a function to URLMatcher.
type URLMatcherFunc func(pattern, rawURL string) bool

// Match calls f.
func (f URLMatcherFunc) Match(pattern, rawURL string) bool { return f(pattern, rawURL) }

// GlobURLMatcher matches glob patterns against the URL with its scheme
// stripped, so "example.com/**" covers both http and https. A pattern
// without a path also covers every path of that host.
type GlobURLMatcher struct{}

// Match implements URLMatcher.
func (GlobURLMatcher) Match(pattern, rawURL string) bool {
	target := stripScheme(rawURL)
	pattern = stripScheme(pattern)
	if pattern == "" || target == "" {
		return false
	}
	if ok, err := doublestar.Match(pattern, target); err == nil && ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, err := doublestar.Match(pattern+"/**", target)
		return err == nil && ok
	}
	return false
}

func stripScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		s := strings.ToLower(u.Host) + u.Path
		if u.RawQuery != "" {
			s += "?" + u.RawQuery
		}
		return strings.TrimSuffix(s, "/")
	}
	return strings.TrimSuffix(raw, "/")
}

// URLApproval is one entry of the URL auto-approve map.
type URLApproval struct {
	ApproveRequest  bool `json:"approveRequest"`
	ApproveResponse bool `json:"approveResponse"`
}

// ParseURLApproval accepts true, false or an object with approveRequest
// and approveResponse fields.
func ParseURLApproval(v any) (URLApproval, bool) {
	if b, ok := settings.AsBool(v); ok {
		return URLApproval{ApproveRequest: b, ApproveResponse: b}, true
	}
	m, ok := settings.AsMap(v)
	if !ok {
		return URLApproval{}, false
	}
	var a URLApproval
	a.ApproveRequest, _ = settings.AsBool(m["approveRequest"])
	a.ApproveResponse, _ = settings.AsBool(m["approveResponse"])
	return a, true
}

// URLContribution approves fetches whose URLs are all allowed by the
// chat.tools.urls.autoApprove setting.
type URLContribution struct {
	Settings *settings.Store
	Matcher  URLMatcher

	// Filter, when set, vetoes auto-approval of any URL it blocks.
	Filter *security.URLFilter
}

// NewURLContribution creates a contribution with the glob matcher.
func NewURLContribution(store *settings.Store, filter *security.URLFilter) *URLContribution {
	return &URLContribution{Settings: store, Matcher: GlobURLMatcher{}, Filter: filter}
}

type fetchParams struct {
	URLs []string `json:"urls"`
}

// PreConfirmAction implements Contribution.
func (c *URLContribution) PreConfirmAction(_ context.Context, ref Ref) *tool.ConfirmReason {
	return c.decide(ref, func(a URLApproval) bool { return a.ApproveRequest })
}

// PostConfirmAction implements Contribution.
func (c *URLContribution) PostConfirmAction(_ context.Context, ref Ref) *tool.ConfirmReason {
	return c.decide(ref, func(a URLApproval) bool { return a.ApproveResponse })
}

func (c *URLContribution) decide(ref Ref, allowed func(URLApproval) bool) *tool.ConfirmReason {
	var p fetchParams
	if err := json.Unmarshal(ref.Parameters, &p); err != nil || len(p.URLs) == 0 {
		return nil
	}
	patterns, ok := settings.AsMap(c.Settings.Get(SettingURLAutoApprove))
	if !ok || len(patterns) == 0 {
		return nil
	}
	for _, u := range p.URLs {
		if !c.approved(u, patterns, allowed) {
			return nil
		}
	}
	r := tool.SettingDriven(SettingURLAutoApprove)
	return &r
}

func (c *URLContribution) approved(rawURL string, patterns map[string]any, allowed func(URLApproval) bool) bool {
	if c.Filter != nil && c.Filter.Check(rawURL) != nil {
		return false
	}
	matcher := c.Matcher
	if matcher == nil {
		matcher = GlobURLMatcher{}
	}
	ok := false
	for pattern, v := range patterns {
		if !matcher.Match(pattern, rawURL) {
			continue
		}
		a, valid := ParseURLApproval(v)
		if !valid {
			continue
		}
		// An explicit false for a matching pattern wins over any true.
		if !allowed(a) {
			return false
		}
		ok = true
	}
	return ok
}
