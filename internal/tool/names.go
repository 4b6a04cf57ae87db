package tool

import (
	"slices"
	"strings"
)

// Target selects the naming convention of an enablement list.
type Target int

// Naming conventions.
const (
	TargetLocal Target = iota
	TargetGitHubCopilot
)

// EnablementMap says which tools and tool sets are enabled, keyed by ID.
type EnablementMap struct {
	Tools    map[string]bool
	ToolSets map[string]bool
}

// FullReferenceName returns the canonical qualified name of d: set/tool
// when the tool belongs to a set, the bare reference name otherwise.
func (r *Registry) FullReferenceName(d Data) string {
	if sets := r.setsContaining(d.ID); len(sets) > 0 {
		return sets[0].ReferenceName + "/" + d.ReferenceName()
	}
	return d.ReferenceName()
}

// qualifiedNames lists every name d answers to, in priority order:
// canonical name, other set-qualified names, bare reference name, legacy
// names.
func (r *Registry) qualifiedNames(d Data) []string {
	names := []string{r.FullReferenceName(d)}
	for _, ts := range r.setsContaining(d.ID) {
		names = append(names, ts.ReferenceName+"/"+d.ReferenceName())
	}
	names = append(names, d.ReferenceName())
	names = append(names, d.LegacyToolReferenceFullNames...)
	return compactStrings(names)
}

func toolSetNames(ts *ToolSet) []string {
	names := []string{ts.FullReferenceName(), ts.ReferenceName}
	names = append(names, ts.LegacyFullNames...)
	return compactStrings(names)
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ToToolAndToolSetEnablementMap turns a list of qualified names into an
// enablement map covering every enabled tool and every tool set. Enabling
// a set enables all of its members, nested sets included.
func (r *Registry) ToToolAndToolSetEnablementMap(names []string, target Target) EnablementMap {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if target == TargetGitHubCopilot {
			n = MapThirdPartyName(n)
		}
		wanted[n] = true
	}
	matches := func(candidates []string) bool {
		return slices.ContainsFunc(candidates, func(c string) bool { return wanted[c] })
	}

	m := EnablementMap{Tools: make(map[string]bool), ToolSets: make(map[string]bool)}
	tools := r.Tools(false)
	for _, d := range tools {
		m.Tools[d.ID] = matches(r.qualifiedNames(d))
	}

	var enable func(ts *ToolSet)
	enable = func(ts *ToolSet) {
		if m.ToolSets[ts.ID] {
			return
		}
		m.ToolSets[ts.ID] = true
		for _, d := range ts.Tools() {
			if _, visible := m.Tools[d.ID]; visible {
				m.Tools[d.ID] = true
			}
		}
		for _, child := range ts.ToolSets() {
			enable(child)
		}
	}
	sets := r.ToolSets()
	for _, ts := range sets {
		if _, seen := m.ToolSets[ts.ID]; !seen {
			m.ToolSets[ts.ID] = false
		}
		if matches(toolSetNames(ts)) {
			enable(ts)
		}
	}
	return m
}

// ToQualifiedToolNames is the inverse of ToToolAndToolSetEnablementMap.
// Tools and nested sets covered by an enabled set are not listed again.
func (r *Registry) ToQualifiedToolNames(m EnablementMap) []string {
	coveredTools := make(map[string]bool)
	coveredSets := make(map[*ToolSet]bool)

	var cover func(ts *ToolSet)
	cover = func(ts *ToolSet) {
		for _, id := range ts.ToolIDs() {
			coveredTools[id] = true
		}
		for _, child := range ts.ToolSets() {
			if !coveredSets[child] {
				coveredSets[child] = true
				cover(child)
			}
		}
	}

	sets := r.ToolSets()
	for _, ts := range sets {
		if m.ToolSets[ts.ID] {
			cover(ts)
		}
	}

	var out []string
	for _, ts := range sets {
		if m.ToolSets[ts.ID] && !coveredSets[ts] {
			out = append(out, ts.FullReferenceName())
		}
	}
	for _, d := range r.Tools(true) {
		if m.Tools[d.ID] && !coveredTools[d.ID] {
			out = append(out, r.FullReferenceName(d))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

var thirdPartyNames = map[string]string{
	"shell":        "execute",
	"bash":         "execute",
	"powershell":   "execute",
	"read":         "read",
	"NotebookRead": "read",
	"write":        "edit",
	"MultiEdit":    "edit",
	"NotebookEdit": "edit",
	"Grep":         "search",
	"Glob":         "search",
	"WebFetch":     "web/fetch",
	"WebSearch":    "web/search",
	"Task":         "agent",
	"custom-agent": "agent",
	"github/*":     "github/github-mcp-server/*",
	"playwright/*": "microsoft/playwright-mcp/*",
}

var thirdPartyPrefixes = []struct{ from, to string }{
	{"github/", "github/github-mcp-server/"},
	{"playwright/", "microsoft/playwright-mcp/"},
}

// MapThirdPartyName rewrites a name from the GitHub Copilot agent naming
// convention. Unmapped names pass through unchanged.
func MapThirdPartyName(name string) string {
	if mapped, ok := thirdPartyNames[name]; ok {
		return mapped
	}
	for _, p := range thirdPartyPrefixes {
		if rest, ok := strings.CutPrefix(name, p.from); ok && !strings.HasPrefix(name, p.to) {
			return p.to + rest
		}
	}
	return name
}
