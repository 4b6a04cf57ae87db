// Package approval decides whether a tool call may skip interactive
// confirmation, before it runs and again before its result is shared with
// the model.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/flemzord/toolhost/internal/contextkey"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/tool"
)

// Setting, storage and context keys read by the engine.
const (
	SettingGlobalAutoApprove       = "chat.tools.global.autoApprove"
	SettingAutoApprove             = "chat.tools.autoApprove"
	SettingEligibleForAutoApproval = "chat.tools.eligibleForAutoApproval"
	SettingURLAutoApprove          = "chat.tools.urls.autoApprove"

	StorageKeyAutoApproveOptIn = "chat.tools.global.autoApprove.optIn"
	ContextKeyTestMode         = "chat.tools.global.autoApprove.testMode"
)

// Ref identifies the call being checked.
type Ref struct {
	Tool          tool.Data
	CallID        string
	Parameters    json.RawMessage
	ChatSessionID string
}

// Contribution is a per-tool policy consulted before the settings. A nil
// decision defers to the settings.
type Contribution interface {
	PreConfirmAction(ctx context.Context, ref Ref) *tool.ConfirmReason
	PostConfirmAction(ctx context.Context, ref Ref) *tool.ConfirmReason
}

// Dialog prompts the user.
type Dialog interface {
	// ConfirmAutoApprove shows the warning shown before global
	// auto-approval first takes effect.
	ConfirmAutoApprove(ctx context.Context) (bool, error)

	// Confirm asks the user to allow a single call.
	Confirm(ctx context.Context, msgs tool.ConfirmationMessages) (bool, error)
}

// Config holds the collaborators of an Engine.
type Config struct {
	Settings    *settings.Store
	Storage     settings.Storage
	ContextKeys *contextkey.Service
	Dialog      Dialog
	Audit       *security.AuditLogger
	Logger      *slog.Logger
}

// Engine is the confirmation policy. It is safe for concurrent use.
type Engine struct {
	settings *settings.Store
	storage  settings.Storage
	keys     *contextkey.Service
	dialog   Dialog
	audit    *security.AuditLogger
	logger   *slog.Logger
	grants   *SessionGrants

	mu            sync.RWMutex
	contributions map[string]Contribution

	prompts singleflight.Group
	unsub   func()
}

// New creates an Engine and starts watching the global auto-approve flag.
func New(cfg Config) *Engine {
	e := &Engine{
		settings:      cfg.Settings,
		storage:       cfg.Storage,
		keys:          cfg.ContextKeys,
		dialog:        cfg.Dialog,
		audit:         cfg.Audit,
		logger:        cfg.Logger,
		grants:        NewSessionGrants(),
		contributions: make(map[string]Contribution),
	}
	if e.settings == nil {
		e.settings = settings.NewStore()
	}
	if e.storage == nil {
		e.storage = settings.NewMemoryStorage()
	}
	if e.keys == nil {
		e.keys = contextkey.NewService()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "approval")

	e.unsub = e.settings.OnDidChange(func(ev settings.ChangeEvent) {
		if !ev.Affects(SettingGlobalAutoApprove) {
			return
		}
		if on, _ := e.settings.Get(SettingGlobalAutoApprove).(bool); on {
			return
		}
		if err := e.storage.Remove(StorageKeyAutoApproveOptIn, settings.StorageApplication); err != nil {
			e.logger.Warn("clearing auto-approve opt-in failed", "error", err)
		}
	})
	return e
}

// Close stops watching settings.
func (e *Engine) Close() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
}

// Grants returns the per-session approvals.
func (e *Engine) Grants() *SessionGrants {
	return e.grants
}

// SetDialog replaces the dialog collaborator.
func (e *Engine) SetDialog(d Dialog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dialog = d
}

// Dialog returns the dialog collaborator, or nil.
func (e *Engine) Dialog() Dialog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dialog
}

// RegisterContribution installs c for toolID, replacing any previous one.
func (e *Engine) RegisterContribution(toolID string, c Contribution) (unregister func()) {
	e.mu.Lock()
	e.contributions[toolID] = c
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.contributions[toolID] == c {
			delete(e.contributions, toolID)
		}
	}
}

func (e *Engine) contribution(toolID string) Contribution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.contributions[toolID]
}

// IsEligibleForAutoApproval reports whether settings may ever approve d
// without asking. The eligibility map is keyed by reference name, then by
// legacy names; tools are eligible by default.
func (e *Engine) IsEligibleForAutoApproval(d tool.Data) bool {
	m := settings.AsBoolMap(e.settings.Get(SettingEligibleForAutoApproval))
	names := append([]string{d.ReferenceName()}, d.LegacyToolReferenceFullNames...)
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v
		}
	}
	return true
}

// PreConfirm returns the decision letting ref run without asking, or nil
// when the user must confirm.
func (e *Engine) PreConfirm(ctx context.Context, ref Ref) *tool.ConfirmReason {
	if !e.IsEligibleForAutoApproval(ref.Tool) {
		return nil
	}
	if c := e.contribution(ref.Tool.ID); c != nil {
		if r := c.PreConfirmAction(ctx, ref); r != nil {
			return r
		}
	}
	if ref.ChatSessionID != "" && e.grants.IsGranted(ref.ChatSessionID, ref.Tool.ID) {
		r := tool.UserApproved()
		return &r
	}
	return e.fromSettings(ctx, ref)
}

// PostConfirm returns the decision letting the result of ref reach the
// model without asking, or nil when the user must review it.
func (e *Engine) PostConfirm(ctx context.Context, ref Ref) *tool.ConfirmReason {
	if c := e.contribution(ref.Tool.ID); c != nil {
		if r := c.PostConfirmAction(ctx, ref); r != nil {
			return r
		}
	}
	return e.fromSettings(ctx, ref)
}

// fromSettings merges the per-tool map with the global flag. Either
// source only approves once the danger warning was acknowledged.
func (e *Engine) fromSettings(ctx context.Context, ref Ref) *tool.ConfirmReason {
	order := scopeOrder(ref.Tool.RunsInWorkspace)

	source := ""
	if v, ok := e.toolFlag(ref.Tool.ID, order); ok && v {
		source = SettingAutoApprove
	} else if v, ok := e.first(SettingGlobalAutoApprove, order); ok {
		if on, _ := settings.AsBool(v); on {
			source = SettingGlobalAutoApprove
		}
	}
	if source == "" || !e.ensureOptIn(ctx) {
		return nil
	}
	r := tool.SettingDriven(source)
	return &r
}

// ensureOptIn reports whether global auto-approval was acknowledged,
// showing the warning at most once for concurrent callers.
func (e *Engine) ensureOptIn(ctx context.Context) bool {
	if on, _ := e.keys.Get(ContextKeyTestMode).(bool); on {
		return true
	}
	if ok, err := e.storage.Bool(StorageKeyAutoApproveOptIn, settings.StorageApplication); err == nil && ok {
		return true
	}

	v, _, _ := e.prompts.Do("auto-approve-opt-in", func() (any, error) {
		if ok, err := e.storage.Bool(StorageKeyAutoApproveOptIn, settings.StorageApplication); err == nil && ok {
			return true, nil
		}
		dialog := e.Dialog()
		if dialog == nil {
			return false, nil
		}
		accepted, err := dialog.ConfirmAutoApprove(ctx)
		if err != nil {
			e.logger.Warn("auto-approve warning failed", "error", err)
			return false, nil
		}
		if e.audit != nil {
			e.audit.Log(security.AuditEvent{
				Type:     security.EventAutoApproveIn,
				Metadata: map[string]string{"accepted": strconv.FormatBool(accepted)},
			})
		}
		if !accepted {
			return false, nil
		}
		if err := e.storage.SetBool(StorageKeyAutoApproveOptIn, true, settings.StorageApplication); err != nil {
			e.logger.Warn("persisting auto-approve opt-in failed", "error", err)
		}
		return true, nil
	})
	ok, _ := v.(bool)
	return ok
}

// scopeOrder picks the settings layers consulted for a tool. Tools that
// run in the workspace prefer workspace-side values over machine-local
// ones, local tools only read machine-local values, and unknown tools use
// the effective value.
func scopeOrder(runsInWorkspace *bool) []settings.Scope {
	switch {
	case runsInWorkspace == nil:
		return nil
	case *runsInWorkspace:
		return []settings.Scope{
			settings.ScopeWorkspaceFolder,
			settings.ScopeWorkspace,
			settings.ScopeUserRemote,
			settings.ScopeUserLocal,
			settings.ScopeApplication,
			settings.ScopeUser,
			settings.ScopeDefault,
		}
	default:
		return []settings.Scope{
			settings.ScopeUserLocal,
			settings.ScopeApplication,
			settings.ScopeUser,
			settings.ScopeDefault,
		}
	}
}

func (e *Engine) first(key string, order []settings.Scope) (any, bool) {
	insp := e.settings.Inspect(key)
	if order == nil {
		return insp.Effective()
	}
	return insp.First(order...)
}

// toolFlag reads toolID from the per-tool auto-approve map, taking the
// first layer that mentions the tool.
func (e *Engine) toolFlag(toolID string, order []settings.Scope) (bool, bool) {
	insp := e.settings.Inspect(SettingAutoApprove)
	if order == nil {
		order = []settings.Scope{
			settings.ScopeWorkspaceFolder,
			settings.ScopeWorkspace,
			settings.ScopeUserRemote,
			settings.ScopeUserLocal,
			settings.ScopeUser,
			settings.ScopeApplication,
			settings.ScopeDefault,
		}
	}
	for _, scope := range order {
		raw, ok := insp.Value(scope)
		if !ok {
			continue
		}
		if v, ok := settings.AsBoolMap(raw)[toolID]; ok {
			return v, true
		}
	}
	return false, false
}
