// Package orchestrator runs tool calls end to end: it resolves the tool,
// prepares the call, gates it on confirmation, executes it, gates the
// result and reports what happened.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/flemzord/toolhost/internal/approval"
	"github.com/flemzord/toolhost/internal/chat"
	"github.com/flemzord/toolhost/internal/hook"
	"github.com/flemzord/toolhost/internal/observable"
	"github.com/flemzord/toolhost/internal/schema"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/telemetry"
	"github.com/flemzord/toolhost/internal/tool"
)

// PrepareUnresponsiveTimeout is how long PrepareInvocation may run before
// the call is reported as unresponsive. The call keeps waiting.
const PrepareUnresponsiveTimeout = 3 * time.Second

// Canned results returned to the model in place of tool output.
const (
	MessageUserSkipped      = "The user chose to skip the tool call, they want to proceed without running it"
	MessageResultsNotShared = "The tool executed but the user chose not to share its results"
	MessageResultsDenied    = "The tool executed but the user denied sharing its results"
)

// ActivationEventPrefix prefixes the activation event of a tool ID.
const ActivationEventPrefix = "onLanguageModelTool:"

// ActivationEvent returns the event that asks extension hosts to
// contribute toolID.
func ActivationEvent(toolID string) string {
	return ActivationEventPrefix + toolID
}

// Activator wakes up whoever contributes the tools of an activation
// event.
type Activator interface {
	Activate(ctx context.Context, event string) error
}

// UnresponsiveEvent reports a PrepareInvocation still running after the
// prepare timeout.
type UnresponsiveEvent struct {
	ToolID  string
	CallID  string
	Elapsed time.Duration
}

// Config holds the collaborators of a Service. Registry is required; the
// other fields get defaults or are skipped when nil.
type Config struct {
	Registry    *tool.Registry
	Approval    *approval.Engine
	Chat        chat.Service
	Activator   Activator
	Schemas     *schema.Registry
	Telemetry   telemetry.Sink
	Audit       *security.AuditLogger
	RateLimiter *security.RateLimiter
	Hooks       *hook.Pipeline
	Logger      *slog.Logger

	// PrepareTimeout overrides PrepareUnresponsiveTimeout when positive.
	PrepareTimeout time.Duration
}

type tracked struct {
	callID    string
	requestID string
	cancel    context.CancelFunc

	mu  sync.Mutex
	inv *tool.Invocation
}

func (t *tracked) invocation() *tool.Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inv
}

// Service is the tools orchestrator. It is safe for concurrent use.
type Service struct {
	registry       *tool.Registry
	approval       *approval.Engine
	chat           chat.Service
	activator      Activator
	schemas        *schema.Registry
	telemetry      telemetry.Sink
	audit          *security.AuditLogger
	limiter        *security.RateLimiter
	hooks          *hook.Pipeline
	logger         *slog.Logger
	prepareTimeout time.Duration

	mu        sync.Mutex
	calls     map[string]*tracked
	byRequest map[string]map[string]*tracked

	activations  singleflight.Group
	unresponsive *observable.Value[UnresponsiveEvent]
}

// New creates a Service.
func New(cfg Config) *Service {
	s := &Service{
		registry:       cfg.Registry,
		approval:       cfg.Approval,
		chat:           cfg.Chat,
		activator:      cfg.Activator,
		schemas:        cfg.Schemas,
		telemetry:      cfg.Telemetry,
		audit:          cfg.Audit,
		limiter:        cfg.RateLimiter,
		hooks:          cfg.Hooks,
		logger:         cfg.Logger,
		prepareTimeout: cmp.Or(cfg.PrepareTimeout, PrepareUnresponsiveTimeout),
		calls:          make(map[string]*tracked),
		byRequest:      make(map[string]map[string]*tracked),
		unresponsive:   observable.NewValue(UnresponsiveEvent{}),
	}
	if s.registry == nil {
		s.registry = tool.NewRegistry(tool.RegistryConfig{})
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "orchestrator")
	if s.approval == nil {
		s.approval = approval.New(approval.Config{Logger: cfg.Logger})
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.Nop
	}
	return s
}

// Registry returns the tool registry.
func (s *Service) Registry() *tool.Registry {
	return s.registry
}

// Approval returns the confirmation policy engine.
func (s *Service) Approval() *approval.Engine {
	return s.approval
}

// SetActivator replaces the activator. Used when the remote proxy is
// created after the orchestrator.
func (s *Service) SetActivator(a Activator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activator = a
}

// OnDidPrepareToolCallBecomeUnresponsive registers fn for prepare calls
// that exceed the prepare timeout.
func (s *Service) OnDidPrepareToolCallBecomeUnresponsive(fn func(UnresponsiveEvent)) (unsubscribe func()) {
	return s.unresponsive.Subscribe(fn)
}

// CreateToolSet creates a tool set in the registry.
func (s *Service) CreateToolSet(source tool.Source, id, referenceName string, opts tool.ToolSetOptions) (*tool.ToolSet, error) {
	return s.registry.CreateToolSet(source, id, referenceName, opts)
}

// ToToolAndToolSetEnablementMap converts qualified names to an
// enablement map.
func (s *Service) ToToolAndToolSetEnablementMap(names []string, target tool.Target) tool.EnablementMap {
	return s.registry.ToToolAndToolSetEnablementMap(names, target)
}

// ToQualifiedToolNames converts an enablement map back to qualified names.
func (s *Service) ToQualifiedToolNames(m tool.EnablementMap) []string {
	return s.registry.ToQualifiedToolNames(m)
}

// Invocation returns the live invocation of callID.
func (s *Service) Invocation(callID string) (*tool.Invocation, bool) {
	s.mu.Lock()
	t, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	inv := t.invocation()
	return inv, inv != nil
}

// Invocations returns the live invocations attached to requestID.
func (s *Service) Invocations(requestID string) []*tool.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*tool.Invocation
	for _, t := range s.byRequest[requestID] {
		if inv := t.invocation(); inv != nil {
			out = append(out, inv)
		}
	}
	return out
}

// CancelToolCallsForRequest cancels every call in flight for requestID.
// Calls still waiting for confirmation end as denied.
func (s *Service) CancelToolCallsForRequest(requestID string) int {
	s.mu.Lock()
	calls := s.byRequest[requestID]
	delete(s.byRequest, requestID)
	s.mu.Unlock()

	for _, t := range calls {
		t.cancel()
	}
	if len(calls) > 0 {
		s.logger.Info("cancelled tool calls for request", "request_id", requestID, "count", len(calls))
	}
	return len(calls)
}

// Confirm resolves whichever approval gate the invocation of callID waits
// at. When rememberForSession is set and the user approved, later calls of
// the same tool in the same chat session skip confirmation.
func (s *Service) Confirm(callID string, reason tool.ConfirmReason, rememberForSession bool) error {
	inv, ok := s.Invocation(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, callID)
	}

	evType := security.EventApproval
	var resolved bool
	switch inv.State().Kind {
	case tool.StateWaitingForConfirmation:
		resolved = inv.Confirm(reason)
	case tool.StateWaitingForPostApproval:
		evType = security.EventResultReview
		resolved = inv.ConfirmResult(reason)
	}
	if !resolved {
		return fmt.Errorf("%w: %s", ErrNotWaiting, callID)
	}

	if rememberForSession && reason.Kind == tool.ConfirmUserApproved && inv.ChatSessionID != "" {
		s.approval.Grants().Grant(inv.ChatSessionID, inv.ToolID, 0)
	}
	s.auditDecision(evType, inv, reason, "user")
	return nil
}

// InvokeTool runs call. It returns tool.ErrCancelled (wrapped) when the
// caller cancels, the user denies the call or denies sharing its result.
// Implementation errors are returned unchanged alongside a result whose
// ToolResultError describes them.
func (s *Service) InvokeTool(ctx context.Context, call tool.Call, countTokens tool.CountTokensFunc) (result *tool.Result, err error) {
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}
	ctx, span := telemetry.Tracer().Start(ctx, "toolhost.InvokeTool",
		trace.WithAttributes(
			attribute.String("tool.id", call.ToolID),
			attribute.String("tool.call_id", call.CallID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := s.allow(call); err != nil {
		return nil, err
	}

	data, impl, err := s.resolve(ctx, call.ToolID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tool.source", data.Source.String()))

	if s.schemas != nil {
		if err := s.schemas.Validate(data.ID, call.Parameters); err != nil {
			return nil, err
		}
	}

	var session chat.Session
	if call.Context != nil && s.chat != nil {
		if sess, ok := s.chat.Session(call.Context.SessionID); ok {
			session = sess
			if req, ok := chat.LastRequest(sess); ok {
				call.ChatRequestID = req.ID
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := &tracked{callID: call.CallID, requestID: call.ChatRequestID, cancel: cancel}
	if err := s.track(t); err != nil {
		return nil, err
	}
	defer s.untrack(t)

	s.logAudit(security.AuditEvent{
		Type:      security.EventToolCall,
		SessionID: sessionID(call),
		RequestID: call.ChatRequestID,
		CallID:    call.CallID,
		ToolID:    data.ID,
		Metadata:  map[string]string{"source": data.Source.String()},
	})

	r := &run{
		s:           s,
		data:        data,
		impl:        impl,
		call:        call,
		session:     session,
		countTokens: countTokens,
		tracked:     t,
		start:       time.Now(),
		hctx: &hook.Context{
			Tool:       data,
			Call:       call,
			Parameters: call.Parameters,
			Metadata:   make(map[string]any),
			Logger:     s.logger,
		},
	}
	defer func() { result, err = r.finish(ctx, result, err) }()
	return r.execute(ctx)
}

// run holds the state of one InvokeTool call.
type run struct {
	s           *Service
	data        tool.Data
	impl        tool.Implementation
	call        tool.Call
	session     chat.Session
	countTokens tool.CountTokensFunc
	tracked     *tracked
	hctx        *hook.Context

	inv         *tool.Invocation
	start       time.Time
	prepareTime time.Duration
	invokeTime  time.Duration
	declined    bool
}

func (r *run) execute(ctx context.Context) (*tool.Result, error) {
	s := r.s

	prepareStart := time.Now()
	prepared, err := s.prepare(ctx, r.data, r.impl, r.call)
	r.prepareTime = time.Since(prepareStart)
	if err != nil {
		return nil, err
	}
	prepared = s.withConfirmationMessages(r.data, r.call, prepared)

	inv := tool.NewInvocation(r.data, r.call, prepared)
	r.inv = inv
	r.tracked.mu.Lock()
	r.tracked.inv = inv
	r.tracked.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		inv.Confirm(tool.Denied())
		inv.ConfirmResult(tool.Denied())
	})
	defer stop()

	if r.attached() {
		if err := r.session.AcceptResponseProgress(r.call.ChatRequestID, chat.InvocationPart{Invocation: inv}); err != nil {
			s.logger.Warn("attaching invocation to chat failed", "call_id", r.call.CallID, "error", err)
		}
	}

	reason, err := r.confirm(ctx)
	if err != nil {
		return nil, err
	}
	switch reason.Kind {
	case tool.ConfirmSkipped:
		r.declined = true
		return tool.TextResult(MessageUserSkipped), nil
	case tool.ConfirmDenied:
		return nil, fmt.Errorf("%w: %s denied by user", tool.ErrCancelled, r.call.CallID)
	}

	call := r.call
	call.Parameters = inv.Parameters()
	r.hctx.Parameters = call.Parameters
	if s.hooks.RunBeforeInvoke(ctx, r.hctx) == hook.ActionDrop {
		return nil, fmt.Errorf("%w: %s dropped by hook", tool.ErrCancelled, call.CallID)
	}
	call.Parameters = r.hctx.Parameters
	r.hctx.Call = call

	invokeStart := time.Now()
	result, err := s.invoke(ctx, r.impl, call, r.countTokens, inv.AcceptProgress)
	r.invokeTime = time.Since(invokeStart)
	if err != nil {
		return result, err
	}
	if result == nil {
		result = &tool.Result{}
	}
	if r.data.AlwaysDisplayInputOutput && result.ToolResultDetails == nil {
		result.ToolResultDetails = tool.SynthesizeInputOutput(call.Parameters, result, nil)
	}

	r.hctx.Result = result
	s.hooks.RunAfterInvoke(ctx, r.hctx)
	result = r.hctx.Result

	inv.DidExecuteTool(result, false)
	if inv.State().Kind != tool.StateWaitingForPostApproval {
		return result, nil
	}
	return r.confirmResult(ctx, result)
}

// attached reports whether the invocation is shown in a chat response,
// where the user resolves its gates.
func (r *run) attached() bool {
	return r.session != nil && r.call.ChatRequestID != ""
}

// confirm resolves the pre-execution gate: policy first, then the chat UI
// or the dialog.
func (r *run) confirm(ctx context.Context) (tool.ConfirmReason, error) {
	s, inv := r.s, r.inv
	if inv.State().Kind == tool.StateWaitingForConfirmation {
		ref := approval.Ref{
			Tool:          r.data,
			CallID:        r.call.CallID,
			Parameters:    inv.Parameters(),
			ChatSessionID: inv.ChatSessionID,
		}
		if reason := s.approval.PreConfirm(ctx, ref); reason != nil {
			if inv.Confirm(*reason) {
				s.auditDecision(security.EventApproval, inv, *reason, "policy")
			}
		} else if !r.attached() {
			go r.askDialog(ctx, *inv.ConfirmationMessages, inv.Confirm, security.EventApproval)
		}
	}

	reason, err := inv.WaitForConfirmation(ctx)
	if err != nil {
		return tool.Denied(), nil
	}
	return reason, nil
}

// confirmResult resolves the post-execution gate.
func (r *run) confirmResult(ctx context.Context, result *tool.Result) (*tool.Result, error) {
	s, inv := r.s, r.inv
	ref := approval.Ref{
		Tool:          r.data,
		CallID:        r.call.CallID,
		Parameters:    inv.Parameters(),
		ChatSessionID: inv.ChatSessionID,
	}
	if reason := s.approval.PostConfirm(ctx, ref); reason != nil {
		if inv.ConfirmResult(*reason) {
			s.auditDecision(security.EventResultReview, inv, *reason, "policy")
		}
	} else if !r.attached() {
		msgs := tool.ConfirmationMessages{
			Title:   "Share the result of " + cmp.Or(r.data.DisplayName, r.data.ID) + "?",
			Message: result.Text(),
		}
		go r.askDialog(ctx, msgs, inv.ConfirmResult, security.EventResultReview)
	}

	reason, err := inv.WaitForPostApproval(ctx)
	if err != nil {
		reason = tool.Denied()
	}
	switch reason.Kind {
	case tool.ConfirmSkipped:
		r.declined = true
		return tool.TextResult(MessageResultsNotShared), nil
	case tool.ConfirmDenied:
		return tool.TextResult(MessageResultsDenied), fmt.Errorf("%w: %s result denied by user", tool.ErrCancelled, r.call.CallID)
	}
	return result, nil
}

// askDialog prompts through the approval dialog for calls outside a chat.
// Without a dialog the call is denied.
func (r *run) askDialog(ctx context.Context, msgs tool.ConfirmationMessages, resolve func(tool.ConfirmReason) bool, evType security.EventType) {
	reason := tool.Denied()
	if d := r.s.approval.Dialog(); d != nil {
		ok, err := d.Confirm(ctx, msgs)
		if err != nil && ctx.Err() == nil {
			r.s.logger.Warn("confirmation dialog failed", "call_id", r.call.CallID, "error", err)
		}
		if ok && err == nil {
			reason = tool.UserApproved()
		}
	}
	if resolve(reason) {
		r.s.auditDecision(evType, r.inv, reason, "dialog")
	}
}

// finish runs once per call, whatever the outcome.
func (r *run) finish(ctx context.Context, result *tool.Result, err error) (*tool.Result, error) {
	s := r.s

	outcome := telemetry.ResultSuccess
	hookOutcome := hook.OutcomeSuccess
	switch {
	case err != nil && tool.IsCancellation(err):
		outcome = telemetry.ResultUserCancelled
		hookOutcome = hook.OutcomeCancelled
	case err != nil:
		outcome = telemetry.ResultError
		hookOutcome = hook.OutcomeError
		if result == nil {
			result = &tool.Result{}
		}
		result.ToolResultError = err.Error()
		if r.data.AlwaysDisplayInputOutput && result.ToolResultDetails == nil {
			result.ToolResultDetails = tool.SynthesizeInputOutput(r.hctx.Parameters, result, err)
		}
	case r.declined:
		outcome = telemetry.ResultUserCancelled
	}

	ev := telemetry.ToolInvoked{
		Result:         outcome,
		ToolID:         r.data.ID,
		ToolSourceKind: string(r.data.Source.Kind),
		PrepareTime:    r.prepareTime,
		InvocationTime: r.invokeTime,
	}
	if r.data.Source.Kind == tool.SourceExtension {
		ev.ToolExtensionID = r.data.Source.ExtensionID
	}
	if r.session != nil {
		ev.ChatSessionID = r.session.ID()
	}
	s.telemetry.Publish(ctx, telemetry.EventToolInvoked, ev.Properties())

	if r.inv != nil {
		r.inv.DidExecuteTool(result, true)
	}

	r.hctx.Result = result
	r.hctx.Outcome = hookOutcome
	r.hctx.Err = err
	r.hctx.Duration = time.Since(r.start)
	s.hooks.RunAfterComplete(context.WithoutCancel(ctx), r.hctx)

	if err != nil && !tool.IsCancellation(err) {
		s.logger.Warn("tool call failed", "tool", r.data.ID, "call_id", r.call.CallID, "error", err)
	} else {
		s.logger.Debug("tool call finished", "tool", r.data.ID, "call_id", r.call.CallID, "result", outcome)
	}
	return result, err
}

// allow applies the global and per-session call limits.
func (s *Service) allow(call tool.Call) error {
	if s.limiter == nil {
		return nil
	}
	kind, key := security.KindToolCall, ""
	err := s.limiter.Allow(kind, key)
	if err == nil && call.Context != nil {
		kind, key = security.KindSessionToolCall, call.Context.SessionID
		err = s.limiter.Allow(kind, key)
	}
	if err != nil {
		s.logAudit(security.AuditEvent{
			Type:      security.EventRateLimit,
			SessionID: sessionID(call),
			CallID:    call.CallID,
			ToolID:    call.ToolID,
			Detail:    kind,
		})
		return fmt.Errorf("%w: %s", err, kind)
	}
	return nil
}

// resolve looks the tool up, ignoring its when clause, and activates its
// contributor once when it is missing.
func (s *Service) resolve(ctx context.Context, id string) (tool.Data, tool.Implementation, error) {
	data, impl, ok := s.registry.LookupTool(id)
	if !ok || impl == nil {
		s.activate(ctx, id)
		data, impl, ok = s.registry.LookupTool(id)
	}
	if !ok {
		return tool.Data{}, nil, fmt.Errorf("%w: %s", tool.ErrToolNotContributed, id)
	}
	if impl == nil {
		return tool.Data{}, nil, fmt.Errorf("%w: %s", tool.ErrToolNotImplemented, id)
	}
	return data, impl, nil
}

func (s *Service) activate(ctx context.Context, id string) {
	s.mu.Lock()
	a := s.activator
	s.mu.Unlock()
	if a == nil {
		return
	}

	event := ActivationEvent(id)
	ch := s.activations.DoChan(event, func() (any, error) {
		return nil, a.Activate(context.WithoutCancel(ctx), event)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("tool activation failed", "event", event, "error", res.Err)
		}
	case <-ctx.Done():
	}
}

// prepare runs PrepareInvocation, reporting the call as unresponsive once
// when it outlasts the prepare timeout.
func (s *Service) prepare(ctx context.Context, data tool.Data, impl tool.Implementation, call tool.Call) (*tool.PreparedInvocation, error) {
	type outcome struct {
		prepared *tool.PreparedInvocation
		err      error
	}
	done := make(chan outcome, 1)
	pc := tool.PrepareContext{
		CallID:        call.CallID,
		Parameters:    call.Parameters,
		ChatSessionID: sessionID(call),
		ChatRequestID: call.ChatRequestID,
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanicked, rec)}
			}
		}()
		p, err := impl.PrepareInvocation(ctx, pc)
		done <- outcome{prepared: p, err: err}
	}()

	start := time.Now()
	timer := time.NewTimer(s.prepareTimeout)
	defer timer.Stop()
	for {
		select {
		case o := <-done:
			return o.prepared, o.err
		case <-timer.C:
			ev := UnresponsiveEvent{ToolID: data.ID, CallID: call.CallID, Elapsed: time.Since(start)}
			s.logger.Warn("tool preparation is unresponsive", "tool", data.ID, "call_id", call.CallID)
			s.unresponsive.Set(ev)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", tool.ErrCancelled, context.Cause(ctx))
		}
	}
}

// invoke races the implementation against ctx. The implementation keeps
// running after ctx ends; its result is discarded.
func (s *Service) invoke(ctx context.Context, impl tool.Implementation, call tool.Call, countTokens tool.CountTokensFunc, progress tool.ProgressSink) (*tool.Result, error) {
	type outcome struct {
		result *tool.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrToolPanicked, rec)}
			}
		}()
		res, err := impl.Invoke(ctx, call, countTokens, progress)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil && errors.Is(o.err, ctx.Err()) {
			return o.result, fmt.Errorf("%w: %w", tool.ErrCancelled, o.err)
		}
		return o.result, o.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", tool.ErrCancelled, context.Cause(ctx))
	}
}

// withConfirmationMessages applies the confirmation rules that do not
// depend on the user: ineligible tools always ask with a disclaimer the
// tool cannot override, and tools asking for approval get default
// messages. prepared is never mutated.
func (s *Service) withConfirmationMessages(data tool.Data, call tool.Call, prepared *tool.PreparedInvocation) *tool.PreparedInvocation {
	eligible := s.approval.IsEligibleForAutoApproval(data)
	needsMessages := !eligible || data.CanRequestPreApproval || data.CanRequestPostApproval
	if !needsMessages {
		return prepared
	}

	var out tool.PreparedInvocation
	if prepared != nil {
		out = *prepared
	}
	var msgs tool.ConfirmationMessages
	if out.ConfirmationMessages != nil {
		msgs = *out.ConfirmationMessages
	} else {
		msgs = defaultConfirmationMessages(data, call)
	}
	if !eligible {
		msgs.Disclaimer = fmt.Sprintf("Auto approval for %q is turned off by the %s setting.",
			data.ReferenceName(), approval.SettingEligibleForAutoApproval)
	}
	if data.CanRequestPostApproval {
		msgs.ConfirmResults = true
	}
	out.ConfirmationMessages = &msgs
	return &out
}

func defaultConfirmationMessages(data tool.Data, call tool.Call) tool.ConfirmationMessages {
	name := cmp.Or(data.DisplayName, data.ID)
	msg := "Run " + name
	if len(call.Parameters) > 0 {
		msg += " with input " + string(call.Parameters)
	}
	return tool.ConfirmationMessages{
		Title:   "Run " + name + "?",
		Message: msg,
	}
}

func (s *Service) track(t *tracked) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[t.callID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCall, t.callID)
	}
	s.calls[t.callID] = t
	if t.requestID != "" {
		m := s.byRequest[t.requestID]
		if m == nil {
			m = make(map[string]*tracked)
			s.byRequest[t.requestID] = m
		}
		m[t.callID] = t
	}
	return nil
}

func (s *Service) untrack(t *tracked) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls[t.callID] == t {
		delete(s.calls, t.callID)
	}
	if m := s.byRequest[t.requestID]; m != nil {
		delete(m, t.callID)
		if len(m) == 0 {
			delete(s.byRequest, t.requestID)
		}
	}
}

func (s *Service) auditDecision(evType security.EventType, inv *tool.Invocation, reason tool.ConfirmReason, by string) {
	s.logAudit(security.AuditEvent{
		Type:      evType,
		SessionID: inv.ChatSessionID,
		RequestID: inv.ChatRequestID,
		CallID:    inv.ToolCallID,
		ToolID:    inv.ToolID,
		Detail:    reason.String(),
		Metadata: map[string]string{
			"decided_by": by,
			"proceeds":   strconv.FormatBool(reason.Proceeds()),
		},
	})
}

func (s *Service) logAudit(ev security.AuditEvent) {
	if s.audit != nil {
		s.audit.Log(ev)
	}
}

func sessionID(call tool.Call) string {
	if call.Context == nil {
		return ""
	}
	return call.Context.SessionID
}
