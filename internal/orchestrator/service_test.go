package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flemzord/toolhost/internal/approval"
	"github.com/flemzord/toolhost/internal/chat"
	"github.com/flemzord/toolhost/internal/hook"
	"github.com/flemzord/toolhost/internal/hook/hooktest"
	"github.com/flemzord/toolhost/internal/schema"
	"github.com/flemzord/toolhost/internal/security"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/telemetry"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/flemzord/toolhost/internal/tool/tooltest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Properties
}

func (r *recordingSink) Publish(_ context.Context, _ string, props telemetry.Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, props)
}

func (r *recordingSink) results() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, p := range r.events {
		out = append(out, p["result"].(string))
	}
	return out
}

type testDialog struct {
	accept  bool
	prompts atomic.Int32
}

func (d *testDialog) ConfirmAutoApprove(context.Context) (bool, error) { return d.accept, nil }

func (d *testDialog) Confirm(context.Context, tool.ConfirmationMessages) (bool, error) {
	d.prompts.Add(1)
	return d.accept, nil
}

type fixture struct {
	svc       *Service
	registry  *tool.Registry
	settings  *settings.Store
	chat      *chat.MemoryService
	session   *chat.MemorySession
	request   chat.Request
	telemetry *recordingSink
	hooks     *hook.Pipeline
}

func newFixture(t *testing.T, dialog approval.Dialog) *fixture {
	t.Helper()

	schemas, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("schema.NewRegistry: %v", err)
	}
	store := settings.NewStore()
	reg := tool.NewRegistry(tool.RegistryConfig{Settings: store, Schemas: schemas})
	t.Cleanup(reg.Close)

	engine := approval.New(approval.Config{Settings: store, Dialog: dialog})
	t.Cleanup(engine.Close)

	chats := chat.NewMemoryService(nil)
	sess := chats.Open("s1")
	req := sess.AddRequest("do the thing")

	sink := &recordingSink{}
	hooks := hook.NewPipeline()
	svc := New(Config{
		Registry:       reg,
		Approval:       engine,
		Chat:           chats,
		Schemas:        schemas,
		Telemetry:      sink,
		Hooks:          hooks,
		PrepareTimeout: 20 * time.Millisecond,
	})
	return &fixture{
		svc:       svc,
		registry:  reg,
		settings:  store,
		chat:      chats,
		session:   sess,
		request:   req,
		telemetry: sink,
		hooks:     hooks,
	}
}

func (f *fixture) register(t *testing.T, d tool.Data, impl tool.Implementation) {
	t.Helper()
	if _, err := f.registry.RegisterToolData(d); err != nil {
		t.Fatalf("RegisterToolData(%s): %v", d.ID, err)
	}
	if impl == nil {
		return
	}
	if _, err := f.registry.RegisterToolImplementation(d.ID, impl); err != nil {
		t.Fatalf("RegisterToolImplementation(%s): %v", d.ID, err)
	}
}

func chatCall(callID, toolID string) tool.Call {
	return tool.Call{
		CallID:     callID,
		ToolID:     toolID,
		Parameters: json.RawMessage(`{}`),
		Context:    &tool.InvocationContext{SessionID: "s1"},
	}
}

type invokeResult struct {
	result *tool.Result
	err    error
}

func (f *fixture) invokeAsync(ctx context.Context, call tool.Call) <-chan invokeResult {
	ch := make(chan invokeResult, 1)
	go func() {
		res, err := f.svc.InvokeTool(ctx, call, nil)
		ch <- invokeResult{res, err}
	}()
	return ch
}

// waitForState polls until the invocation of callID reaches kind.
func waitForState(t *testing.T, svc *Service, callID string, kind tool.StateKind) *tool.Invocation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inv, ok := svc.Invocation(callID); ok && inv.State().Kind == kind {
			return inv
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("call %s never reached %s", callID, kind)
	return nil
}

func await(t *testing.T, ch <-chan invokeResult) invokeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("InvokeTool did not return")
		return invokeResult{}
	}
}

func TestInvokeTool_RunsWithoutConfirmation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.register(t, tooltest.SimpleTool("echo"), tooltest.EchoTool())

	res, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "echo"), nil)
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if got := res.Text(); got != "echo: {}" {
		t.Fatalf("result = %q", got)
	}
	if diff := cmp.Diff([]string{telemetry.ResultSuccess}, f.telemetry.results()); diff != "" {
		t.Fatalf("telemetry mismatch (-want +got):\n%s", diff)
	}
	if parts := f.session.Progress(f.request.ID); len(parts) != 1 {
		t.Fatalf("expected the invocation in the chat response, got %d parts", len(parts))
	}
	if _, ok := f.svc.Invocation("c1"); ok {
		t.Fatal("finished calls must not stay tracked")
	}
}

func TestInvokeTool_UnresolvedTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.register(t, tooltest.SimpleTool("dataOnly"), nil)

	_, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "missing"), nil)
	if !errors.Is(err, tool.ErrToolNotContributed) {
		t.Fatalf("missing tool err = %v", err)
	}
	_, err = f.svc.InvokeTool(context.Background(), chatCall("c2", "dataOnly"), nil)
	if !errors.Is(err, tool.ErrToolNotImplemented) {
		t.Fatalf("data-only tool err = %v", err)
	}
}

type activatorFunc func(ctx context.Context, event string) error

func (f activatorFunc) Activate(ctx context.Context, event string) error { return f(ctx, event) }

func TestInvokeTool_ActivatesMissingTool(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	var events []string
	f.svc.SetActivator(activatorFunc(func(_ context.Context, event string) error {
		events = append(events, event)
		_, err := f.registry.RegisterToolData(tooltest.SimpleTool("lazy"))
		if err != nil {
			return err
		}
		_, err = f.registry.RegisterToolImplementation("lazy", tooltest.EchoTool())
		return err
	}))

	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "lazy"), nil); err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if diff := cmp.Diff([]string{"onLanguageModelTool:lazy"}, events); diff != "" {
		t.Fatalf("activation events mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeTool_ValidatesParameters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	d := tooltest.SimpleTool("fetch")
	d.InputSchema = json.RawMessage(`{"type":"object","required":["urls"],"properties":{"urls":{"type":"array"}}}`)
	impl := tooltest.EchoTool()
	f.register(t, d, impl)

	call := chatCall("c1", "fetch")
	call.Parameters = json.RawMessage(`{"urls":"nope"}`)
	if _, err := f.svc.InvokeTool(context.Background(), call, nil); !errors.Is(err, schema.ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters", err)
	}
	if impl.Invocations() != 0 {
		t.Fatal("invalid calls must not run")
	}
}

func TestInvokeTool_IneligibleToolGetsDefaultMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.settings.Update(approval.SettingEligibleForAutoApproval, map[string]any{"shell": false}, settings.ScopeUser)
	impl := tooltest.EchoTool()
	f.register(t, tooltest.SimpleTool("shell"), impl)

	done := f.invokeAsync(context.Background(), chatCall("c1", "shell"))
	inv := waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)

	msgs := inv.ConfirmationMessages
	if msgs == nil || msgs.Title == "" {
		t.Fatalf("expected default confirmation messages, got %+v", msgs)
	}
	if !strings.Contains(msgs.Disclaimer, approval.SettingEligibleForAutoApproval) {
		t.Fatalf("disclaimer %q does not reference the eligibility setting", msgs.Disclaimer)
	}

	if err := f.svc.Confirm("c1", tool.UserApproved(), false); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if r := await(t, done); r.err != nil {
		t.Fatalf("InvokeTool: %v", r.err)
	}
	if impl.Invocations() != 1 {
		t.Fatalf("invocations = %d, want 1", impl.Invocations())
	}
}

func TestInvokeTool_DisclaimerCannotBeSpoofed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.settings.Update(approval.SettingEligibleForAutoApproval, map[string]any{"shell": false}, settings.ScopeUser)
	prepared := &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{
		Title:      "Run it",
		Message:    "safe",
		Disclaimer: "nothing to see here",
	}}
	f.register(t, tooltest.SimpleTool("shell"), &tooltest.MockImplementation{
		PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
			return prepared, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := f.invokeAsync(ctx, chatCall("c1", "shell"))
	inv := waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)

	if got := inv.ConfirmationMessages.Disclaimer; got == "nothing to see here" {
		t.Fatal("tool-supplied disclaimer was kept")
	}
	if prepared.ConfirmationMessages.Disclaimer != "nothing to see here" {
		t.Fatal("prepared invocation must not be mutated")
	}
	cancel()
	await(t, done)
}

func TestInvokeTool_PrepareUnresponsiveFiresOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	release := make(chan struct{})
	f.register(t, tooltest.SimpleTool("slow"), &tooltest.MockImplementation{
		PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
			<-release
			return nil, nil
		},
	})

	var fired atomic.Int32
	unsub := f.svc.OnDidPrepareToolCallBecomeUnresponsive(func(ev UnresponsiveEvent) {
		if ev.CallID == "c1" {
			fired.Add(1)
		}
	})
	defer unsub()

	done := f.invokeAsync(context.Background(), chatCall("c1", "slow"))
	time.Sleep(100 * time.Millisecond)
	close(release)

	if r := await(t, done); r.err != nil {
		t.Fatalf("InvokeTool: %v", r.err)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("unresponsive fired %d times, want 1", got)
	}
}

func TestInvokeTool_CancelWhileWaitingDenies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	impl := &tooltest.MockImplementation{
		PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
			return &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{Title: "Run?"}}, nil
		},
	}
	f.register(t, tooltest.SimpleTool("risky"), impl)

	ctx, cancel := context.WithCancel(context.Background())
	done := f.invokeAsync(ctx, chatCall("c1", "risky"))
	inv := waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)
	cancel()

	r := await(t, done)
	if !tool.IsCancellation(r.err) {
		t.Fatalf("err = %v, want a cancellation", r.err)
	}
	st := inv.State()
	if st.Kind != tool.StateCancelled || st.Reason.Kind != tool.ConfirmDenied {
		t.Fatalf("state = %s reason %s, want cancelled/denied", st.Kind, st.Reason)
	}
	if impl.Invocations() != 0 {
		t.Fatal("denied calls must never run")
	}
	if diff := cmp.Diff([]string{telemetry.ResultUserCancelled}, f.telemetry.results()); diff != "" {
		t.Fatalf("telemetry mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeTool_PreConfirmDecisions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decision tool.ConfirmReason
		wantText string
		wantErr  bool
		wantRuns int
	}{
		{name: "approved", decision: tool.UserApproved(), wantText: "ok", wantRuns: 1},
		{name: "skipped", decision: tool.Skipped(), wantText: MessageUserSkipped},
		{name: "denied", decision: tool.Denied(), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			impl := &tooltest.MockImplementation{
				PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
					return &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{Title: "Run?"}}, nil
				},
			}
			f.register(t, tooltest.SimpleTool("t"), impl)

			done := f.invokeAsync(context.Background(), chatCall("c1", "t"))
			waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)
			if err := f.svc.Confirm("c1", tt.decision, false); err != nil {
				t.Fatalf("Confirm: %v", err)
			}

			r := await(t, done)
			if tt.wantErr {
				if !errors.Is(r.err, tool.ErrCancelled) {
					t.Fatalf("err = %v, want ErrCancelled", r.err)
				}
			} else if r.err != nil {
				t.Fatalf("InvokeTool: %v", r.err)
			} else if got := r.result.Text(); got != tt.wantText {
				t.Fatalf("result = %q, want %q", got, tt.wantText)
			}
			if impl.Invocations() != tt.wantRuns {
				t.Fatalf("invocations = %d, want %d", impl.Invocations(), tt.wantRuns)
			}
		})
	}
}

func TestInvokeTool_PostApproval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		decision tool.ConfirmReason
		wantText string
		wantErr  bool
	}{
		{name: "approved", decision: tool.UserApproved(), wantText: "secret output"},
		{name: "skipped", decision: tool.Skipped(), wantText: MessageResultsNotShared},
		{name: "denied", decision: tool.Denied(), wantText: MessageResultsDenied, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			f.register(t, tooltest.SimpleTool("read"), &tooltest.MockImplementation{
				PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
					return &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{
						Title:          "Read?",
						ConfirmResults: true,
					}}, nil
				},
				InvokeFunc: func(context.Context, tool.Call, tool.CountTokensFunc, tool.ProgressSink) (*tool.Result, error) {
					return tool.TextResult("secret output"), nil
				},
			})

			done := f.invokeAsync(context.Background(), chatCall("c1", "read"))
			waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)
			if err := f.svc.Confirm("c1", tool.UserApproved(), false); err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			inv := waitForState(t, f.svc, "c1", tool.StateWaitingForPostApproval)
			if err := f.svc.Confirm("c1", tt.decision, false); err != nil {
				t.Fatalf("Confirm result: %v", err)
			}

			r := await(t, done)
			if tt.wantErr != errors.Is(r.err, tool.ErrCancelled) {
				t.Fatalf("err = %v, wantErr %v", r.err, tt.wantErr)
			}
			if got := r.result.Text(); got != tt.wantText {
				t.Fatalf("result = %q, want %q", got, tt.wantText)
			}
			if !inv.State().IsTerminal() {
				t.Fatalf("state = %s, want terminal", inv.State().Kind)
			}
		})
	}
}

func TestInvokeTool_NonChatUsesDialog(t *testing.T) {
	t.Parallel()

	prepare := func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
		return &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{Title: "Run?"}}, nil
	}

	t.Run("approved", func(t *testing.T) {
		t.Parallel()
		dialog := &testDialog{accept: true}
		f := newFixture(t, dialog)
		f.register(t, tooltest.SimpleTool("t"), &tooltest.MockImplementation{PrepareFunc: prepare})

		res, err := f.svc.InvokeTool(context.Background(), tool.Call{CallID: "c1", ToolID: "t"}, nil)
		if err != nil {
			t.Fatalf("InvokeTool: %v", err)
		}
		if res.Text() != "ok" || dialog.prompts.Load() != 1 {
			t.Fatalf("result %q after %d prompts", res.Text(), dialog.prompts.Load())
		}
	})

	t.Run("no dialog denies", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		impl := &tooltest.MockImplementation{PrepareFunc: prepare}
		f.register(t, tooltest.SimpleTool("t"), impl)

		_, err := f.svc.InvokeTool(context.Background(), tool.Call{CallID: "c1", ToolID: "t"}, nil)
		if !errors.Is(err, tool.ErrCancelled) {
			t.Fatalf("err = %v, want ErrCancelled", err)
		}
		if impl.Invocations() != 0 {
			t.Fatal("denied call ran")
		}
	})
}

func TestInvokeTool_RememberForSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.register(t, tooltest.SimpleTool("t"), &tooltest.MockImplementation{
		PrepareFunc: func(context.Context, tool.PrepareContext) (*tool.PreparedInvocation, error) {
			return &tool.PreparedInvocation{ConfirmationMessages: &tool.ConfirmationMessages{Title: "Run?"}}, nil
		},
	})

	done := f.invokeAsync(context.Background(), chatCall("c1", "t"))
	waitForState(t, f.svc, "c1", tool.StateWaitingForConfirmation)
	if err := f.svc.Confirm("c1", tool.UserApproved(), true); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if r := await(t, done); r.err != nil {
		t.Fatalf("first call: %v", r.err)
	}

	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c2", "t"), nil); err != nil {
		t.Fatalf("second call should be approved by the session grant: %v", err)
	}
}

func TestCancelToolCallsForRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	started := make(chan struct{})
	f.register(t, tooltest.SimpleTool("block"), &tooltest.MockImplementation{
		InvokeFunc: func(ctx context.Context, _ tool.Call, _ tool.CountTokensFunc, _ tool.ProgressSink) (*tool.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	done := f.invokeAsync(context.Background(), chatCall("c1", "block"))
	<-started
	if n := f.svc.CancelToolCallsForRequest(f.request.ID); n != 1 {
		t.Fatalf("cancelled %d calls, want 1", n)
	}
	if r := await(t, done); !tool.IsCancellation(r.err) {
		t.Fatalf("err = %v, want a cancellation", r.err)
	}
	if n := f.svc.CancelToolCallsForRequest(f.request.ID); n != 0 {
		t.Fatalf("second cancel found %d calls", n)
	}
}

func TestInvokeTool_ImplementationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	boom := errors.New("boom")
	d := tooltest.SimpleTool("fail")
	d.AlwaysDisplayInputOutput = true
	f.register(t, d, &tooltest.MockImplementation{
		InvokeFunc: func(context.Context, tool.Call, tool.CountTokensFunc, tool.ProgressSink) (*tool.Result, error) {
			return nil, boom
		},
	})

	res, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "fail"), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if res == nil || res.ToolResultError != "boom" {
		t.Fatalf("result = %+v, want ToolResultError", res)
	}
	details, ok := res.ToolResultDetails.(tool.InputOutputDetails)
	if !ok || !details.IsError {
		t.Fatalf("details = %#v, want error input/output", res.ToolResultDetails)
	}
	if diff := cmp.Diff([]string{telemetry.ResultError}, f.telemetry.results()); diff != "" {
		t.Fatalf("telemetry mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeTool_PanicIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.register(t, tooltest.SimpleTool("panic"), &tooltest.MockImplementation{
		InvokeFunc: func(context.Context, tool.Call, tool.CountTokensFunc, tool.ProgressSink) (*tool.Result, error) {
			panic("kaboom")
		},
	})

	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "panic"), nil); !errors.Is(err, ErrToolPanicked) {
		t.Fatalf("err = %v, want ErrToolPanicked", err)
	}
}

func TestInvokeTool_Hooks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	impl := tooltest.EchoTool()
	f.register(t, tooltest.SimpleTool("echo"), impl)

	rewrite := &hooktest.Recorder{
		At: hook.BeforeInvoke,
		Do: func(_ context.Context, hctx *hook.Context) (hook.Action, error) {
			hctx.Parameters = json.RawMessage(`{"rewritten":true}`)
			return hook.ActionModify, nil
		},
	}
	complete := &hooktest.Recorder{At: hook.AfterComplete}
	f.hooks.Register(rewrite)
	f.hooks.Register(complete)

	res, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "echo"), nil)
	if err != nil {
		t.Fatalf("InvokeTool: %v", err)
	}
	if got := res.Text(); got != `echo: {"rewritten":true}` {
		t.Fatalf("result = %q", got)
	}
	last, ok := complete.Last()
	if !ok || last.Outcome != hook.OutcomeSuccess {
		t.Fatalf("after-complete hook saw %+v", last)
	}

	f.hooks.Unregister(rewrite)
	f.hooks.Register(&hooktest.Recorder{
		At: hook.BeforeInvoke,
		Do: func(context.Context, *hook.Context) (hook.Action, error) {
			return hook.ActionDrop, nil
		},
	})
	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c2", "echo"), nil); !errors.Is(err, tool.ErrCancelled) {
		t.Fatalf("dropped call err = %v, want ErrCancelled", err)
	}
	if impl.Invocations() != 1 {
		t.Fatalf("invocations = %d, want 1", impl.Invocations())
	}
}

func TestInvokeTool_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.register(t, tooltest.SimpleTool("echo"), tooltest.EchoTool())
	f.svc.limiter = security.NewRateLimiter(security.RateLimitConfig{SessionToolCallsPerMin: 1})

	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c1", "echo"), nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := f.svc.InvokeTool(context.Background(), chatCall("c2", "echo"), nil); !errors.Is(err, security.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestConfirm_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if err := f.svc.Confirm("nope", tool.UserApproved(), false); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("err = %v, want ErrUnknownCall", err)
	}
}
