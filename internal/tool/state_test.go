package tool

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func confirmPrepared(confirmResults bool) *PreparedInvocation {
	return &PreparedInvocation{
		ConfirmationMessages: &ConfirmationMessages{
			Title:          "Run tool?",
			Message:        "about to run",
			ConfirmResults: confirmResults,
		},
	}
}

func recordKinds(inv *Invocation) func() []StateKind {
	var (
		mu    sync.Mutex
		kinds = []StateKind{inv.State().Kind}
	)
	inv.OnDidChangeState(func(s State) {
		mu.Lock()
		kinds = append(kinds, s.Kind)
		mu.Unlock()
	})
	return func() []StateKind {
		mu.Lock()
		defer mu.Unlock()
		return append([]StateKind(nil), kinds...)
	}
}

func TestInvocation_NoConfirmationStartsExecuting(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "read"}, Call{CallID: "c1"}, nil)
	st := inv.State()
	if st.Kind != StateExecuting || st.Confirmed != NotNeeded() {
		t.Fatalf("initial state = %+v, want executing/notNeeded", st)
	}
	reason, err := inv.WaitForConfirmation(context.Background())
	if err != nil || reason != NotNeeded() {
		t.Fatalf("WaitForConfirmation = %v, %v", reason, err)
	}
	if inv.Confirm(UserApproved()) {
		t.Fatal("Confirm should be rejected outside waitingForConfirmation")
	}
}

func TestInvocation_FullLifecycle(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "fetch"}, Call{CallID: "c1"}, confirmPrepared(true))
	kinds := recordKinds(inv)

	if !inv.Confirm(SettingDriven("chat.tools.autoApprove")) {
		t.Fatal("Confirm failed")
	}
	res := TextResult("page body")
	inv.DidExecuteTool(res, false)
	if inv.State().Kind != StateWaitingForPostApproval {
		t.Fatalf("state = %v, want waitingForPostApproval", inv.State().Kind)
	}
	if !inv.ConfirmResult(UserApproved()) {
		t.Fatal("ConfirmResult failed")
	}
	inv.DidExecuteTool(res, true)

	want := []StateKind{StateWaitingForConfirmation, StateExecuting, StateWaitingForPostApproval, StateCompleted}
	if diff := cmp.Diff(want, kinds()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	st := inv.State()
	if st.Confirmed != SettingDriven("chat.tools.autoApprove") {
		t.Fatalf("Confirmed = %v", st.Confirmed)
	}
	if st.PostConfirmed == nil || *st.PostConfirmed != UserApproved() {
		t.Fatalf("PostConfirmed = %v", st.PostConfirmed)
	}
	if st.Result != res {
		t.Fatal("completed state should snapshot the result")
	}
}

func TestInvocation_SubscriberConfirmsResult(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "fetch"}, Call{CallID: "c1"}, confirmPrepared(true))
	kinds := recordKinds(inv)
	inv.OnDidChangeState(func(s State) {
		if s.Kind == StateWaitingForPostApproval {
			inv.ConfirmResult(UserApproved())
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		inv.Confirm(UserApproved())
		inv.DidExecuteTool(&Result{Content: []ContentPart{TextPart{Value: "ok"}}}, false)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("confirming from a state subscriber deadlocked")
	}

	want := []StateKind{StateWaitingForConfirmation, StateExecuting, StateWaitingForPostApproval, StateCompleted}
	if diff := cmp.Diff(want, kinds()); diff != "" {
		t.Fatalf("transitions mismatch (-want +got):\n%s", diff)
	}
	if post, err := inv.WaitForPostApproval(context.Background()); err != nil || post != UserApproved() {
		t.Fatalf("WaitForPostApproval = %v, %v", post, err)
	}
}

func TestInvocation_ConfirmDeniedOrSkippedCancels(t *testing.T) {
	t.Parallel()

	for _, reason := range []ConfirmReason{Denied(), Skipped()} {
		inv := NewInvocation(Data{ID: "shell"}, Call{CallID: "c"}, confirmPrepared(false))
		if !inv.Confirm(reason) {
			t.Fatalf("Confirm(%v) failed", reason)
		}
		st := inv.State()
		if st.Kind != StateCancelled || st.Reason != reason {
			t.Fatalf("state = %+v, want cancelled with %v", st, reason)
		}
		// terminal states never change
		inv.DidExecuteTool(TextResult("x"), true)
		inv.AcceptProgress(ProgressStep{Progress: 10})
		if got := inv.State(); got.Kind != StateCancelled {
			t.Fatalf("terminal state changed to %v", got.Kind)
		}
		if inv.Progress().Progress != 0 {
			t.Fatal("progress accepted after cancellation")
		}
	}
}

func TestInvocation_ErrorResultSkipsPostApproval(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "fetch"}, Call{CallID: "c"}, confirmPrepared(true))
	inv.Confirm(UserApproved())
	inv.DidExecuteTool(&Result{ToolResultError: "boom"}, false)
	if got := inv.State().Kind; got != StateCompleted {
		t.Fatalf("state = %v, want completed", got)
	}
}

func TestInvocation_FinalResolvesPendingGates(t *testing.T) {
	t.Parallel()

	pre := NewInvocation(Data{ID: "a"}, Call{CallID: "a"}, confirmPrepared(false))
	pre.DidExecuteTool(nil, true)
	if st := pre.State(); st.Kind != StateCancelled || st.Reason != Denied() {
		t.Fatalf("pre gate state = %+v, want cancelled/denied", st)
	}

	post := NewInvocation(Data{ID: "b"}, Call{CallID: "b"}, confirmPrepared(true))
	post.Confirm(UserApproved())
	post.DidExecuteTool(TextResult("r"), false)
	post.DidExecuteTool(TextResult("r"), true)
	reason, err := post.WaitForPostApproval(context.Background())
	if err != nil || reason != Skipped() {
		t.Fatalf("WaitForPostApproval = %v, %v; want skipped", reason, err)
	}
	if post.State().Kind != StateCancelled {
		t.Fatalf("state = %v, want cancelled", post.State().Kind)
	}
}

func TestInvocation_WaitForConfirmationUnblocks(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "a"}, Call{CallID: "a"}, confirmPrepared(false))
	done := make(chan ConfirmReason, 1)
	go func() {
		r, _ := inv.WaitForConfirmation(context.Background())
		done <- r
	}()
	inv.Confirm(UserApproved())

	select {
	case r := <-done:
		if r != UserApproved() {
			t.Fatalf("reason = %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}
}

func TestInvocation_AcceptProgress(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "a"}, Call{CallID: "a"}, nil)
	inv.AcceptProgress(ProgressStep{Progress: 30, Message: "downloading"})
	for range 5 {
		inv.AcceptProgress(ProgressStep{Progress: 0})
	}
	got := inv.Progress()
	if got.Progress != 30 || got.Message != "downloading" {
		t.Fatalf("progress = %+v, want 30/downloading", got)
	}

	inv.AcceptProgress(ProgressStep{Progress: -10})
	inv.AcceptProgress(ProgressStep{Progress: 90, Message: "almost"})
	if got := inv.Progress(); got.Progress != 100 || got.Message != "almost" {
		t.Fatalf("progress = %+v, want clamped 100/almost", got)
	}
}

func TestInvocation_EditParameters(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "a"}, Call{CallID: "a", Parameters: json.RawMessage(`{"x":1}`)}, confirmPrepared(false))
	if !inv.EditParameters(json.RawMessage(`{"x":2}`)) {
		t.Fatal("edit should be allowed while waiting")
	}
	inv.Confirm(UserApproved())
	if inv.EditParameters(json.RawMessage(`{"x":3}`)) {
		t.Fatal("edit should be rejected once executing")
	}
	if got := string(inv.Parameters()); got != `{"x":2}` {
		t.Fatalf("Parameters = %s", got)
	}
}

func TestInvocation_MarshalJSONWhileWaitingForPostApproval(t *testing.T) {
	t.Parallel()

	inv := NewInvocation(Data{ID: "fetch"}, Call{CallID: "c9"}, confirmPrepared(true))
	inv.Confirm(UserApproved())
	inv.DidExecuteTool(TextResult("secret"), false)

	raw, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got struct {
		ToolCallID  string        `json:"toolCallId"`
		State       string        `json:"state"`
		IsConfirmed ConfirmReason `json:"isConfirmed"`
		IsComplete  bool          `json:"isComplete"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.IsConfirmed != Skipped() || !got.IsComplete || got.ToolCallID != "c9" {
		t.Fatalf("persisted form = %+v, want skipped and complete", got)
	}
	if inv.State().Kind != StateWaitingForPostApproval {
		t.Fatal("marshalling must not change the live state")
	}
}

func TestInvocation_SpecificDataRoundTrip(t *testing.T) {
	t.Parallel()

	in := &PreparedInvocation{
		InvocationMessage: "Running ls",
		ToolSpecificData:  TerminalData{CommandLine: "ls -la", Language: "sh"},
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out PreparedInvocation
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if diff := cmp.Diff(in, &out); diff != "" {
		t.Fatalf("prepared invocation mismatch (-want +got):\n%s", diff)
	}
}
