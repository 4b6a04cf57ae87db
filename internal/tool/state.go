package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/toolhost/internal/observable"
)

// StateKind is the lifecycle phase of an Invocation.
type StateKind int

// Invocation states. Cancelled is only reachable from the two waiting
// states; Completed and Cancelled are terminal.
const (
	StateWaitingForConfirmation StateKind = iota
	StateExecuting
	StateWaitingForPostApproval
	StateCompleted
	StateCancelled
)

func (k StateKind) String() string {
	switch k {
	case StateWaitingForConfirmation:
		return "waitingForConfirmation"
	case StateExecuting:
		return "executing"
	case StateWaitingForPostApproval:
		return "waitingForPostApproval"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// State is a snapshot of an Invocation's lifecycle.
type State struct {
	Kind StateKind

	// Confirmed is the decision that let the call run. Set from
	// StateExecuting on.
	Confirmed ConfirmReason

	// Reason is why the invocation was cancelled.
	Reason ConfirmReason

	// PostConfirmed is the result approval decision, when one was made.
	PostConfirmed *ConfirmReason

	// Result is set while waiting for post approval and once completed.
	Result *Result
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s.Kind == StateCompleted || s.Kind == StateCancelled
}

// Progress is the latest progress snapshot of an invocation.
type Progress struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// Invocation tracks one tool call from confirmation to result. All
// transitions go through a single state cell, so subscribers observe them
// in order.
type Invocation struct {
	ToolCallID           string
	ToolID               string
	Source               Source
	ChatSessionID        string
	ChatRequestID        string
	InvocationMessage    string
	PastTenseMessage     string
	OriginMessage        string
	ConfirmationMessages *ConfirmationMessages
	ToolSpecificData     SpecificData

	mu         sync.Mutex
	parameters json.RawMessage

	postApproval  bool
	state         *observable.Value[State]
	progress      *observable.Value[Progress]
	confirmed     *observable.Deferred[ConfirmReason]
	postConfirmed *observable.Deferred[ConfirmReason]
}

// NewInvocation creates the invocation for call. It starts in
// StateWaitingForConfirmation when prepared carries confirmation messages,
// and in StateExecuting otherwise.
func NewInvocation(data Data, call Call, prepared *PreparedInvocation) *Invocation {
	inv := &Invocation{
		ToolCallID:    call.CallID,
		ToolID:        data.ID,
		Source:        data.Source,
		ChatRequestID: call.ChatRequestID,
		parameters:    call.Parameters,
		progress:      observable.NewValue(Progress{}),
		confirmed:     observable.NewDeferred[ConfirmReason](),
		postConfirmed: observable.NewDeferred[ConfirmReason](),
	}
	if call.Context != nil {
		inv.ChatSessionID = call.Context.SessionID
	}
	inv.InvocationMessage = "Running " + cmp.Or(data.DisplayName, data.ID)
	if prepared != nil {
		if prepared.InvocationMessage != "" {
			inv.InvocationMessage = prepared.InvocationMessage
		}
		inv.PastTenseMessage = prepared.PastTenseMessage
		inv.OriginMessage = prepared.OriginMessage
		inv.ConfirmationMessages = prepared.ConfirmationMessages
		inv.ToolSpecificData = prepared.ToolSpecificData
	}

	initial := State{Kind: StateWaitingForConfirmation}
	if inv.ConfirmationMessages == nil {
		initial = State{Kind: StateExecuting, Confirmed: NotNeeded()}
		inv.confirmed.Complete(NotNeeded())
	} else {
		inv.postApproval = inv.ConfirmationMessages.ConfirmResults
	}
	inv.state = observable.NewValue(initial)
	return inv
}

// Parameters returns the current input payload.
func (inv *Invocation) Parameters() json.RawMessage {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.parameters
}

// EditParameters replaces the input payload. It is only allowed while
// waiting for confirmation and reports whether it took effect.
func (inv *Invocation) EditParameters(raw json.RawMessage) bool {
	if inv.State().Kind != StateWaitingForConfirmation {
		return false
	}
	inv.mu.Lock()
	inv.parameters = raw
	inv.mu.Unlock()
	return true
}

// RequiresPostApproval reports whether the result goes through a second
// approval gate.
func (inv *Invocation) RequiresPostApproval() bool {
	return inv.postApproval
}

// State returns the current state.
func (inv *Invocation) State() State {
	return inv.state.Get()
}

// OnDidChangeState registers fn for every transition.
func (inv *Invocation) OnDidChangeState(fn func(State)) (unsubscribe func()) {
	return inv.state.Subscribe(fn)
}

// Confirm resolves the pre-execution gate. Denied and Skipped cancel the
// invocation; any other decision moves it to StateExecuting. It reports
// whether the invocation was waiting for confirmation.
func (inv *Invocation) Confirm(reason ConfirmReason) bool {
	if reason.Kind == "" {
		reason = Denied()
	}
	next := State{Kind: StateExecuting, Confirmed: reason}
	if !reason.Proceeds() {
		next = State{Kind: StateCancelled, Reason: reason}
	}
	if !inv.state.CompareAndSet(isKind(StateWaitingForConfirmation), next) {
		return false
	}
	inv.confirmed.Complete(reason)
	return true
}

// WaitForConfirmation blocks until the pre-execution gate is resolved.
func (inv *Invocation) WaitForConfirmation(ctx context.Context) (ConfirmReason, error) {
	return inv.confirmed.Wait(ctx)
}

// DidExecuteTool records the result of execution. Unless final is set, a
// successful result of a tool that requested result approval moves the
// invocation to StateWaitingForPostApproval. A final call never leaves the
// invocation waiting: pending gates resolve as Denied (before execution) or
// Skipped (after execution).
func (inv *Invocation) DidExecuteTool(result *Result, final bool) {
	for {
		cur := inv.state.Get()
		switch cur.Kind {
		case StateWaitingForConfirmation:
			if !final || inv.Confirm(Denied()) {
				return
			}
		case StateExecuting:
			confirmed := cur.Confirmed
			if confirmed.Kind == "" {
				confirmed = NotNeeded()
			}
			next := State{Kind: StateCompleted, Confirmed: confirmed, Result: result}
			if inv.postApproval && !final && result != nil && result.ToolResultError == "" {
				next = State{Kind: StateWaitingForPostApproval, Confirmed: confirmed, Result: result}
			}
			if inv.state.CompareAndSet(isKind(StateExecuting), next) {
				return
			}
		case StateWaitingForPostApproval:
			if !final || inv.ConfirmResult(Skipped()) {
				return
			}
		default:
			return
		}
	}
}

// ConfirmResult resolves the post-execution gate. Denied and Skipped
// cancel the invocation; any other decision completes it. It reports
// whether the invocation was waiting for result approval.
func (inv *Invocation) ConfirmResult(reason ConfirmReason) bool {
	if reason.Kind == "" {
		reason = Denied()
	}
	cur := inv.state.Get()
	if cur.Kind != StateWaitingForPostApproval {
		return false
	}
	post := reason
	next := State{Kind: StateCompleted, Confirmed: cur.Confirmed, PostConfirmed: &post, Result: cur.Result}
	if !reason.Proceeds() {
		next = State{Kind: StateCancelled, Confirmed: cur.Confirmed, Reason: reason, PostConfirmed: &post, Result: cur.Result}
	}
	if !inv.state.CompareAndSet(isKind(StateWaitingForPostApproval), next) {
		return false
	}
	inv.postConfirmed.Complete(reason)
	return true
}

// WaitForPostApproval blocks until the post-execution gate is resolved.
func (inv *Invocation) WaitForPostApproval(ctx context.Context) (ConfirmReason, error) {
	return inv.postConfirmed.Wait(ctx)
}

// AcceptProgress adds step to the progress snapshot. Increments are
// clamped to 0-100; an empty message keeps the previous one.
func (inv *Invocation) AcceptProgress(step ProgressStep) {
	if inv.State().IsTerminal() {
		return
	}
	inv.progress.Update(func(p Progress) Progress {
		if step.Progress > 0 {
			p.Progress = min(p.Progress+step.Progress, 100)
		}
		if step.Message != "" {
			p.Message = step.Message
		}
		return p
	})
}

// Progress returns the latest progress snapshot.
func (inv *Invocation) Progress() Progress {
	return inv.progress.Get()
}

// OnDidChangeProgress registers fn for progress updates.
func (inv *Invocation) OnDidChangeProgress(fn func(Progress)) (unsubscribe func()) {
	return inv.progress.Subscribe(fn)
}

type invocationJSON struct {
	ToolCallID        string          `json:"toolCallId"`
	ToolID            string          `json:"toolId"`
	Source            Source          `json:"source"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
	InvocationMessage string          `json:"invocationMessage,omitempty"`
	PastTenseMessage  string          `json:"pastTenseMessage,omitempty"`
	OriginMessage     string          `json:"originMessage,omitempty"`
	ToolSpecificData  SpecificData    `json:"toolSpecificData,omitempty"`
	State             string          `json:"state"`
	IsConfirmed       *ConfirmReason  `json:"isConfirmed,omitempty"`
	ResultConfirmed   *ConfirmReason  `json:"resultConfirmed,omitempty"`
	IsComplete        bool            `json:"isComplete"`
	ResultDetails     ResultDetails   `json:"resultDetails,omitempty"`
	ToolResultError   string          `json:"toolResultError,omitempty"`
	Progress          Progress        `json:"progress"`
}

// MarshalJSON produces the persisted form. An invocation still waiting for
// result approval is recorded as skipped, since that approval cannot be
// given after a reload.
func (inv *Invocation) MarshalJSON() ([]byte, error) {
	st := inv.State()
	out := invocationJSON{
		ToolCallID:        inv.ToolCallID,
		ToolID:            inv.ToolID,
		Source:            inv.Source,
		Parameters:        inv.Parameters(),
		InvocationMessage: inv.InvocationMessage,
		PastTenseMessage:  inv.PastTenseMessage,
		OriginMessage:     inv.OriginMessage,
		ToolSpecificData:  inv.ToolSpecificData,
		State:             st.Kind.String(),
		IsComplete:        st.IsTerminal(),
		Progress:          inv.Progress(),
	}

	switch st.Kind {
	case StateExecuting, StateCompleted:
		c := st.Confirmed
		out.IsConfirmed = &c
	case StateCancelled:
		r := st.Reason
		out.IsConfirmed = &r
		if st.PostConfirmed != nil {
			c := st.Confirmed
			out.IsConfirmed = &c
		}
	case StateWaitingForPostApproval:
		skipped := Skipped()
		out.State = StateCancelled.String()
		out.IsConfirmed = &skipped
		out.IsComplete = true
	}
	out.ResultConfirmed = st.PostConfirmed
	if st.Result != nil {
		out.ResultDetails = st.Result.ToolResultDetails
		out.ToolResultError = st.Result.ToolResultError
	}
	return json.Marshal(out)
}

func isKind(k StateKind) func(State) bool {
	return func(s State) bool { return s.Kind == k }
}
