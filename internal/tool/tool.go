// Package tool defines tool metadata, implementations, results and the
// per-call invocation state machine, along with the registry that holds
// them. Every call an agent makes goes through a registered tool and one
// Invocation that records how it was authorized.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// SourceKind identifies where a tool comes from.
type SourceKind string

// SourceKind values.
const (
	SourceInternal  SourceKind = "internal"
	SourceExtension SourceKind = "extension"
	SourceMCP       SourceKind = "mcp"
	SourceUser      SourceKind = "user"
	SourceExternal  SourceKind = "external"
)

// Source is the provenance of a tool or tool set. Only the fields of the
// matching Kind are set, so two sources compare equal with ==.
type Source struct {
	Kind SourceKind `json:"type"`

	// extension
	ExtensionID string `json:"extensionId,omitempty"`

	// mcp
	CollectionID string `json:"collectionId,omitempty"`
	DefinitionID string `json:"definitionId,omitempty"`

	// mcp, external
	Label string `json:"label,omitempty"`

	// user
	File string `json:"file,omitempty"`
}

// InternalSource returns the source of built-in tools.
func InternalSource() Source { return Source{Kind: SourceInternal, Label: "Built-In"} }

// ExtensionSource returns the source of tools contributed by an extension.
func ExtensionSource(extensionID string) Source {
	return Source{Kind: SourceExtension, ExtensionID: extensionID}
}

// MCPSource returns the source of tools exposed by an MCP server.
func MCPSource(collectionID, definitionID, label string) Source {
	return Source{Kind: SourceMCP, CollectionID: collectionID, DefinitionID: definitionID, Label: label}
}

// UserSource returns the source of tools defined in a user file.
func UserSource(file string) Source { return Source{Kind: SourceUser, File: file} }

// ExternalSource returns the source of tools supplied by an external party.
func ExternalSource(label string) Source { return Source{Kind: SourceExternal, Label: label} }

func (s Source) String() string {
	switch s.Kind {
	case SourceExtension:
		return "extension:" + s.ExtensionID
	case SourceMCP:
		return fmt.Sprintf("mcp:%s/%s", s.CollectionID, s.DefinitionID)
	case SourceUser:
		return "user:" + s.File
	case SourceExternal:
		return "external:" + s.Label
	default:
		return string(s.Kind)
	}
}

// Data is the registry entry of a tool. It is immutable once registered.
type Data struct {
	ID                           string          `json:"id"`
	DisplayName                  string          `json:"displayName"`
	UserDescription              string          `json:"userDescription,omitempty"`
	ModelDescription             string          `json:"modelDescription"`
	ToolReferenceName            string          `json:"toolReferenceName,omitempty"`
	LegacyToolReferenceFullNames []string        `json:"legacyToolReferenceFullNames,omitempty"`
	InputSchema                  json.RawMessage `json:"inputSchema,omitempty"`
	Source                       Source          `json:"source"`

	// When is a context key predicate gating visibility. Empty means
	// always visible.
	When string `json:"when,omitempty"`

	// RunsInWorkspace selects which settings layers the confirmation
	// policy prefers. Nil means unknown.
	RunsInWorkspace *bool `json:"runsInWorkspace,omitempty"`

	CanRequestPreApproval    bool     `json:"canRequestPreApproval,omitempty"`
	CanRequestPostApproval   bool     `json:"canRequestPostApproval,omitempty"`
	AlwaysDisplayInputOutput bool     `json:"alwaysDisplayInputOutput,omitempty"`
	Tags                     []string `json:"tags,omitempty"`
}

// ReferenceName returns the name used in textual references, falling back
// to the ID.
func (d Data) ReferenceName() string {
	if d.ToolReferenceName != "" {
		return d.ToolReferenceName
	}
	return d.ID
}

// CountTokensFunc counts the tokens of input for the calling model.
type CountTokensFunc func(ctx context.Context, input string) (int, error)

// ProgressStep is an incremental progress update. Progress is a delta on a
// 0-100 scale.
type ProgressStep struct {
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// ProgressSink receives progress reported by an implementation.
type ProgressSink func(step ProgressStep)

// InvocationContext identifies the chat session a call belongs to.
type InvocationContext struct {
	SessionID string `json:"sessionId"`
}

// ParseInvocationContext decodes an opaque tool invocation token.
func ParseInvocationContext(raw json.RawMessage) (*InvocationContext, error) {
	var ic InvocationContext
	if err := json.Unmarshal(raw, &ic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvocationContext, err)
	}
	if ic.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId", ErrInvalidInvocationContext)
	}
	return &ic, nil
}

// Call is a request to invoke a tool.
type Call struct {
	CallID     string             `json:"callId"`
	ToolID     string             `json:"toolId"`
	Parameters json.RawMessage    `json:"parameters"`
	Context    *InvocationContext `json:"context,omitempty"`

	TokenBudget int    `json:"tokenBudget,omitempty"`
	ModelID     string `json:"modelId,omitempty"`

	// Set by the orchestrator for chat-attached calls.
	ChatRequestID     string `json:"chatRequestId,omitempty"`
	ChatInteractionID string `json:"chatInteractionId,omitempty"`
}

// PrepareContext is passed to Implementation.PrepareInvocation.
type PrepareContext struct {
	CallID        string          `json:"callId"`
	Parameters    json.RawMessage `json:"parameters"`
	ChatSessionID string          `json:"chatSessionId,omitempty"`
	ChatRequestID string          `json:"chatRequestId,omitempty"`
}

// PreparedInvocation is what an implementation wants displayed before and
// while running.
type PreparedInvocation struct {
	InvocationMessage    string                `json:"invocationMessage,omitempty"`
	PastTenseMessage     string                `json:"pastTenseMessage,omitempty"`
	OriginMessage        string                `json:"originMessage,omitempty"`
	ConfirmationMessages *ConfirmationMessages `json:"confirmationMessages,omitempty"`
	ToolSpecificData     SpecificData          `json:"toolSpecificData,omitempty"`
}

// Implementation executes a tool. The context carries cancellation;
// implementations are expected to observe it cooperatively.
type Implementation interface {
	Invoke(ctx context.Context, call Call, countTokens CountTokensFunc, progress ProgressSink) (*Result, error)

	// PrepareInvocation may return nil when there is nothing to prepare.
	PrepareInvocation(ctx context.Context, pc PrepareContext) (*PreparedInvocation, error)
}

// InvokeFunc adapts a function to Implementation with no preparation step.
type InvokeFunc func(ctx context.Context, call Call, countTokens CountTokensFunc, progress ProgressSink) (*Result, error)

// Invoke implements Implementation.
func (f InvokeFunc) Invoke(ctx context.Context, call Call, countTokens CountTokensFunc, progress ProgressSink) (*Result, error) {
	return f(ctx, call, countTokens, progress)
}

// PrepareInvocation implements Implementation.
func (f InvokeFunc) PrepareInvocation(context.Context, PrepareContext) (*PreparedInvocation, error) {
	return nil, nil
}

var _ Implementation = InvokeFunc(nil)
