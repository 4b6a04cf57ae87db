// Package chat defines the chat session collaborator the orchestrator
// appends tool invocations to, and an in-memory implementation of it.
package chat

import (
	"errors"
	"time"

	"github.com/flemzord/toolhost/internal/tool"
)

// Sentinel errors for the chat package.
var (
	ErrUnknownSession = errors.New("chat: unknown session")
	ErrUnknownRequest = errors.New("chat: unknown request")
)

// Request is one user turn of a session.
type Request struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Part is a piece of response progress. The set of parts is closed.
type Part interface {
	isPart()
}

// MarkdownPart is plain response text.
type MarkdownPart struct {
	Text string
}

// InvocationPart attaches a live tool invocation to the response.
type InvocationPart struct {
	Invocation *tool.Invocation
}

func (MarkdownPart) isPart()   {}
func (InvocationPart) isPart() {}

// Session is a chat conversation.
type Session interface {
	ID() string

	// Requests returns the requests in the order they were made.
	Requests() []Request

	// AcceptResponseProgress appends part to the response of requestID.
	AcceptResponseProgress(requestID string, part Part) error
}

// Service locates sessions.
type Service interface {
	Session(id string) (Session, bool)
}

// LastRequest returns the most recent request of s.
func LastRequest(s Session) (Request, bool) {
	reqs := s.Requests()
	if len(reqs) == 0 {
		return Request{}, false
	}
	return reqs[len(reqs)-1], true
}
