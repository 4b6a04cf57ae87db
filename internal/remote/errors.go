// Package remote proxies tools across a websocket between the process
// that orchestrates tool calls and extension hosts that implement them.
// The Manager runs on the orchestrating side and registers each host's
// tools; the Host runs next to the implementations and dials in.
package remote

import (
	"errors"
	"fmt"

	"github.com/flemzord/toolhost/internal/tool"
)

// Sentinel errors for the remote package.
var (
	ErrInvalidToken     = errors.New("remote: invalid host token")
	ErrMaxHosts         = errors.New("remote: maximum number of hosts reached")
	ErrConnectionClosed = errors.New("remote: connection closed")
	ErrHelloRejected    = errors.New("remote: hello rejected")
	ErrProtocol         = errors.New("remote: protocol violation")
)

// Error codes carried by error envelopes.
const (
	CodeCancelled      = "cancelled"
	CodeNotImplemented = "not_implemented"
	CodeInvalid        = "invalid"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

// RemoteError is an error reported by the peer. Codes with a local
// equivalent unwrap to it, so errors.Is(err, tool.ErrCancelled) holds
// for a call cancelled on the far side.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s (%s)", e.Message, e.Code)
}

// Unwrap maps the error code to a local sentinel.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeCancelled:
		return tool.ErrCancelled
	case CodeNotImplemented:
		return tool.ErrToolNotImplemented
	default:
		return nil
	}
}

// errorCode picks the wire code for a local error.
func errorCode(err error) string {
	switch {
	case tool.IsCancellation(err):
		return CodeCancelled
	case errors.Is(err, tool.ErrToolNotImplemented), errors.Is(err, tool.ErrToolNotContributed):
		return CodeNotImplemented
	default:
		return CodeInternal
	}
}
