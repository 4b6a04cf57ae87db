package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flemzord/toolhost/internal/tool"
)

// MessageType identifies the kind of message in the remote protocol.
type MessageType string

// Protocol message types exchanged over the WebSocket connection.
const (
	MsgHello             MessageType = "hello"
	MsgHelloAck          MessageType = "hello_ack"
	MsgRegisterTools     MessageType = "register_tools"
	MsgUnregisterTool    MessageType = "unregister_tool"
	MsgInvokeTool        MessageType = "invoke_tool"
	MsgPrepareInvocation MessageType = "prepare_invocation"
	MsgCountTokens       MessageType = "count_tokens"
	MsgToolProgress      MessageType = "tool_progress"
	MsgActivate          MessageType = "activate"
	MsgCancel            MessageType = "cancel"
	MsgResult            MessageType = "result"
	MsgError             MessageType = "error"
)

// Envelope is the wire format for all text messages. Attachments is the
// number of binary frames that immediately follow the envelope.
type Envelope struct {
	Type        MessageType     `json:"type"`
	ID          string          `json:"id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attachments int             `json:"attachments,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Hello is the first message a host sends after connecting.
type Hello struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	ExtensionID string `json:"extension_id"`
}

// HelloAck answers a Hello.
type HelloAck struct {
	Accepted bool   `json:"accepted"`
	HostID   string `json:"host_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// RegisterTools announces tools implemented by the host. Their source is
// always set to the host's extension.
type RegisterTools struct {
	Tools []tool.Data `json:"tools"`
}

// UnregisterTool withdraws one tool.
type UnregisterTool struct {
	ToolID string `json:"tool_id"`
}

// PrepareInvocation asks the host to prepare a call.
type PrepareInvocation struct {
	ToolID  string              `json:"tool_id"`
	Context tool.PrepareContext `json:"context"`
}

// CountTokens is sent by the host while a call runs to count tokens with
// the calling model.
type CountTokens struct {
	CallID string `json:"call_id"`
	Input  string `json:"input"`
}

// CountTokensResult answers CountTokens.
type CountTokensResult struct {
	Tokens int `json:"tokens"`
}

// ToolProgress reports progress of a running call. The envelope ID is
// the ID of the invoke_tool request.
type ToolProgress struct {
	CallID string            `json:"call_id"`
	Step   tool.ProgressStep `json:"step"`
}

// Activate asks the host to activate whatever contributes the event.
type Activate struct {
	Event string `json:"event"`
}

// ErrorPayload is the payload of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WireResult is a tool.Result with binary parts moved to attachments.
type WireResult struct {
	Content           []WirePart      `json:"content"`
	ToolResultMessage string          `json:"tool_result_message,omitempty"`
	ToolResultDetails json.RawMessage `json:"tool_result_details,omitempty"`
	ToolResultError   string          `json:"tool_result_error,omitempty"`
	ToolMetadata      map[string]any  `json:"tool_metadata,omitempty"`
}

// WirePart is one content part. Data parts reference an attachment by
// index instead of carrying bytes.
type WirePart struct {
	Kind       string `json:"kind"`
	Value      string `json:"value,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	Attachment int    `json:"attachment,omitempty"`
}

// encodeResult splits r into its JSON form and the binary attachments.
func encodeResult(r *tool.Result) (WireResult, [][]byte, error) {
	if r == nil {
		return WireResult{}, nil, nil
	}
	w := WireResult{
		ToolResultMessage: r.ToolResultMessage,
		ToolResultError:   r.ToolResultError,
		ToolMetadata:      r.ToolMetadata,
	}
	if r.ToolResultDetails != nil {
		raw, err := json.Marshal(r.ToolResultDetails)
		if err != nil {
			return WireResult{}, nil, fmt.Errorf("encode result details: %w", err)
		}
		w.ToolResultDetails = raw
	}

	var attachments [][]byte
	for _, p := range r.Content {
		switch p := p.(type) {
		case tool.TextPart:
			w.Content = append(w.Content, WirePart{Kind: "text", Value: p.Value})
		case tool.DataPart:
			w.Content = append(w.Content, WirePart{Kind: "data", MimeType: p.MimeType, Attachment: len(attachments)})
			attachments = append(attachments, p.Data)
		}
	}
	return w, attachments, nil
}

// decodeResult is the inverse of encodeResult.
func decodeResult(w WireResult, attachments [][]byte) (*tool.Result, error) {
	details, err := tool.DecodeResultDetails(w.ToolResultDetails)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	r := &tool.Result{
		ToolResultMessage: w.ToolResultMessage,
		ToolResultDetails: details,
		ToolResultError:   w.ToolResultError,
		ToolMetadata:      w.ToolMetadata,
	}
	for _, p := range w.Content {
		switch p.Kind {
		case "text":
			r.Content = append(r.Content, tool.TextPart{Value: p.Value})
		case "data":
			if p.Attachment < 0 || p.Attachment >= len(attachments) {
				return nil, fmt.Errorf("%w: attachment %d of %d", ErrProtocol, p.Attachment, len(attachments))
			}
			r.Content = append(r.Content, tool.DataPart{MimeType: p.MimeType, Data: attachments[p.Attachment]})
		default:
			return nil, fmt.Errorf("%w: content kind %q", ErrProtocol, p.Kind)
		}
	}
	return r, nil
}
