package tool

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContentPart is one piece of a result returned to the model. It is a
// closed union of TextPart and DataPart.
type ContentPart interface {
	contentPart()
}

// TextPart is plain text content.
type TextPart struct {
	Value string
}

// DataPart is binary content such as an image.
type DataPart struct {
	MimeType string
	Data     []byte
}

func (TextPart) contentPart() {}
func (DataPart) contentPart() {}

// MarshalJSON implements json.Marshaler.
func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}{"text", p.Value})
}

// MarshalJSON implements json.Marshaler.
func (p DataPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind     string `json:"kind"`
		MimeType string `json:"mimeType"`
		Data     []byte `json:"data"`
	}{"data", p.MimeType, p.Data})
}

// ResultDetails is extra display data for a result: URIDetails or
// InputOutputDetails.
type ResultDetails interface {
	resultDetails()
}

// URIDetails lists resources the tool touched.
type URIDetails struct {
	URIs []string `json:"uris"`
}

// InputOutputDetails shows the raw input and output of a call.
type InputOutputDetails struct {
	Input   string       `json:"input"`
	Output  []OutputItem `json:"output"`
	IsError bool         `json:"isError,omitempty"`
}

// OutputItem is one embeddable output entry.
type OutputItem struct {
	MimeType string `json:"mimeType"`
	Value    string `json:"value"`
	IsText   bool   `json:"isText,omitempty"`
}

func (URIDetails) resultDetails()         {}
func (InputOutputDetails) resultDetails() {}

// MarshalJSON implements json.Marshaler.
func (d URIDetails) MarshalJSON() ([]byte, error) {
	type plain URIDetails
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{"uris", plain(d)})
}

// MarshalJSON implements json.Marshaler.
func (d InputOutputDetails) MarshalJSON() ([]byte, error) {
	type plain InputOutputDetails
	return json.Marshal(struct {
		Kind string `json:"kind"`
		plain
	}{"inputOutput", plain(d)})
}

// Result is what a tool returns to the model.
type Result struct {
	Content           []ContentPart  `json:"content"`
	ToolResultMessage string         `json:"toolResultMessage,omitempty"`
	ToolResultDetails ResultDetails  `json:"toolResultDetails,omitempty"`
	ToolResultError   string         `json:"toolResultError,omitempty"`
	ToolMetadata      map[string]any `json:"toolMetadata,omitempty"`
}

// TextResult returns a result holding a single text part.
func TextResult(text string) *Result {
	return &Result{Content: []ContentPart{TextPart{Value: text}}}
}

// Text concatenates the text parts of r.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Content {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Value)
		}
	}
	return b.String()
}

// SynthesizeInputOutput builds InputOutputDetails from the raw parameters
// and the result content, for tools that always display their input and
// output.
func SynthesizeInputOutput(params json.RawMessage, r *Result, callErr error) InputOutputDetails {
	d := InputOutputDetails{Input: formatInput(params)}
	if callErr != nil {
		d.IsError = true
		d.Output = []OutputItem{{MimeType: "text/plain", Value: callErr.Error(), IsText: true}}
		return d
	}
	if r == nil {
		return d
	}
	for _, p := range r.Content {
		switch p := p.(type) {
		case TextPart:
			d.Output = append(d.Output, OutputItem{MimeType: "text/plain", Value: p.Value, IsText: true})
		case DataPart:
			if strings.HasPrefix(p.MimeType, "text/") && utf8.Valid(p.Data) {
				d.Output = append(d.Output, OutputItem{MimeType: p.MimeType, Value: string(p.Data), IsText: true})
				continue
			}
			d.Output = append(d.Output, OutputItem{MimeType: p.MimeType, Value: fmt.Sprintf("<%d bytes>", len(p.Data))})
		}
	}
	d.IsError = r.ToolResultError != ""
	return d
}

func formatInput(params json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return string(params)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(params)
	}
	return string(out)
}

// SpecificData is tool-specific display data attached to an invocation:
// TerminalData, InputData, ExtensionsData or SubagentData.
type SpecificData interface {
	specificData()
}

// TerminalData describes a shell command about to run.
type TerminalData struct {
	CommandLine string `json:"commandLine"`
	Language    string `json:"language,omitempty"`
}

// InputData exposes the raw input, which the user may edit while
// confirming.
type InputData struct {
	RawInput json.RawMessage `json:"rawInput"`
}

// ExtensionsData lists extensions a tool would install.
type ExtensionsData struct {
	Extensions []string `json:"extensions"`
}

// SubagentData describes a delegation to another agent.
type SubagentData struct {
	Agent       string `json:"agent,omitempty"`
	Description string `json:"description,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

func (TerminalData) specificData()   {}
func (InputData) specificData()      {}
func (ExtensionsData) specificData() {}
func (SubagentData) specificData()   {}

// MarshalJSON implements json.Marshaler.
func (d TerminalData) MarshalJSON() ([]byte, error) {
	type plain TerminalData
	return marshalKind("terminal", plain(d))
}

// MarshalJSON implements json.Marshaler.
func (d InputData) MarshalJSON() ([]byte, error) {
	type plain InputData
	return marshalKind("input", plain(d))
}

// MarshalJSON implements json.Marshaler.
func (d ExtensionsData) MarshalJSON() ([]byte, error) {
	type plain ExtensionsData
	return marshalKind("extensions", plain(d))
}

// MarshalJSON implements json.Marshaler.
func (d SubagentData) MarshalJSON() ([]byte, error) {
	type plain SubagentData
	return marshalKind("subagent", plain(d))
}

func marshalKind(kind string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	k, _ := json.Marshal(kind)
	fields["kind"] = k
	return json.Marshal(fields)
}

// DecodeSpecificData decodes the JSON form produced by the SpecificData
// marshalers. Empty input decodes to nil.
func DecodeSpecificData(raw json.RawMessage) (SpecificData, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case "terminal":
		var d TerminalData
		err := json.Unmarshal(raw, &d)
		return d, err
	case "input":
		var d InputData
		err := json.Unmarshal(raw, &d)
		return d, err
	case "extensions":
		var d ExtensionsData
		err := json.Unmarshal(raw, &d)
		return d, err
	case "subagent":
		var d SubagentData
		err := json.Unmarshal(raw, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown tool specific data kind %q", head.Kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PreparedInvocation) UnmarshalJSON(data []byte) error {
	type plain PreparedInvocation
	var aux struct {
		plain
		ToolSpecificData json.RawMessage `json:"toolSpecificData"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	sd, err := DecodeSpecificData(aux.ToolSpecificData)
	if err != nil {
		return err
	}
	*p = PreparedInvocation(aux.plain)
	p.ToolSpecificData = sd
	return nil
}

// DecodeResultDetails decodes the JSON form produced by the ResultDetails
// marshalers. Empty input decodes to nil.
func DecodeResultDetails(raw json.RawMessage) (ResultDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Kind {
	case "uris":
		var d URIDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	case "inputOutput":
		var d InputOutputDetails
		err := json.Unmarshal(raw, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown result details kind %q", head.Kind)
	}
}
