// Package mcpbridge exposes the tools of MCP servers through the tool
// registry. Each server gets one tool set; each of its tools gets tool
// data with an MCP source and an implementation that calls the server.
package mcpbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/flemzord/toolhost/internal/tool"
	"github.com/mark3labs/mcp-go/mcp"
)

// Client is the part of an MCP client the bridge needs.
// *client.Client from mcp-go satisfies it.
type Client interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// ErrDuplicateServer is returned when adding a server name twice.
var ErrDuplicateServer = errors.New("mcpbridge: server already added")

type server struct {
	name   string
	client Client
	set    *tool.ToolSet
	undo   []func()
}

// Bridge registers MCP server tools with a tool registry.
type Bridge struct {
	registry *tool.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	servers map[string]*server
}

// New creates a bridge over registry.
func New(registry *tool.Registry, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		registry: registry,
		logger:   logger.With("component", "mcpbridge"),
		servers:  make(map[string]*server),
	}
}

// ToolID returns the registry ID of tool name on server.
func ToolID(serverName, name string) string {
	return "mcp_" + serverName + "_" + name
}

// AddServer lists the tools of c and registers them under the tool set
// named after the server. It returns the number of tools registered.
func (b *Bridge) AddServer(ctx context.Context, name string, c Client) (int, error) {
	b.mu.Lock()
	if _, ok := b.servers[name]; ok {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrDuplicateServer, name)
	}
	srv := &server{name: name, client: c}
	b.servers[name] = srv
	b.mu.Unlock()

	n, err := b.register(ctx, srv)
	if err != nil {
		b.RemoveServer(name)
		return 0, err
	}
	b.logger.Info("mcp server bridged", "server", name, "tools", n)
	return n, nil
}

func (b *Bridge) register(ctx context.Context, srv *server) (int, error) {
	listed, err := srv.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("mcpbridge: list tools of %s: %w", srv.name, err)
	}

	source := tool.MCPSource(srv.name, srv.name, srv.name)
	set, err := b.registry.CreateToolSet(source, "mcp."+srv.name, srv.name, tool.ToolSetOptions{
		Description: "Tools from the " + srv.name + " MCP server",
	})
	if err != nil {
		return 0, err
	}
	srv.set = set
	srv.undo = append(srv.undo, set.Dispose)

	for _, mt := range listed.Tools {
		d, err := toolData(srv.name, source, mt)
		if err != nil {
			b.logger.Warn("skipping mcp tool", "server", srv.name, "tool", mt.Name, "error", err)
			continue
		}
		unregisterData, err := b.registry.RegisterToolData(d)
		if err != nil {
			return 0, err
		}
		srv.undo = append(srv.undo, unregisterData)

		impl := &mcpTool{
			client:   srv.client,
			server:   srv.name,
			name:     mt.Name,
			title:    d.DisplayName,
			readOnly: readOnly(mt),
		}
		unregisterImpl, err := b.registry.RegisterToolImplementation(d.ID, impl)
		if err != nil {
			return 0, err
		}
		srv.undo = append(srv.undo, unregisterImpl, set.AddTool(d))
	}
	return len(set.ToolIDs()), nil
}

// RemoveServer unregisters the tools and tool set of a server.
func (b *Bridge) RemoveServer(name string) {
	b.mu.Lock()
	srv, ok := b.servers[name]
	delete(b.servers, name)
	b.mu.Unlock()
	if !ok {
		return
	}
	for i := len(srv.undo) - 1; i >= 0; i-- {
		srv.undo[i]()
	}
}

// Servers returns the names of bridged servers.
func (b *Bridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.servers))
	for name := range b.servers {
		names = append(names, name)
	}
	return names
}

// Close removes every server.
func (b *Bridge) Close() {
	for _, name := range b.Servers() {
		b.RemoveServer(name)
	}
}

func toolData(serverName string, source tool.Source, mt mcp.Tool) (tool.Data, error) {
	schema := mt.RawInputSchema
	if len(schema) == 0 {
		raw, err := json.Marshal(mt.InputSchema)
		if err != nil {
			return tool.Data{}, fmt.Errorf("input schema: %w", err)
		}
		schema = raw
	}

	title := mt.Annotations.Title
	if title == "" {
		title = mt.Name
	}
	return tool.Data{
		ID:                ToolID(serverName, mt.Name),
		DisplayName:       title,
		ModelDescription:  mt.Description,
		ToolReferenceName: mt.Name,
		InputSchema:       schema,
		Source:            source,
		Tags:              []string{"mcp"},
	}, nil
}

func readOnly(mt mcp.Tool) bool {
	return mt.Annotations.ReadOnlyHint != nil && *mt.Annotations.ReadOnlyHint
}

// mcpTool calls one tool of an MCP server.
type mcpTool struct {
	client   Client
	server   string
	name     string
	title    string
	readOnly bool
}

// PrepareInvocation implements tool.Implementation. Tools that are not
// annotated read-only ask for confirmation.
func (t *mcpTool) PrepareInvocation(_ context.Context, pc tool.PrepareContext) (*tool.PreparedInvocation, error) {
	prepared := &tool.PreparedInvocation{
		InvocationMessage: fmt.Sprintf("Running %s", t.title),
		PastTenseMessage:  fmt.Sprintf("Ran %s", t.title),
		OriginMessage:     "(MCP Server: " + t.server + ")",
		ToolSpecificData:  tool.InputData{RawInput: pc.Parameters},
	}
	if !t.readOnly {
		prepared.ConfirmationMessages = &tool.ConfirmationMessages{
			Title:            fmt.Sprintf("Run %s from %s?", t.title, t.server),
			Message:          "The MCP server " + t.server + " will run " + t.name + ".",
			AllowAutoConfirm: true,
		}
	}
	return prepared, nil
}

// Invoke implements tool.Implementation.
func (t *mcpTool) Invoke(ctx context.Context, call tool.Call, _ tool.CountTokensFunc, _ tool.ProgressSink) (*tool.Result, error) {
	var args map[string]any
	if len(call.Parameters) > 0 && string(call.Parameters) != "null" {
		if err := json.Unmarshal(call.Parameters, &args); err != nil {
			return nil, fmt.Errorf("mcpbridge: %s arguments: %w", t.name, err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: call %s on %s: %w", t.name, t.server, err)
	}
	return ConvertResult(res)
}

// ConvertResult turns an MCP tool result into a tool.Result. Images,
// audio and blob resources become data parts.
func ConvertResult(res *mcp.CallToolResult) (*tool.Result, error) {
	out := &tool.Result{}
	if res == nil {
		return out, nil
	}

	var uris []string
	for _, c := range res.Content {
		switch c := c.(type) {
		case mcp.TextContent:
			out.Content = append(out.Content, tool.TextPart{Value: c.Text})
		case mcp.ImageContent:
			part, err := dataPart(c.MIMEType, c.Data)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, part)
		case mcp.AudioContent:
			part, err := dataPart(c.MIMEType, c.Data)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, part)
		case mcp.EmbeddedResource:
			switch r := c.Resource.(type) {
			case mcp.TextResourceContents:
				uris = append(uris, r.URI)
				out.Content = append(out.Content, tool.TextPart{Value: r.Text})
			case mcp.BlobResourceContents:
				uris = append(uris, r.URI)
				part, err := dataPart(r.MIMEType, r.Blob)
				if err != nil {
					return nil, err
				}
				out.Content = append(out.Content, part)
			}
		}
	}
	if len(uris) > 0 {
		out.ToolResultDetails = tool.URIDetails{URIs: uris}
	}
	if res.StructuredContent != nil {
		out.ToolMetadata = map[string]any{"structuredContent": res.StructuredContent}
	}
	if res.IsError {
		msg := strings.TrimSpace(out.Text())
		if msg == "" {
			msg = "MCP tool reported an error"
		}
		out.ToolResultError = msg
	}
	return out, nil
}

func dataPart(mimeType, b64 string) (tool.DataPart, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return tool.DataPart{}, fmt.Errorf("mcpbridge: decode %s content: %w", mimeType, err)
	}
	return tool.DataPart{MimeType: mimeType, Data: data}, nil
}

var _ tool.Implementation = (*mcpTool)(nil)
