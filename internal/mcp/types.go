// Package mcp implements the transport frontends (C9, spec.md §4.7): a
// stdio JSON-RPC loop, a Streamable HTTP transport (POST /mcp + SSE on GET
// /mcp), a WebSocket transport, and a thin REST façade, all sharing one
// dispatcher.Dispatcher and session.Binder.
//
// Grounded on _examples/emergent-company-specmcp/internal/mcp/types.go's
// JSON-RPC 2.0 envelope and MCP handshake/tool-call shapes.
package mcp

import (
	"encoding/json"
	"fmt"
)

// Request is a JSON-RPC 2.0 request or notification (absent ID).
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object. Data.Code carries the
// apperr.Code string so clients can branch on the domain error kind
// without parsing Message (spec.md §7: "the dispatcher maps them to
// JSON-RPC error objects").
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes (teacher's constants, unchanged).
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// ErrorData is the structured data payload of an RPCError (spec.md §7:
// "data.code=ErrKind").
type ErrorData struct {
	Code string `json:"code"`
}

// InitializeParams is sent by the client during handshake (spec.md §6).
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    any            `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
	Namespace       string         `json:"namespace,omitempty"` // stdio handshake option (spec.md §4.6)
}

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeResult is returned to the client on a successful handshake.
type InitializeResult struct {
	ProtocolVersion string           `json:"protocolVersion"`
	Capabilities    ServerCapability `json:"capabilities"`
	ServerInfo      ServerInfo       `json:"serverInfo"`
}

// ServerCapability advertises the server's supported feature surface.
type ServerCapability struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability signals tools/list and tools/call support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo identifies this server to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

const (
	ServerName      = "taskmind"
	ProtocolVersion = "2024-11-05"
)

// ToolsListResult is returned for tools/list.
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolDefinition describes one dispatcher operation for tools/list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// genericInputSchema is the permissive JSON Schema advertised for every
// operation: the dispatcher validates its own argument shape per
// operation, so tools/list does not need to duplicate nine distinct
// schemas to be useful to a client.
var genericInputSchema = json.RawMessage(`{"type":"object"}`)

// ToolsCallParams is received for tools/call.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolsCallResult is returned for tools/call (spec.md §6).
type ToolsCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one unit of tool-call output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// JSONResult marshals v as indented JSON and wraps it in a ToolsCallResult.
func JSONResult(v any) (*ToolsCallResult, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return &ToolsCallResult{Content: []ContentBlock{TextContent(string(b))}}, nil
}

// ErrorResult builds an error tool result (isError=true), used when a tool
// call fails but the JSON-RPC envelope itself succeeded (spec.md §6).
func ErrorResult(msg string) *ToolsCallResult {
	return &ToolsCallResult{Content: []ContentBlock{TextContent(msg)}, IsError: true}
}

// NotificationMethod names the two server-initiated notifications
// (spec.md §6, §4.8).
type NotificationMethod string

const (
	NotifyWorkItemUpdate NotificationMethod = "notifications/work_item_update"
	NotifyProgress       NotificationMethod = "notifications/progress"
)

// Notification is a JSON-RPC notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}
