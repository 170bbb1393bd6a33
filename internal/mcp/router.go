package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/antigravity-dev/taskmind/internal/dispatcher"
	"github.com/antigravity-dev/taskmind/internal/session"
)

// Router holds the shared state every transport dispatches through: one
// dispatcher.Dispatcher and one session.Binder (spec.md §4.7: "All three
// share a single dispatcher and binder"). Grounded on
// _examples/emergent-company-specmcp/internal/mcp/server.go's dispatch
// method, generalized so stdio/HTTP/WebSocket each supply their own
// handshake sources instead of always reading stdin.
type Router struct {
	Dispatcher *dispatcher.Dispatcher
	Binder     *session.Binder
	Info       ServerInfo
	Log        *slog.Logger
}

// NewRouter builds a Router over d/b, defaulting ServerInfo to the taskmind
// identity and version.
func NewRouter(d *dispatcher.Dispatcher, b *session.Binder, version string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		Dispatcher: d,
		Binder:     b,
		Info:       ServerInfo{Name: ServerName, Version: version},
		Log:        log.With("component", "mcp.router"),
	}
}

// HandleInitialize opens a session bound to sources' resolved namespace and
// returns the handshake result (spec.md §4.6, §6).
func (r *Router) HandleInitialize(sources session.Sources, params InitializeParams) (*session.Session, *InitializeResult) {
	if sources.StdioOption == "" {
		sources.StdioOption = params.Namespace
	}
	sess := r.Binder.Open(sources, params.ProtocolVersion, map[string]any{
		"name":    params.ClientInfo.Name,
		"version": params.ClientInfo.Version,
	})
	return sess, &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ServerCapability{Tools: &ToolsCapability{}},
		ServerInfo:      r.Info,
	}
}

// HandleToolsList enumerates the dispatcher's registered operations.
func (r *Router) HandleToolsList() *ToolsListResult {
	defs := r.Dispatcher.List()
	tools := make([]ToolDefinition, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: genericInputSchema})
	}
	return &ToolsListResult{Tools: tools}
}

// HandleToolsCall validates sess's namespace binding and runs name against
// the dispatcher, wrapping the outcome as a ToolsCallResult (spec.md §6:
// tools/call never returns a JSON-RPC-level error for a domain failure,
// only isError=true with the message).
func (r *Router) HandleToolsCall(ctx context.Context, sess *session.Session, params json.RawMessage) (*ToolsCallResult, *RPCError) {
	var call ToolsCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "invalid tools/call params", Data: err.Error()}
	}

	var claim struct {
		Namespace string `json:"namespace"`
	}
	if len(call.Arguments) > 0 {
		_ = json.Unmarshal(call.Arguments, &claim)
	}
	if _, err := r.Binder.Check(sess.ID, claim.Namespace); err != nil {
		return nil, rpcErrorFor(err)
	}

	result, err := r.Dispatcher.Dispatch(ctx, sess.Namespace, call.Name, call.Arguments)
	if err != nil {
		r.Log.Warn("tool call failed", "tool", call.Name, "namespace", sess.Namespace, "error", err)
		return ErrorResult(err.Error()), nil
	}
	jr, err := JSONResult(result)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: err.Error()}
	}
	return jr, nil
}

// HandleMessage parses one JSON-RPC request and dispatches it against an
// already-bound session, following
// _examples/emergent-company-specmcp/internal/mcp/server.go's
// handleMessage/dispatch split. initialize is handled separately by each
// transport (it precedes session binding), so HandleMessage only covers
// post-handshake methods.
func (r *Router) HandleMessage(ctx context.Context, sess *session.Session, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}}
	}
	if req.ID == nil {
		r.Log.Debug("received notification", "method", req.Method)
		return nil
	}

	result, rpcErr := r.dispatch(ctx, sess, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, sess *session.Session, req *Request) (any, *RPCError) {
	switch req.Method {
	case "tools/list":
		return r.HandleToolsList(), nil
	case "tools/call":
		return r.HandleToolsCall(ctx, sess, req.Params)
	default:
		return nil, &RPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}
