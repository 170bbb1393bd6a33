package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/antigravity-dev/taskmind/internal/session"
)

// StdioServer implements the stdio transport (spec.md §4.7: "line-delimited
// JSON-RPC 2.0. Exactly one session per process."), grounded on
// _examples/emergent-company-specmcp/internal/mcp/server.go's Run/
// handleMessage loop.
type StdioServer struct {
	router         *Router
	namespaceEnv   string
	sess           *session.Session
	log            *slog.Logger
}

// NewStdioServer builds a stdio transport over router. namespaceEnv is the
// configured default namespace (general.namespace_default, or the --namespace
// flag), used as the lowest-precedence handshake source before "default".
// The process environment is not read; NAMESPACE_DEFAULT has no effect.
func NewStdioServer(router *Router, namespaceEnv string, log *slog.Logger) *StdioServer {
	if log == nil {
		log = slog.Default()
	}
	return &StdioServer{router: router, namespaceEnv: namespaceEnv, log: log.With("component", "mcp.stdio")}
}

// Run reads JSON-RPC requests from stdin and writes responses to stdout,
// blocking until stdin closes or ctx is cancelled.
func (s *StdioServer) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	s.log.Info("stdio transport started", "name", s.router.Info.Name, "version", s.router.Info.Version)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.log.Error("failed to write response", "error", err)
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if s.sess != nil {
		s.router.Binder.Close(s.sess.ID)
	}
	s.log.Info("stdio transport stopped (stdin closed)")
	return nil
}

func (s *StdioServer) handleLine(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}}
	}

	if req.Method == "initialize" {
		return s.handleInitialize(&req)
	}
	if req.ID == nil {
		s.log.Debug("received notification", "method", req.Method)
		return nil
	}
	if s.sess == nil {
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: ErrCodeInvalidRequest, Message: "session not initialized"}}
	}
	return s.router.HandleMessage(ctx, s.sess, data)
}

func (s *StdioServer) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: ErrCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}}
		}
	}
	sess, result := s.router.HandleInitialize(session.Sources{StdioOption: params.Namespace, Env: s.namespaceEnv}, params)
	s.sess = sess
	s.log.Info("client connected", "namespace", sess.Namespace, "client", params.ClientInfo.Name)
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}
