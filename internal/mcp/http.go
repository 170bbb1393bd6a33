package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/session"
)

// sessionHeader is the header name the Streamable HTTP transport uses to
// carry a session id after initialize (spec.md §6: "response may include
// an Mcp-Session-Id header on initialize").
const sessionHeader = "Mcp-Session-Id"

// namespaceHeader is the X-Namespace handshake source (spec.md §4.6).
const namespaceHeader = "X-Namespace"

// HTTPServer implements the Streamable HTTP transport (POST/GET /mcp) and
// mounts the REST façade and WebSocket endpoint when enabled. Grounded on
// _examples/Heikkila-Pty-Ltd-cortex/internal/api/api.go's Server: a
// net/http.Server behind a ServeMux, started with ListenAndServe and
// stopped via context cancellation + Shutdown.
type HTTPServer struct {
	router     *Router
	notifier   *notify.Notifier
	bind       string
	mode       Mode
	httpServer *http.Server
	log        *slog.Logger
}

// Mode selects which endpoints NewHTTPServer mounts (spec.md §6's `server
// start --mode`).
type Mode string

const (
	ModeHTTP      Mode = "http"
	ModeWebSocket Mode = "websocket"
	ModeCombined  Mode = "combined"
)

// NewHTTPServer builds an HTTP transport bound to addr, mounting the routes
// mode calls for.
func NewHTTPServer(router *Router, notifier *notify.Notifier, bind string, mode Mode, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPServer{
		router:   router,
		notifier: notifier,
		bind:     bind,
		mode:     mode,
		log:      log.With("component", "mcp.http"),
	}
}

// Start begins listening on s.bind. Blocks until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/mcp/", s.handleMCP)
	mountREST(mux, s.router, time.Now())
	if s.mode == ModeWebSocket || s.mode == ModeCombined {
		mux.HandleFunc("/mcp/ws", s.handleWebSocket)
		mux.HandleFunc("/mcp/ws/", s.handleWebSocket)
	}

	s.httpServer = &http.Server{
		Addr:        s.bind,
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info("http transport starting", "bind", s.bind, "mode", s.mode)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GET /health — spec.md §6: {status, version, mode}.
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.router.Info.Version,
		"mode":    string(s.mode),
	})
}

// handleMCP dispatches POST (JSON-RPC request) and GET (SSE notification
// stream) on the shared /mcp path (spec.md §6).
func (s *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleMCPGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *HTTPServer) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: err.Error()}})
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, &Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}})
		return
	}

	if req.Method == "initialize" {
		s.handleInitializePost(w, r, &req)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	sess, err := s.router.Binder.Check(sessionID, namespaceFromPath(r.URL.Path, r.Header.Get(namespaceHeader)))
	if err != nil {
		writeJSON(w, http.StatusOK, &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErrorFor(err)})
		return
	}

	resp := s.router.HandleMessage(r.Context(), sess, body)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleInitializePost(w http.ResponseWriter, r *http.Request, req *Request) {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, &Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: ErrCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}})
			return
		}
	}
	sources := session.Sources{
		Path:   pathNamespace(r.URL.Path),
		Header: r.Header.Get(namespaceHeader),
	}
	sess, result := s.router.HandleInitialize(sources, params)
	w.Header().Set(sessionHeader, sess.ID)
	writeJSON(w, http.StatusOK, &Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// handleMCPGet streams notifications for an already-initialized session as
// Server-Sent Events (spec.md §4.7, §6).
func (s *HTTPServer) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	sess, err := s.router.Binder.Get(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.notifier.Subscribe(sess.Namespace, sess.ID)
	defer s.notifier.Unsubscribe(sess.Namespace, sess.ID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(w, flusher, ev)
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	method := string(NotifyWorkItemUpdate)
	if ev.Type == notify.Progress {
		method = string(NotifyProgress)
	}
	w.Write([]byte("event: " + method + "\n"))
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// pathNamespace extracts {namespace} from a /mcp/{namespace} style path.
func pathNamespace(path string) string {
	trimmed := strings.TrimPrefix(path, "/mcp")
	trimmed = strings.Trim(trimmed, "/")
	return trimmed
}

func namespaceFromPath(path, header string) string {
	if ns := pathNamespace(path); ns != "" {
		return ns
	}
	return header
}
