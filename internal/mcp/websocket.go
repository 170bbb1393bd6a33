package mcp

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/session"
)

// upgrader accepts connections from any origin: taskmind is an
// agent/developer tool run behind the caller's own network boundary, not a
// browser-facing public service, so there is no cross-origin attacker to
// defend against the way a public API would need to.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn serializes writes across the request-handling loop and the
// notification-forwarding goroutine: gorilla/websocket forbids concurrent
// writers on one connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

// handleWebSocket implements the full-duplex JSON-RPC WebSocket transport.
// In websocket and combined modes it is mounted at /mcp/ws and
// /mcp/ws/{namespace}; /mcp and /mcp/{namespace} are not upgraded to
// WebSocket and serve only the HTTP POST/SSE transport. The first frame MUST
// be initialize; subsequent frames are routed through the shared Router
// exactly like the HTTP transport's POST /mcp.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	ctx := r.Context()
	var sess *session.Session
	defer func() {
		if sess != nil {
			s.router.Binder.Close(sess.ID)
			s.notifier.Unsubscribe(sess.Namespace, sess.ID)
		}
	}()

	done := make(chan struct{})
	defer close(done)

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			conn.WriteJSON(&Response{JSONRPC: "2.0", Error: &RPCError{Code: ErrCodeParse, Message: "parse error", Data: err.Error()}})
			continue
		}

		if req.Method == "initialize" {
			sess = s.wsInitialize(conn, r, &req)
			if sess != nil {
				sub := s.notifier.Subscribe(sess.Namespace, sess.ID)
				go forwardNotifications(conn, sub, done)
			}
			continue
		}
		if sess == nil {
			if req.ID != nil {
				conn.WriteJSON(&Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: ErrCodeInvalidRequest, Message: "session not initialized"}})
			}
			continue
		}

		resp := s.router.HandleMessage(ctx, sess, data)
		if resp != nil {
			conn.WriteJSON(resp)
		}
	}
}

func (s *HTTPServer) wsInitialize(conn *wsConn, r *http.Request, req *Request) *session.Session {
	var params InitializeParams
	if req.Params != nil {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			conn.WriteJSON(&Response{JSONRPC: "2.0", ID: req.ID, Error: &RPCError{Code: ErrCodeInvalidParams, Message: "invalid initialize params", Data: err.Error()}})
			return nil
		}
	}
	sources := session.Sources{
		Path:        wsPathNamespace(r.URL.Path),
		Header:      r.Header.Get(namespaceHeader),
		Subprotocol: conn.conn.Subprotocol(),
	}
	sess, result := s.router.HandleInitialize(sources, params)
	conn.WriteJSON(&Response{JSONRPC: "2.0", ID: req.ID, Result: result})
	return sess
}

// wsPathNamespace extracts {namespace} from /mcp/ws/{namespace}.
func wsPathNamespace(path string) string {
	trimmed := strings.TrimPrefix(path, "/mcp/ws")
	return strings.Trim(trimmed, "/")
}

// forwardNotifications relays queued notify.Events to the client as JSON-RPC
// notifications until done closes or the subscription channel is drained on
// unsubscribe (spec.md §4.8).
func forwardNotifications(conn *wsConn, sub *notify.Subscription, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			method := string(NotifyWorkItemUpdate)
			if ev.Type == notify.Progress {
				method = string(NotifyProgress)
			}
			conn.WriteJSON(&Notification{JSONRPC: "2.0", Method: method, Params: ev})
		}
	}
}
