package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/taskmind/internal/dispatcher"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/session"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

func newTestRouter(t *testing.T) (*Router, *notify.Notifier) {
	t.Helper()
	dir := t.TempDir()
	vs, err := vectorstore.Open(filepath.Join(dir, "store"), 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	workItems := workitem.New(vs, slog.Default())
	arch := memory.NewArchitectureStore(vs, slog.Default())
	trouble := memory.NewTroubleshootStore(vs, slog.Default())
	ctxSvc := memory.NewContextService(arch, slog.Default())
	matchSvc := memory.NewMatchService(vs, trouble, memory.DefaultMatchWeights, slog.Default())
	notifier := notify.New()

	d := dispatcher.New(workItems, arch, trouble, ctxSvc, matchSvc, vs, notifier, slog.Default())
	b := session.NewBinder()
	return NewRouter(d, b, "test", slog.Default()), notifier
}

func TestRouter_HandleInitializeResolvesNamespace(t *testing.T) {
	r, _ := newTestRouter(t)
	sess, result := r.HandleInitialize(session.Sources{Path: "acme"}, InitializeParams{})
	if sess.Namespace != "acme" {
		t.Fatalf("Namespace = %q, want acme", sess.Namespace)
	}
	if result.ServerInfo.Name != ServerName {
		t.Fatalf("ServerInfo.Name = %q", result.ServerInfo.Name)
	}
}

func TestRouter_HandleToolsListReturnsNineOperations(t *testing.T) {
	r, _ := newTestRouter(t)
	list := r.HandleToolsList()
	if len(list.Tools) != 9 {
		t.Fatalf("len(Tools) = %d, want 9", len(list.Tools))
	}
}

func TestRouter_HandleToolsCall_DomainErrorIsNotRPCError(t *testing.T) {
	r, _ := newTestRouter(t)
	sess, _ := r.HandleInitialize(session.Sources{Path: "demo"}, InitializeParams{})

	params, _ := json.Marshal(ToolsCallParams{Name: "get_work_item", Arguments: mustRaw(t, map[string]any{"work_item_id": "no-such-id"})})
	result, rpcErr := r.HandleToolsCall(context.Background(), sess, params)
	if rpcErr != nil {
		t.Fatalf("rpcErr = %v, want nil (domain errors surface as isError content)", rpcErr)
	}
	if !result.IsError {
		t.Fatalf("IsError = false, want true")
	}
}

func TestRouter_HandleMessage_UnknownMethod(t *testing.T) {
	r, _ := newTestRouter(t)
	sess, _ := r.HandleInitialize(session.Sources{Path: "demo"}, InitializeParams{})
	req := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "nope"}
	data, _ := json.Marshal(req)
	resp := r.HandleMessage(context.Background(), sess, data)
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("resp.Error = %+v, want ErrCodeMethodNotFound", resp.Error)
	}
}

func TestRouter_HandleMessage_NotificationHasNoResponse(t *testing.T) {
	r, _ := newTestRouter(t)
	sess, _ := r.HandleInitialize(session.Sources{Path: "demo"}, InitializeParams{})
	req := Request{JSONRPC: "2.0", Method: "tools/list"}
	data, _ := json.Marshal(req)
	if resp := r.HandleMessage(context.Background(), sess, data); resp != nil {
		t.Fatalf("resp = %+v, want nil for a notification (no id)", resp)
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw
}

func TestHTTPServer_InitializeThenToolsCall(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := &HTTPServer{router: router, notifier: notify.New(), log: slog.Default()}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", srv.handleMCP)
	mux.HandleFunc("/mcp/", srv.handleMCP)
	mountREST(mux, router, time.Now())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	initReq := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize", Params: mustRaw(t, InitializeParams{})}
	resp, err := http.Post(ts.URL+"/mcp/acme", "application/json", strings.NewReader(string(mustRaw(t, initReq))))
	if err != nil {
		t.Fatalf("POST initialize: %v", err)
	}
	defer resp.Body.Close()
	sessionID := resp.Header.Get(sessionHeader)
	if sessionID == "" {
		t.Fatalf("missing %s response header", sessionHeader)
	}

	callReq := Request{JSONRPC: "2.0", ID: json.RawMessage("2"), Method: "tools/call", Params: mustRaw(t, ToolsCallParams{
		Name:      "manage_work_item",
		Arguments: mustRaw(t, map[string]any{"action": "create", "type": "initiative", "title": "Ship it"}),
	})}
	httpReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp/acme", strings.NewReader(string(mustRaw(t, callReq))))
	httpReq.Header.Set(sessionHeader, sessionID)
	callResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("POST tools/call: %v", err)
	}
	defer callResp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(callResp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error != nil {
		t.Fatalf("decoded.Error = %+v", decoded.Error)
	}
}

func TestHTTPServer_NamespaceMismatchClosesSession(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := &HTTPServer{router: router, notifier: notify.New(), log: slog.Default()}
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", srv.handleMCP)
	mux.HandleFunc("/mcp/", srv.handleMCP)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	initReq := Request{JSONRPC: "2.0", ID: json.RawMessage("1"), Method: "initialize", Params: mustRaw(t, InitializeParams{})}
	resp, _ := http.Post(ts.URL+"/mcp/acme", "application/json", strings.NewReader(string(mustRaw(t, initReq))))
	sessionID := resp.Header.Get(sessionHeader)
	resp.Body.Close()

	callReq := Request{JSONRPC: "2.0", ID: json.RawMessage("2"), Method: "tools/list"}
	httpReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp/other-namespace", strings.NewReader(string(mustRaw(t, callReq))))
	httpReq.Header.Set(sessionHeader, sessionID)
	callResp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer callResp.Body.Close()

	var decoded Response
	json.NewDecoder(callResp.Body).Decode(&decoded)
	if decoded.Error == nil {
		t.Fatalf("expected a namespace-binding error, got nil")
	}
}

func TestHandleHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	srv := &HTTPServer{router: router, notifier: notify.New(), mode: ModeHTTP, log: slog.Default()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.handleHealth(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("status field = %v", body["status"])
	}
}

func TestRESTFacade_WorkItemCreateAndFetch(t *testing.T) {
	router, _ := newTestRouter(t)
	mux := http.NewServeMux()
	mountREST(mux, router, time.Now())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	createBody := mustRaw(t, map[string]any{"action": "create", "type": "initiative", "title": "Via REST"})
	createReq, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/work_items", strings.NewReader(string(createBody)))
	createReq.Header.Set(namespaceHeader, "acme")
	createResp, err := http.DefaultClient.Do(createReq)
	if err != nil {
		t.Fatalf("POST /api/work_items: %v", err)
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", createResp.StatusCode)
	}
	var created workitem.WorkItem
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("created.ID is empty")
	}

	getReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/work_items/"+created.ID, nil)
	getReq.Header.Set(namespaceHeader, "acme")
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", getResp.StatusCode)
	}
}

func TestRESTFacade_HierarchyMissingID(t *testing.T) {
	router, _ := newTestRouter(t)
	mux := http.NewServeMux()
	mountREST(mux, router, time.Now())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/hierarchy")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRESTFacade_StatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	mux := http.NewServeMux()
	mountREST(mux, router, time.Now().Add(-time.Hour))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["server"] != ServerName {
		t.Fatalf("server = %v", body["server"])
	}
	if body["operations"].(float64) != 9 {
		t.Fatalf("operations = %v", body["operations"])
	}
}
