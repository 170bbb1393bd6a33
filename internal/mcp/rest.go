package mcp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

var errMissingID = errors.New("missing required \"id\" query parameter")

// mountREST wires the lightweight REST façade spec.md §4.7/§6 describe for
// the browser UI: thin translators onto router's dispatcher, accepting
// X-Namespace instead of a bound session. Grounded on
// _examples/Heikkila-Pty-Ltd-cortex/internal/api/api.go's
// writeJSON/writeError + one HandleFunc per resource pattern.
func mountREST(mux *http.ServeMux, router *Router, startedAt time.Time) {
	rest := &restFacade{router: router, startedAt: startedAt}
	mux.HandleFunc("/api/work_items", rest.handleWorkItems)
	mux.HandleFunc("/api/work_items/", rest.handleWorkItemDetail)
	mux.HandleFunc("/api/search", rest.handleSearch)
	mux.HandleFunc("/api/hierarchy", rest.handleHierarchy)
	mux.HandleFunc("/api/memory", rest.handleMemory)
	mux.HandleFunc("/api/status", rest.handleStatus)
}

type restFacade struct {
	router    *Router
	startedAt time.Time
}

func restWriteJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func restWriteError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (rf *restFacade) namespace(r *http.Request) string {
	if ns := r.Header.Get(namespaceHeader); ns != "" {
		return ns
	}
	return "default"
}

func (rf *restFacade) call(r *http.Request, op string, args any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return rf.router.Dispatcher.Dispatch(r.Context(), rf.namespace(r), op, raw)
}

// GET /api/work_items?status=&type=&query=   POST /api/work_items
func (rf *restFacade) handleWorkItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		args := map[string]any{
			"query":       q.Get("query"),
			"search_type": orDefault(q.Get("mode"), "hybrid"),
			"limit":       queryInt(q, "limit", 20),
			"filters":     searchFilters(q),
		}
		result, err := rf.call(r, "search_content", args)
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	case http.MethodPost:
		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			restWriteError(w, http.StatusBadRequest, err)
			return
		}
		result, err := rf.router.Dispatcher.Dispatch(r.Context(), rf.namespace(r), "manage_work_item", body)
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// GET /api/work_items/{id}, PATCH/DELETE /api/work_items/{id}
func (rf *restFacade) handleWorkItemDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/work_items/")
	if id == "" {
		rf.handleWorkItems(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		result, err := rf.call(r, "get_work_item", map[string]any{"work_item_id": id})
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	case http.MethodPatch:
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			restWriteError(w, http.StatusBadRequest, err)
			return
		}
		fields["action"] = "update"
		fields["work_item_id"] = id
		result, err := rf.call(r, "manage_work_item", fields)
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	case http.MethodDelete:
		result, err := rf.call(r, "manage_work_item", map[string]any{"action": "delete", "work_item_id": id})
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// GET /api/search?q=&mode=&limit=
func (rf *restFacade) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{
		"query":       q.Get("q"),
		"search_type": orDefault(q.Get("mode"), "hybrid"),
		"limit":       queryInt(q, "limit", 20),
	}
	result, err := rf.call(r, "search_content", args)
	if err != nil {
		restWriteError(w, statusFor(err), err)
		return
	}
	restWriteJSON(w, result)
}

// GET /api/hierarchy?id=&relation=
func (rf *restFacade) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("id") == "" {
		restWriteError(w, http.StatusBadRequest, errMissingID)
		return
	}
	args := map[string]any{
		"work_item_id": q.Get("id"),
		"relationship": orDefault(q.Get("relation"), "children"),
	}
	result, err := rf.call(r, "get_hierarchy", args)
	if err != nil {
		restWriteError(w, statusFor(err), err)
		return
	}
	restWriteJSON(w, result)
}

// GET /api/memory?type=&action=&query=...   POST /api/memory
func (rf *restFacade) handleMemory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		args := map[string]any{
			"memory_type": orDefault(q.Get("type"), "architecture"),
			"action":      orDefault(q.Get("action"), "list"),
			"payload": map[string]any{
				"query": q.Get("query"),
				"mode":  orDefault(q.Get("mode"), "hybrid"),
				"limit": queryInt(q, "limit", 20),
			},
		}
		result, err := rf.call(r, "memory", args)
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	case http.MethodPost:
		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			restWriteError(w, http.StatusBadRequest, err)
			return
		}
		result, err := rf.router.Dispatcher.Dispatch(r.Context(), rf.namespace(r), "memory", body)
		if err != nil {
			restWriteError(w, statusFor(err), err)
			return
		}
		restWriteJSON(w, result)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// GET /api/status — server name and version, open session count, registered
// operation count, and a humanized uptime,
// mirroring cortex's /status endpoint.
func (rf *restFacade) handleStatus(w http.ResponseWriter, r *http.Request) {
	restWriteJSON(w, map[string]any{
		"server":        rf.router.Info.Name,
		"version":       rf.router.Info.Version,
		"open_sessions": rf.router.Binder.Count(),
		"operations":    len(rf.router.Dispatcher.List()),
		"uptime":        humanize.RelTime(rf.startedAt, time.Now(), "", ""),
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func queryInt(q map[string][]string, key string, def int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 {
		return def
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil {
		return def
	}
	return n
}

func searchFilters(q map[string][]string) map[string]any {
	filters := map[string]any{}
	if v := firstOf(q, "status"); v != "" {
		filters["status"] = v
	}
	if v := firstOf(q, "type"); v != "" {
		filters["type"] = v
	}
	return filters
}

func firstOf(q map[string][]string, key string) string {
	if vals, ok := q[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// statusFor maps a domain error's apperr.Code onto an HTTP status, mirroring
// rpcErrorFor's JSON-RPC mapping for the REST façade.
func statusFor(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Validation, apperr.Hierarchy, apperr.Cycle, apperr.OrderSet, apperr.Derived:
		return http.StatusBadRequest
	case apperr.NamespaceBinding:
		return http.StatusForbidden
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
