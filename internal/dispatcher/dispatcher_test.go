package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/markdown"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
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

	return New(workItems, arch, trouble, ctxSvc, matchSvc, vs, notify.New(), slog.Default())
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw
}

func TestDispatch_UnknownOperation(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "demo", "no_such_op", nil)
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("err = %v, want Validation", err)
	}
}

func TestListReturnsAllNineOperations(t *testing.T) {
	d := newTestDispatcher(t)
	ops := d.List()
	if len(ops) != 9 {
		t.Fatalf("len(ops) = %d, want 9", len(ops))
	}
}

func TestManageWorkItem_CreateUpdateDelete(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	created, err := d.Dispatch(ctx, "demo", "manage_work_item", mustJSON(t, map[string]any{
		"action": "create",
		"type":   "initiative",
		"title":  "Launch v2",
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	item := created.(*workitem.WorkItem)
	if item.Title != "Launch v2" {
		t.Fatalf("Title = %q", item.Title)
	}

	updated, err := d.Dispatch(ctx, "demo", "manage_work_item", mustJSON(t, map[string]any{
		"action":       "update",
		"work_item_id": item.ID,
		"title":        "Launch v2.1",
	}))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.(*workitem.WorkItem).Title != "Launch v2.1" {
		t.Fatalf("Title after update = %q", updated.(*workitem.WorkItem).Title)
	}

	deleted, err := d.Dispatch(ctx, "demo", "manage_work_item", mustJSON(t, map[string]any{
		"action":       "delete",
		"work_item_id": item.ID,
	}))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	ids := deleted.(map[string]any)["deleted_ids"].([]string)
	if len(ids) != 1 || ids[0] != item.ID {
		t.Fatalf("deleted_ids = %v", ids)
	}
}

func TestManageWorkItem_UpdateClearsParent(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	parent, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	child, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Epic, Title: "Child", ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("child not parented")
	}

	updated, err := d.Dispatch(ctx, "demo", "manage_work_item", mustJSON(t, map[string]any{
		"action":       "update",
		"work_item_id": child.ID,
		"parent_id":    "",
	}))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.(*workitem.WorkItem).ParentID != nil {
		t.Fatalf("ParentID = %v, want nil after clearing", updated.(*workitem.WorkItem).ParentID)
	}
}

func TestGetWorkItem_ResolvesByTitleAndID(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	created, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Revamp Billing"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	byID, err := d.Dispatch(ctx, "demo", "get_work_item", mustJSON(t, map[string]any{
		"work_item_id": created.ID,
		"format":       "minimal",
	}))
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.(map[string]any)["id"] != created.ID {
		t.Fatalf("byID = %+v", byID)
	}

	byTitle, err := d.Dispatch(ctx, "demo", "get_work_item", mustJSON(t, map[string]any{
		"slug_or_keyword": "revamp billing",
		"format":          "minimal",
	}))
	if err != nil {
		t.Fatalf("get by title: %v", err)
	}
	if byTitle.(map[string]any)["id"] != created.ID {
		t.Fatalf("byTitle = %+v", byTitle)
	}
}

func TestGetWorkItem_NotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "demo", "get_work_item", mustJSON(t, map[string]any{
		"slug_or_keyword": "nothing matches this at all",
	}))
	if apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestSearchContent_EmptyQueryHybridListsAll(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	if _, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Alpha"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Beta"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "search_content", mustJSON(t, map[string]any{
		"search_type": "hybrid",
	}))
	if err != nil {
		t.Fatalf("search_content: %v", err)
	}
	out := res.(map[string]any)
	if out["total_found"].(int) != 2 {
		t.Fatalf("total_found = %v, want 2", out["total_found"])
	}
}

func TestGetHierarchy_Children(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	parent, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	if _, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Epic, Title: "Child", ParentID: &parent.ID}); err != nil {
		t.Fatalf("Create child: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "get_hierarchy", mustJSON(t, map[string]any{
		"work_item_id": parent.ID,
		"relationship": "children",
	}))
	if err != nil {
		t.Fatalf("get_hierarchy: %v", err)
	}
	children := res.([]*workitem.WorkItem)
	if len(children) != 1 || children[0].Title != "Child" {
		t.Fatalf("children = %+v", children)
	}
}

func TestExecuteWorkItem_ExecuteAndCancel(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	item, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Task, Title: "Do a thing"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "execute_work_item", mustJSON(t, map[string]any{
		"work_item_id": item.ID,
		"action":       "execute",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	rec := res.(executionRecord)
	if rec.Status != string(workitem.InProgress) {
		t.Fatalf("Status = %q, want in_progress", rec.Status)
	}

	res, err = d.Dispatch(ctx, "demo", "execute_work_item", mustJSON(t, map[string]any{
		"work_item_id": item.ID,
		"action":       "cancel",
	}))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.(executionRecord).Status != string(workitem.Cancelled) {
		t.Fatalf("Status after cancel = %q", res.(executionRecord).Status)
	}
}

func TestTrackProgress_TrackAndAnalytics(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	parent, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	child, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Task, Title: "Child", ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}

	percent := 50.0
	_, err = d.Dispatch(ctx, "demo", "track_progress", mustJSON(t, map[string]any{
		"action":       "track",
		"work_item_id": child.ID,
		"percent":      percent,
	}))
	if err != nil {
		t.Fatalf("track: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "track_progress", mustJSON(t, map[string]any{
		"action":       "get_analytics",
		"work_item_id": parent.ID,
	}))
	if err != nil {
		t.Fatalf("get_analytics: %v", err)
	}
	analytics := res.(map[string]any)
	if analytics["descendant_count"].(int) != 1 {
		t.Fatalf("descendant_count = %v", analytics["descendant_count"])
	}
}

func TestReorderWorkItems(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	parent, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	a, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Epic, Title: "A", ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Epic, Title: "B", ParentID: &parent.ID})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "reorder_work_items", mustJSON(t, map[string]any{
		"parent_id":      parent.ID,
		"work_item_ids":  []string{b.ID, a.ID},
	}))
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	items := res.([]*workitem.WorkItem)
	if items[0].ID != b.ID || items[1].ID != a.ID {
		t.Fatalf("reordered = %+v", items)
	}
}

func TestMemoryOp_ArchitectureCRUD(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	created, err := d.Dispatch(ctx, "demo", "memory", mustJSON(t, map[string]any{
		"memory_type": "architecture",
		"action":      "create",
		"payload": map[string]any{
			"slug":  "auth-flow",
			"title": "Auth Flow",
		},
	}))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.(*memory.ArchitectureItem).Slug != "auth-flow" {
		t.Fatalf("created = %+v", created)
	}

	read, err := d.Dispatch(ctx, "demo", "memory", mustJSON(t, map[string]any{
		"memory_type": "architecture",
		"action":      "read",
		"payload":     map[string]any{"slug": "auth-flow"},
	}))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if read.(*memory.ArchitectureItem).Title != "Auth Flow" {
		t.Fatalf("read = %+v", read)
	}

	if _, err := d.Dispatch(ctx, "demo", "memory", mustJSON(t, map[string]any{
		"memory_type": "architecture",
		"action":      "delete",
		"payload":     map[string]any{"slug": "auth-flow"},
	})); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.Arch.GetBySlug(ctx, "demo", "auth-flow"); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestMemoryOp_TroubleshootMatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.Trouble.Create(ctx, "demo", memory.TroubleshootInput{
		Slug:        "db-lock-timeout",
		Title:       strp("DB lock timeout"),
		AISolutions: strp("Increase busy_timeout and retry with backoff."),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := d.Dispatch(ctx, "demo", "memory", mustJSON(t, map[string]any{
		"memory_type": "troubleshoot",
		"action":      "match",
		"payload":     map[string]any{"query": "database is locked and times out"},
	}))
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	matches := res.([]memory.Match)
	if len(matches) != 1 || matches[0].Slug != "db-lock-timeout" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestSyncData_ExportImportRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()
	if _, err := d.WorkItems.Create(ctx, "demo", workitem.CreateInput{Type: workitem.Initiative, Title: "Alpha"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	exported, err := d.Dispatch(ctx, "demo", "sync_data", mustJSON(t, map[string]any{
		"action": "export",
		"kinds":  []string{"work_item"},
	}))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	docs := exported.(map[string][]string)["work_item"]
	if len(docs) != 1 {
		t.Fatalf("docs = %v", docs)
	}

	imported, err := d.Dispatch(ctx, "demo", "sync_data", mustJSON(t, map[string]any{
		"action": "import",
		"kinds":  []string{"work_item"},
		"mode":   "create_or_update",
		"docs":   docs,
	}))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	results := imported.(map[string]*markdown.ImportResult)
	if results["work_item"].Updated != 1 {
		t.Fatalf("results = %+v", results)
	}
}

func TestSyncData_BackupActionRejected(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Dispatch(context.Background(), "demo", "sync_data", mustJSON(t, map[string]any{
		"action": "backup",
	}))
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("err = %v, want Validation", err)
	}
}

func strp(s string) *string { return &s }
