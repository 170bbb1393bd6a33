package workitem

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	store, err := vectorstore.Open(filepath.Join(dir, "store"), 16)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, slog.Default())
}

func mustCreate(t *testing.T, s *Service, ns string, in CreateInput) *WorkItem {
	t.Helper()
	item, err := s.Create(context.Background(), ns, in)
	if err != nil {
		t.Fatalf("Create %s: %v", in.Title, err)
	}
	return item
}

func TestCreate_AppendsToSiblingGroup(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	i := mustCreate(t, s, "demo", CreateInput{Type: Initiative, Title: "Build X"})
	a := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "Backend", ParentID: &i.ID})
	b := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "Frontend", ParentID: &i.ID})

	if a.OrderIndex != 0 || b.OrderIndex != 1 {
		t.Fatalf("order_index = %d, %d; want 0, 1", a.OrderIndex, b.OrderIndex)
	}

	got, err := s.Get(ctx, "demo", b.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SequenceNumber != "1.2" {
		t.Fatalf("SequenceNumber = %q, want 1.2", got.SequenceNumber)
	}
}

func TestCreate_RejectsDisallowedHierarchy(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E"})

	if _, err := s.Create(ctx, "demo", CreateInput{Type: Story, Title: "valid story", ParentID: &e.ID}); err != nil {
		t.Fatalf("epic->story should be allowed: %v", err)
	}

	_, err := s.Create(ctx, "demo", CreateInput{Type: Initiative, Title: "bad", ParentID: &e.ID})
	if apperr.CodeOf(err) != apperr.Hierarchy {
		t.Fatalf("expected ErrHierarchy, got %v", err)
	}
}

func TestCreate_RejectsInvalidTitle(t *testing.T) {
	s := newTestService(t)
	_, err := s.Create(context.Background(), "demo", CreateInput{Type: Task, Title: ""})
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("expected ErrValidation for empty title, got %v", err)
	}
}

// TestProgressPropagation mirrors spec scenario S1: completing three tasks
// one at a time under initiative -> epic -> story should propagate progress
// and status all the way to the root at each step.
func TestProgressPropagation_S1(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	ns := "demo"

	i := mustCreate(t, s, ns, CreateInput{Type: Initiative, Title: "Build X"})
	e := mustCreate(t, s, ns, CreateInput{Type: Epic, Title: "Backend", ParentID: &i.ID})
	story := mustCreate(t, s, ns, CreateInput{Type: Story, Title: "CRUD", ParentID: &e.ID})
	t1 := mustCreate(t, s, ns, CreateInput{Type: Task, Title: "T1", ParentID: &story.ID})
	t2 := mustCreate(t, s, ns, CreateInput{Type: Task, Title: "T2", ParentID: &story.ID})
	_ = mustCreate(t, s, ns, CreateInput{Type: Task, Title: "T3", ParentID: &story.ID})

	completed := Completed
	if _, err := s.Update(ctx, ns, t1.ID, UpdateInput{Status: &completed}); err != nil {
		t.Fatalf("complete T1: %v", err)
	}

	storyAfter, _ := s.Get(ctx, ns, story.ID)
	epicAfter, _ := s.Get(ctx, ns, e.ID)
	initAfter, _ := s.Get(ctx, ns, i.ID)

	if approxNotEqual(storyAfter.Progress, 1.0/3.0) {
		t.Fatalf("story.progress = %v, want ~0.333", storyAfter.Progress)
	}
	if storyAfter.Status != InProgress {
		t.Fatalf("story.status = %v, want in_progress", storyAfter.Status)
	}
	if approxNotEqual(epicAfter.Progress, 1.0/3.0) {
		t.Fatalf("epic.progress = %v, want ~0.333", epicAfter.Progress)
	}
	if approxNotEqual(initAfter.Progress, 1.0/3.0) {
		t.Fatalf("initiative.progress = %v, want ~0.333", initAfter.Progress)
	}

	if _, err := s.Update(ctx, ns, t2.ID, UpdateInput{Status: &completed}); err != nil {
		t.Fatalf("complete T2: %v", err)
	}
	t3, err := s.Get(ctx, ns, story.ID)
	if err != nil {
		t.Fatalf("Get story: %v", err)
	}
	_ = t3

	kids, _ := s.children(ctx, nil, ns, &story.ID)
	for _, k := range kids {
		if k.Title == "T3" {
			if _, err := s.Update(ctx, ns, k.ID, UpdateInput{Status: &completed}); err != nil {
				t.Fatalf("complete T3: %v", err)
			}
		}
	}

	storyFinal, _ := s.Get(ctx, ns, story.ID)
	epicFinal, _ := s.Get(ctx, ns, e.ID)
	initFinal, _ := s.Get(ctx, ns, i.ID)

	if storyFinal.Progress != 1.0 || storyFinal.Status != Completed {
		t.Fatalf("story final = %v/%v, want 1.0/completed", storyFinal.Progress, storyFinal.Status)
	}
	if epicFinal.Progress != 1.0 || epicFinal.Status != Completed {
		t.Fatalf("epic final = %v/%v, want 1.0/completed", epicFinal.Progress, epicFinal.Status)
	}
	if initFinal.Progress != 1.0 || initFinal.Status != Completed {
		t.Fatalf("initiative final = %v/%v, want 1.0/completed", initFinal.Progress, initFinal.Status)
	}
}

func approxNotEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > 1e-6
}

func TestUpdate_NonLeafRejectsManualStatusExceptCancel(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E"})

	completed := Completed
	_, err := s.Update(ctx, "demo", e.ID, UpdateInput{Status: &completed})
	if apperr.CodeOf(err) != apperr.Derived {
		t.Fatalf("expected ErrDerived for non-leaf completed, got %v", err)
	}

	cancelled := Cancelled
	updated, err := s.Update(ctx, "demo", e.ID, UpdateInput{Status: &cancelled})
	if err != nil {
		t.Fatalf("manual cancel of non-leaf should succeed: %v", err)
	}
	if updated.Status != Cancelled {
		t.Fatalf("status = %v, want cancelled", updated.Status)
	}
}

// TestReorder_S3 mirrors spec scenario S3.
func TestReorder_S3(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "P"})
	a := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "A", ParentID: &p.ID})
	b := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "B", ParentID: &p.ID})
	c := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "C", ParentID: &p.ID})

	if _, err := s.Reorder(ctx, "demo", &p.ID, []string{c.ID, a.ID, b.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	cAfter, _ := s.Get(ctx, "demo", c.ID)
	aAfter, _ := s.Get(ctx, "demo", a.ID)
	bAfter, _ := s.Get(ctx, "demo", b.ID)

	if cAfter.SequenceNumber != "1.1" || aAfter.SequenceNumber != "1.2" || bAfter.SequenceNumber != "1.3" {
		t.Fatalf("sequence numbers after reorder = %s, %s, %s", cAfter.SequenceNumber, aAfter.SequenceNumber, bAfter.SequenceNumber)
	}
}

func TestReorder_RejectsSetMismatch(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "P"})
	a := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "A", ParentID: &p.ID})
	mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "B", ParentID: &p.ID})

	_, err := s.Reorder(ctx, "demo", &p.ID, []string{a.ID, "does-not-exist"})
	if apperr.CodeOf(err) != apperr.OrderSet {
		t.Fatalf("expected ErrOrderSet, got %v", err)
	}
}

func TestReorder_NoOpLeavesOrderUnchanged(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "P"})
	a := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "A", ParentID: &p.ID})
	b := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "B", ParentID: &p.ID})

	if _, err := s.Reorder(ctx, "demo", &p.ID, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("Reorder no-op: %v", err)
	}
	aAfter, _ := s.Get(ctx, "demo", a.ID)
	bAfter, _ := s.Get(ctx, "demo", b.ID)
	if aAfter.OrderIndex != 0 || bAfter.OrderIndex != 1 {
		t.Fatalf("order changed on no-op reorder: %d, %d", aAfter.OrderIndex, bAfter.OrderIndex)
	}
}

func TestDelete_CascadeRemovesSubtree(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E"})
	story := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "S", ParentID: &e.ID})
	task := mustCreate(t, s, "demo", CreateInput{Type: Task, Title: "T", ParentID: &story.ID})

	deleted, err := s.Delete(ctx, "demo", story.ID, true)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted = %v, want 2 ids", deleted)
	}

	if _, err := s.Get(ctx, "demo", task.ID); apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected task to be gone, got %v", err)
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E"})

	if _, err := s.Delete(ctx, "demo", e.ID, true); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	second, err := s.Delete(ctx, "demo", e.ID, true)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second delete = %v, want empty", second)
	}
}

func TestDelete_WithoutCascadeReparentsChildrenToRoot(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E"})
	story := mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "S", ParentID: &e.ID})

	if _, err := s.Delete(ctx, "demo", e.ID, false); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	after, err := s.Get(ctx, "demo", story.ID)
	if err != nil {
		t.Fatalf("Get story after orphan: %v", err)
	}
	if after.ParentID != nil {
		t.Fatalf("expected story to be reparented to root, got parent %v", *after.ParentID)
	}
}

func TestNamespaceIsolation_S4(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	x := mustCreate(t, s, "alpha", CreateInput{Type: Epic, Title: "X"})

	_, err := s.Get(ctx, "beta", x.ID)
	if apperr.CodeOf(err) != apperr.NotFound {
		t.Fatalf("expected ErrNotFound across namespaces, got %v", err)
	}
}

func TestGetHierarchy_FullHierarchyRespectsMaxDepth(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	i := mustCreate(t, s, "demo", CreateInput{Type: Initiative, Title: "I"})
	e := mustCreate(t, s, "demo", CreateInput{Type: Epic, Title: "E", ParentID: &i.ID})
	mustCreate(t, s, "demo", CreateInput{Type: Story, Title: "S", ParentID: &e.ID})

	result, err := s.GetHierarchy(ctx, "demo", i.ID, RelationFullHierarchy, 1, true, true)
	if err != nil {
		t.Fatalf("GetHierarchy: %v", err)
	}
	node, ok := result.(*Node)
	if !ok {
		t.Fatalf("expected *Node, got %T", result)
	}
	if len(node.Children) != 1 {
		t.Fatalf("expected 1 child at depth 1, got %d", len(node.Children))
	}
	if len(node.Children[0].Children) != 0 {
		t.Fatalf("expected depth cap to exclude grandchildren")
	}
}
