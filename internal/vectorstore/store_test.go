package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDataDirAndDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "nested", "store"), 8)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if s.Dimension() != 8 {
		t.Fatalf("Dimension() = %d, want 8", s.Dimension())
	}
}

func TestOpen_RejectsEmptyDir(t *testing.T) {
	if _, err := Open("", 8); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestUpsertGetDelete_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data, _ := json.Marshal(map[string]string{"title": "write onboarding doc"})
	rec := Record{ID: "wi-1", Namespace: "acme", SearchText: "write onboarding doc", Data: data}

	if err := s.Upsert(ctx, nil, "work_items", "acme", rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, nil, "work_items", "acme", "wi-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if got.SearchText != rec.SearchText {
		t.Fatalf("SearchText = %q, want %q", got.SearchText, rec.SearchText)
	}
	if len(got.Vector) != s.Dimension() {
		t.Fatalf("Vector len = %d, want %d", len(got.Vector), s.Dimension())
	}

	if err := s.Delete(ctx, nil, "work_items", "acme", "wi-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = s.Get(ctx, nil, "work_items", "acme", "wi-1")
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected record to be gone after Delete")
	}
}

func TestGet_MissingReturnsFalseNotError(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), nil, "work_items", "acme", "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for missing record")
	}
}

func TestUpsert_IsolatesByNamespace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := Record{ID: "shared-id", Namespace: "ns-a", SearchText: "alpha"}
	if err := s.Upsert(ctx, nil, "work_items", "ns-a", rec); err != nil {
		t.Fatalf("Upsert ns-a: %v", err)
	}

	_, ok, err := s.Get(ctx, nil, "work_items", "ns-b", "shared-id")
	if err != nil {
		t.Fatalf("Get ns-b: %v", err)
	}
	if ok {
		t.Fatalf("expected namespace isolation: record from ns-a visible in ns-b")
	}
}

func TestWithNamespaceTx_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.EnsureTable(ctx, "work_items", "acme"); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	sentinel := "boom"
	err := s.WithNamespaceTx(ctx, "acme", func(ctx context.Context, tx *sql.Tx) error {
		if err := s.Upsert(ctx, tx, "work_items", "acme", Record{ID: "wi-2", Namespace: "acme"}); err != nil {
			return err
		}
		return errString(sentinel)
	})
	if err == nil {
		t.Fatalf("expected error from WithNamespaceTx")
	}

	_, ok, getErr := s.Get(ctx, nil, "work_items", "acme", "wi-2")
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if ok {
		t.Fatalf("expected rollback to discard wi-2")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
