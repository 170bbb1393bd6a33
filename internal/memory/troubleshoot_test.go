package memory

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

func newTestTroubleStore(t *testing.T) *TroubleshootStore {
	t.Helper()
	dir := t.TempDir()
	vs, err := vectorstore.Open(filepath.Join(dir, "store"), 16)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { vs.Close() })
	return NewTroubleshootStore(vs, slog.Default())
}

func TestTroubleshootRecordUse_IncrementsCounters(t *testing.T) {
	s := newTestTroubleStore(t)
	ctx := context.Background()

	item, err := s.Create(ctx, "demo", TroubleshootInput{
		Slug:        "cors-preflight",
		Title:       strp("CORS preflight failure"),
		AISolutions: strp("Add Access-Control-Allow-Origin header."),
		AIUseCase:   strsp([]string{"CORS preflight failed"}),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.SuccessRate() != 0 {
		t.Fatalf("SuccessRate = %v, want 0 before any use", item.SuccessRate())
	}

	if _, err := s.RecordUse(ctx, "demo", "cors-preflight", OutcomeSuccess); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	got, err := s.GetBySlug(ctx, "demo", "cors-preflight")
	if err != nil {
		t.Fatalf("GetBySlug: %v", err)
	}
	if got.UsageCount != 1 || got.SuccessCount != 1 {
		t.Fatalf("usage=%d success=%d, want 1,1", got.UsageCount, got.SuccessCount)
	}

	if _, err := s.RecordUse(ctx, "demo", "cors-preflight", OutcomeFail); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}
	got, _ = s.GetBySlug(ctx, "demo", "cors-preflight")
	if got.UsageCount != 2 || got.SuccessCount != 1 {
		t.Fatalf("usage=%d success=%d, want 2,1", got.UsageCount, got.SuccessCount)
	}
	if got.SuccessRate() != 0.5 {
		t.Fatalf("SuccessRate = %v, want 0.5", got.SuccessRate())
	}
}
