package memory

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

func TestMatch_SuccessRateBoostsRanking(t *testing.T) {
	dir := t.TempDir()
	vs, err := vectorstore.Open(filepath.Join(dir, "store"), 32)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer vs.Close()

	trouble := NewTroubleshootStore(vs, slog.Default())
	ctx := context.Background()

	mustCreateTrouble(t, trouble, "demo", "q1", 5, 5)
	mustCreateTrouble(t, trouble, "demo", "q2", 1, 1)
	mustCreateTrouble(t, trouble, "demo", "q3", 0, 0)

	m := NewMatchService(vs, trouble, DefaultMatchWeights, slog.Default())
	results, err := m.Match(ctx, "demo", "CORS preflight 401 response", 10, 3)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Slug != "q1" {
		t.Fatalf("top result = %q, want q1 (highest success rate and usage)", results[0].Slug)
	}
}

func mustCreateTrouble(t *testing.T, s *TroubleshootStore, ns, slug string, usage, success int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Create(ctx, ns, TroubleshootInput{
		Slug:        slug,
		Title:       strp("CORS preflight failure " + slug),
		AISolutions: strp("Add Access-Control-Allow-Origin header to the preflight response."),
		AIUseCase:   strsp([]string{"CORS preflight failed", "CORS preflight 401 response"}),
	})
	if err != nil {
		t.Fatalf("Create %s: %v", slug, err)
	}
	for i := 0; i < usage; i++ {
		outcome := OutcomeFail
		if i < success {
			outcome = OutcomeSuccess
		}
		if _, err := s.RecordUse(ctx, ns, slug, outcome); err != nil {
			t.Fatalf("RecordUse %s: %v", slug, err)
		}
	}
}
