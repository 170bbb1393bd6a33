package vectorstore

import (
	"context"
	"testing"
)

func seedRecord(t *testing.T, s *Store, kind, namespace, id, text string) {
	t.Helper()
	rec := Record{ID: id, Namespace: namespace, SearchText: text}
	if err := s.Upsert(context.Background(), nil, kind, namespace, rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestScan_FiltersByNamespaceAndPredicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "work_items", "acme", "wi-1", "write onboarding doc")
	seedRecord(t, s, "work_items", "acme", "wi-2", "fix login bug")
	seedRecord(t, s, "work_items", "other", "wi-3", "unrelated namespace record")

	all, err := s.Scan(ctx, nil, "work_items", "acme", nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Scan len = %d, want 2", len(all))
	}

	filtered, err := s.Scan(ctx, nil, "work_items", "acme", func(data []byte) bool { return false })
	if err != nil {
		t.Fatalf("Scan with filter: %v", err)
	}
	if len(filtered) != 0 {
		t.Fatalf("expected filter to exclude everything, got %d", len(filtered))
	}
}

func TestVectorTopK_RanksBySimilarityDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "work_items", "acme", "wi-1", "deploy the payments service to production")
	seedRecord(t, s, "work_items", "acme", "wi-2", "write release notes for the payments service")
	seedRecord(t, s, "work_items", "acme", "wi-3", "water the office plants")

	query := s.Embedder().Embed("deploy payments service")
	results, err := s.VectorTopK(ctx, nil, "work_items", "acme", query, 2, nil)
	if err != nil {
		t.Fatalf("VectorTopK: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("expected descending score order, got %v then %v", results[0].Score, results[1].Score)
	}
}

func TestVectorTopK_ZeroKReturnsNil(t *testing.T) {
	s := newTestStore(t)
	results, err := s.VectorTopK(context.Background(), nil, "work_items", "acme", nil, 0, nil)
	if err != nil {
		t.Fatalf("VectorTopK: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil for k=0, got %v", results)
	}
}

func TestKeywordTopK_MatchesOnSearchText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "work_items", "acme", "wi-1", "fix login redirect bug")
	seedRecord(t, s, "work_items", "acme", "wi-2", "write onboarding documentation")

	results, err := s.KeywordTopK(ctx, nil, "work_items", "acme", "login", 5, nil)
	if err != nil {
		t.Fatalf("KeywordTopK: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "wi-1" {
		t.Fatalf("expected only wi-1 to match 'login', got %+v", results)
	}
}

func TestKeywordTopK_EmptyQueryReturnsNil(t *testing.T) {
	s := newTestStore(t)
	results, err := s.KeywordTopK(context.Background(), nil, "work_items", "acme", "   ", 5, nil)
	if err != nil {
		t.Fatalf("KeywordTopK: %v", err)
	}
	if results != nil {
		t.Fatalf("expected nil for blank query, got %v", results)
	}
}

func TestHybridTopK_FusesVectorAndKeywordRankings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRecord(t, s, "work_items", "acme", "wi-1", "deploy payments service to production")
	seedRecord(t, s, "work_items", "acme", "wi-2", "payments service incident retro")
	seedRecord(t, s, "work_items", "acme", "wi-3", "water the office plants")

	query := s.Embedder().Embed("payments service")
	results, err := s.HybridTopK(ctx, nil, "work_items", "acme", query, "payments", 2, nil)
	if err != nil {
		t.Fatalf("HybridTopK: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one hybrid result")
	}
	for _, r := range results {
		if r.Record.ID == "wi-3" {
			t.Fatalf("unrelated record wi-3 should not rank in hybrid results, got %+v", results)
		}
	}
}

func TestRetryBusy_StopsOnNonBusyError(t *testing.T) {
	calls := 0
	err := RetryBusy(context.Background(), 5, func() error {
		calls++
		return errString("permanent failure")
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for a non-busy error, got %d", calls)
	}
}

func TestRetryBusy_SucceedsEventually(t *testing.T) {
	calls := 0
	err := RetryBusy(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return errString("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
