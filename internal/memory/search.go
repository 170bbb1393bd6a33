package memory

import (
	"context"
	"strings"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

// SearchType selects the ranking strategy for ArchitectureStore.Search and
// TroubleshootStore.Search, mirroring workitem.SearchType.
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchKeyword  SearchType = "keyword"
	SearchHybrid   SearchType = "hybrid"
)

// runSearch dispatches to the matching vectorstore.Store ranking method,
// shared by ArchitectureStore.Search and TroubleshootStore.Search (both
// grounded on internal/workitem/search.go's Search).
func runSearch(ctx context.Context, store *vectorstore.Store, kind, namespace string, searchType SearchType, query string, limit int) ([]vectorstore.Scored, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validationf("query is required")
	}
	switch searchType {
	case SearchKeyword:
		return store.KeywordTopK(ctx, nil, kind, namespace, query, limit, nil)
	case SearchSemantic:
		vec := store.Embedder().Embed(query)
		return store.VectorTopK(ctx, nil, kind, namespace, vec, limit, nil)
	case SearchHybrid, "":
		vec := store.Embedder().Embed(query)
		return store.HybridTopK(ctx, nil, kind, namespace, vec, query, limit, nil)
	default:
		return nil, apperr.Validationf("unknown search_type %q", searchType)
	}
}

func recordsOf(scored []vectorstore.Scored) []vectorstore.Record {
	recs := make([]vectorstore.Record, 0, len(scored))
	for _, sc := range scored {
		recs = append(recs, sc.Record)
	}
	return recs
}
