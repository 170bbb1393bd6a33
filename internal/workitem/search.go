package workitem

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

// SearchType selects the ranking strategy for Search (spec.md §4.2
// search_content's search_type).
type SearchType string

const (
	SearchSemantic SearchType = "semantic"
	SearchKeyword  SearchType = "keyword"
	SearchHybrid   SearchType = "hybrid"
)

// SearchFilters narrows Search to items matching every non-nil field.
type SearchFilters struct {
	Type     *Type
	Status   *Status
	Priority *Priority
	ParentID *string
}

func (f SearchFilters) match(w *WorkItem) bool {
	if f.Type != nil && w.Type != *f.Type {
		return false
	}
	if f.Status != nil && w.Status != *f.Status {
		return false
	}
	if f.Priority != nil && w.Priority != *f.Priority {
		return false
	}
	if f.ParentID != nil {
		if w.ParentID == nil || *w.ParentID != *f.ParentID {
			return false
		}
	}
	return true
}

func (f SearchFilters) filterFunc() func(raw []byte) bool {
	return func(raw []byte) bool {
		var w WorkItem
		if err := json.Unmarshal(raw, &w); err != nil {
			return false
		}
		return f.match(&w)
	}
}

// Search implements search_content over work items (spec.md §4.2, §4.3). An
// empty query under SearchHybrid is legal and means "list, most recently
// updated first" (spec.md §4.2's tie-breaking rule); other search types
// reject an empty query as returning nothing meaningful to rank.
func (s *Service) Search(ctx context.Context, namespace string, searchType SearchType, query string, filters SearchFilters, limit int) ([]*WorkItem, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 200 {
		limit = 200
	}
	filterFn := filters.filterFunc()

	if strings.TrimSpace(query) == "" {
		if searchType != SearchHybrid {
			return nil, 0, apperr.Validationf("empty query is only meaningful for search_type=hybrid")
		}
		recs, err := s.store.Scan(ctx, nil, Kind, namespace, filterFn)
		if err != nil {
			return nil, 0, err
		}
		items, err := decodeAll(recs)
		if err != nil {
			return nil, 0, err
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
		total := len(items)
		if len(items) > limit {
			items = items[:limit]
		}
		return items, total, nil
	}

	var scored []vectorstore.Scored
	var err error
	switch searchType {
	case SearchKeyword:
		scored, err = s.store.KeywordTopK(ctx, nil, Kind, namespace, query, limit, filterFn)
	case SearchSemantic:
		vec := s.store.Embedder().Embed(query)
		scored, err = s.store.VectorTopK(ctx, nil, Kind, namespace, vec, limit, filterFn)
	case SearchHybrid, "":
		vec := s.store.Embedder().Embed(query)
		scored, err = s.store.HybridTopK(ctx, nil, Kind, namespace, vec, query, limit, filterFn)
	default:
		return nil, 0, apperr.Validationf("unknown search_type %q", searchType)
	}
	if err != nil {
		return nil, 0, err
	}

	items := make([]*WorkItem, 0, len(scored))
	for _, sc := range scored {
		w, err := decode(sc.Record)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, len(items), nil
}
