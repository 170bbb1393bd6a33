package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

type searchFiltersArgs struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	ParentID string `json:"parent_id"`
}

func (f searchFiltersArgs) toDomain() workitem.SearchFilters {
	var out workitem.SearchFilters
	if f.Type != "" {
		t := workitem.Type(f.Type)
		out.Type = &t
	}
	if f.Status != "" {
		s := workitem.Status(f.Status)
		out.Status = &s
	}
	if f.Priority != "" {
		p := workitem.Priority(f.Priority)
		out.Priority = &p
	}
	if f.ParentID != "" {
		out.ParentID = &f.ParentID
	}
	return out
}

type searchContentArgs struct {
	Query      string            `json:"query"`
	SearchType string            `json:"search_type"`
	Filters    searchFiltersArgs `json:"filters"`
	Limit      int               `json:"limit"`
	Format     string            `json:"format"`
}

func (d *Dispatcher) searchContent(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args searchContentArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	searchType := workitem.SearchType(args.SearchType)
	if searchType == "" {
		searchType = workitem.SearchHybrid
	}
	items, total, err := d.WorkItems.Search(ctx, namespace, searchType, args.Query, args.Filters.toDomain(), args.Limit)
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(items))
	for _, it := range items {
		results = append(results, formatWorkItem(it, args.Format))
	}
	return map[string]any{"results": results, "total_found": total}, nil
}

type getHierarchyArgs struct {
	WorkItemID       string `json:"work_item_id"`
	Relationship     string `json:"relationship"`
	MaxDepth         int    `json:"max_depth"`
	IncludeCompleted bool   `json:"include_completed"`
	IncludeCancelled bool   `json:"include_cancelled"`
}

func (d *Dispatcher) getHierarchy(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args getHierarchyArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.WorkItemID == "" {
		return nil, apperr.Validationf("work_item_id is required")
	}
	rel := workitem.Relationship(args.Relationship)
	if rel == "" {
		rel = workitem.RelationChildren
	}
	return d.WorkItems.GetHierarchy(ctx, namespace, args.WorkItemID, rel, args.MaxDepth, args.IncludeCompleted, args.IncludeCancelled)
}
