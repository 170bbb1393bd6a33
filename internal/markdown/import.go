package markdown

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

func headerString(h map[string]any, key string) string {
	v, _ := h[key].(string)
	return v
}

func headerStringSlice(h map[string]any, key string) []string {
	raw, ok := h[key]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func headerInt(h map[string]any, key string) int {
	switch v := h[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func headerBool(h map[string]any, key string) bool {
	v, _ := h[key].(bool)
	return v
}

func headerTime(h map[string]any, key string) time.Time {
	switch v := h[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// ToWorkItem parses a Document back into a *workitem.WorkItem, ignoring the
// derived sequence_number/progress keys (spec.md §4.5) and recomputing them
// via the engine instead.
func ToWorkItem(doc Document) (*workitem.WorkItem, error) {
	h := doc.Header
	if err := RequiredHeaderKeys(h, "id"); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
	}
	w := &workitem.WorkItem{
		ID:                 headerString(h, "id"),
		Namespace:          headerString(h, "namespace"),
		Type:               workitem.Type(headerString(h, "item_type")),
		Title:              headerString(h, "title"),
		Description:        doc.Body,
		Status:             workitem.Status(headerString(h, "status")),
		Priority:           workitem.Priority(headerString(h, "priority")),
		Complexity:         workitem.Complexity(headerString(h, "complexity")),
		OrderIndex:         headerInt(h, "order_index"),
		AcceptanceCriteria: headerStringSlice(h, "acceptance_criteria"),
		ContextTags:        headerStringSlice(h, "context_tags"),
		Notes:              headerString(h, "notes"),
		Blockers:           headerStringSlice(h, "blockers"),
		StatusOverride:     headerBool(h, "status_override"),
		CreatedAt:          headerTime(h, "created_at"),
		UpdatedAt:          headerTime(h, "updated_at"),
	}
	if pid := headerString(h, "parent_id"); pid != "" {
		w.ParentID = &pid
	}
	return w, nil
}

// ToArchitecture parses a Document back into a *memory.ArchitectureItem.
func ToArchitecture(doc Document) (*memory.ArchitectureItem, error) {
	h := doc.Header
	if err := RequiredHeaderKeys(h, "slug"); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
	}
	return &memory.ArchitectureItem{
		ID:             headerString(h, "id"),
		Namespace:      headerString(h, "namespace"),
		Slug:           headerString(h, "slug"),
		Title:          headerString(h, "title"),
		AIRequirements: doc.Body,
		AIWhenToUse:    headerStringSlice(h, "ai_when_to_use"),
		Keywords:       headerStringSlice(h, "keywords"),
		ChildrenSlugs:  headerStringSlice(h, "children_slugs"),
		RelatedSlugs:   headerStringSlice(h, "related_slugs"),
		LinkedEpicIDs:  headerStringSlice(h, "linked_epic_ids"),
		Tags:           headerStringSlice(h, "tags"),
		CreatedAt:      headerTime(h, "created_at"),
		UpdatedAt:      headerTime(h, "updated_at"),
	}, nil
}

// ToTroubleshoot parses a Document back into a *memory.TroubleshootItem,
// ignoring the derived success_rate key.
func ToTroubleshoot(doc Document) (*memory.TroubleshootItem, error) {
	h := doc.Header
	if err := RequiredHeaderKeys(h, "slug"); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
	}
	return &memory.TroubleshootItem{
		ID:           headerString(h, "id"),
		Namespace:    headerString(h, "namespace"),
		Slug:         headerString(h, "slug"),
		Title:        headerString(h, "title"),
		AISolutions:  doc.Body,
		AIUseCase:    headerStringSlice(h, "ai_use_case"),
		Keywords:     headerStringSlice(h, "keywords"),
		Tags:         headerStringSlice(h, "tags"),
		UsageCount:   headerInt(h, "usage_count"),
		SuccessCount: headerInt(h, "success_count"),
		CreatedAt:    headerTime(h, "created_at"),
		UpdatedAt:    headerTime(h, "updated_at"),
	}, nil
}

// Mode selects import conflict-resolution behavior (spec.md §4.5).
type Mode string

const (
	ModeCreateOnly    Mode = "create_only"
	ModeUpdateOnly    Mode = "update_only"
	ModeCreateOrUpdate Mode = "create_or_update"
	ModeReplace       Mode = "replace"
)

// RecordError is a per-record failure reported alongside partial success
// (spec.md §4.5, §7 "Propagation policy").
type RecordError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ImportResult reports per-kind counts and any per-record errors for a
// sync_data(import) call.
type ImportResult struct {
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Deleted int           `json:"deleted"`
	Errors  []RecordError `json:"errors,omitempty"`
}

func (r *ImportResult) fail(id string, err error) {
	r.Errors = append(r.Errors, RecordError{ID: id, Message: err.Error()})
}

// ImportWorkItems applies docs (already parsed to work items) to namespace
// under mode. See spec.md §4.5 for mode semantics; "replace" removes
// existing items whose id is absent from docs, then RecomputeAll brings
// progress/status into agreement (spec.md §8's round-trip property).
func ImportWorkItems(ctx context.Context, svc *workitem.Service, docs []*workitem.WorkItem, namespace string, mode Mode) (*ImportResult, error) {
	result := &ImportResult{}

	present := make(map[string]bool, len(docs))
	for _, w := range docs {
		present[w.ID] = true
	}

	if mode == ModeReplace {
		existing, err := svc.List(ctx, namespace)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if !present[e.ID] {
				if err := svc.DeleteRaw(ctx, namespace, e.ID); err != nil {
					return nil, err
				}
				result.Deleted++
			}
		}
	}

	for _, w := range docs {
		_, err := svc.Get(ctx, namespace, w.ID)
		exists := err == nil
		if !exists && apperr.CodeOf(err) != apperr.NotFound {
			result.fail(w.ID, err)
			continue
		}

		switch {
		case mode == ModeCreateOnly && exists:
			result.fail(w.ID, fmt.Errorf("id %s already exists", w.ID))
			continue
		case mode == ModeUpdateOnly && !exists:
			result.fail(w.ID, fmt.Errorf("id %s does not exist", w.ID))
			continue
		}

		if err := svc.Restore(ctx, namespace, w); err != nil {
			result.fail(w.ID, err)
			continue
		}
		if exists {
			result.Updated++
		} else {
			result.Created++
		}
	}

	if err := svc.RecomputeAll(ctx, namespace); err != nil {
		return nil, err
	}
	return result, nil
}

// ImportArchitecture applies docs to namespace under mode.
func ImportArchitecture(ctx context.Context, store *memory.ArchitectureStore, docs []*memory.ArchitectureItem, namespace string, mode Mode) (*ImportResult, error) {
	result := &ImportResult{}

	present := make(map[string]bool, len(docs))
	for _, a := range docs {
		present[a.Slug] = true
	}
	if mode == ModeReplace {
		existing, err := store.List(ctx, namespace)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if !present[e.Slug] {
				if err := store.Delete(ctx, namespace, e.Slug); err != nil {
					return nil, err
				}
				result.Deleted++
			}
		}
	}

	for _, a := range docs {
		_, err := store.GetBySlug(ctx, namespace, a.Slug)
		exists := err == nil
		if !exists && apperr.CodeOf(err) != apperr.NotFound {
			result.fail(a.Slug, err)
			continue
		}
		switch {
		case mode == ModeCreateOnly && exists:
			result.fail(a.Slug, fmt.Errorf("slug %s already exists", a.Slug))
			continue
		case mode == ModeUpdateOnly && !exists:
			result.fail(a.Slug, fmt.Errorf("slug %s does not exist", a.Slug))
			continue
		}
		if err := store.Restore(ctx, namespace, a); err != nil {
			result.fail(a.Slug, err)
			continue
		}
		if exists {
			result.Updated++
		} else {
			result.Created++
		}
	}
	return result, nil
}

// ImportTroubleshoot applies docs to namespace under mode.
func ImportTroubleshoot(ctx context.Context, store *memory.TroubleshootStore, docs []*memory.TroubleshootItem, namespace string, mode Mode) (*ImportResult, error) {
	result := &ImportResult{}

	present := make(map[string]bool, len(docs))
	for _, t := range docs {
		present[t.Slug] = true
	}
	if mode == ModeReplace {
		existing, err := store.List(ctx, namespace)
		if err != nil {
			return nil, err
		}
		for _, e := range existing {
			if !present[e.Slug] {
				if err := store.Delete(ctx, namespace, e.Slug); err != nil {
					return nil, err
				}
				result.Deleted++
			}
		}
	}

	for _, t := range docs {
		_, err := store.GetBySlug(ctx, namespace, t.Slug)
		exists := err == nil
		if !exists && apperr.CodeOf(err) != apperr.NotFound {
			result.fail(t.Slug, err)
			continue
		}
		switch {
		case mode == ModeCreateOnly && exists:
			result.fail(t.Slug, fmt.Errorf("slug %s already exists", t.Slug))
			continue
		case mode == ModeUpdateOnly && !exists:
			result.fail(t.Slug, fmt.Errorf("slug %s does not exist", t.Slug))
			continue
		}
		if err := store.Restore(ctx, namespace, t); err != nil {
			result.fail(t.Slug, err)
			continue
		}
		if exists {
			result.Updated++
		} else {
			result.Created++
		}
	}
	return result, nil
}
