package markdown

import (
	"time"

	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

// Entity-kind values for the header's required "type" key (spec.md §4.5).
// Kept distinct from WorkItem's own domain "item_type" (initiative, epic,
// ...) to avoid the two different meanings of "type" colliding in one key.
const (
	KindWorkItem     = "work_item"
	KindArchitecture = "architecture"
	KindTroubleshoot = "troubleshoot"
)

func putIfNotEmpty(h map[string]any, key string, v any) {
	switch val := v.(type) {
	case string:
		if val != "" {
			h[key] = val
		}
	case []string:
		if len(val) > 0 {
			h[key] = val
		}
	case *string:
		if val != nil {
			h[key] = *val
		}
	default:
		if v != nil {
			h[key] = v
		}
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FromWorkItem renders a work item as a Document. sequence_number and
// progress are emitted for readability but are ignored on import (spec.md
// §4.5: "Derived fields ... emitted but ignored on import").
func FromWorkItem(w *workitem.WorkItem) Document {
	h := map[string]any{
		"id":              w.ID,
		"namespace":       w.Namespace,
		"type":            KindWorkItem,
		"item_type":       string(w.Type),
		"title":           w.Title,
		"status":          string(w.Status),
		"priority":        string(w.Priority),
		"order_index":     w.OrderIndex,
		"sequence_number": w.SequenceNumber,
		"progress":        w.Progress,
		"created_at":      fmtTime(w.CreatedAt),
		"updated_at":      fmtTime(w.UpdatedAt),
	}
	putIfNotEmpty(h, "complexity", string(w.Complexity))
	if w.ParentID != nil {
		h["parent_id"] = *w.ParentID
	}
	putIfNotEmpty(h, "acceptance_criteria", w.AcceptanceCriteria)
	putIfNotEmpty(h, "context_tags", w.ContextTags)
	putIfNotEmpty(h, "notes", w.Notes)
	putIfNotEmpty(h, "blockers", w.Blockers)
	if w.StatusOverride {
		h["status_override"] = true
	}
	return Document{Header: h, Body: w.Description}
}

// FromArchitecture renders an architecture item as a Document.
func FromArchitecture(a *memory.ArchitectureItem) Document {
	h := map[string]any{
		"id":         a.ID,
		"namespace":  a.Namespace,
		"type":       KindArchitecture,
		"slug":       a.Slug,
		"title":      a.Title,
		"created_at": fmtTime(a.CreatedAt),
		"updated_at": fmtTime(a.UpdatedAt),
	}
	putIfNotEmpty(h, "ai_when_to_use", a.AIWhenToUse)
	putIfNotEmpty(h, "keywords", a.Keywords)
	putIfNotEmpty(h, "children_slugs", a.ChildrenSlugs)
	putIfNotEmpty(h, "related_slugs", a.RelatedSlugs)
	putIfNotEmpty(h, "linked_epic_ids", a.LinkedEpicIDs)
	putIfNotEmpty(h, "tags", a.Tags)
	return Document{Header: h, Body: a.AIRequirements}
}

// FromTroubleshoot renders a troubleshoot item as a Document. success_rate
// is derived and emitted for readability, ignored on import.
func FromTroubleshoot(t *memory.TroubleshootItem) Document {
	h := map[string]any{
		"id":            t.ID,
		"namespace":     t.Namespace,
		"type":          KindTroubleshoot,
		"slug":          t.Slug,
		"title":         t.Title,
		"usage_count":   t.UsageCount,
		"success_count": t.SuccessCount,
		"success_rate":  t.SuccessRate(),
		"created_at":    fmtTime(t.CreatedAt),
		"updated_at":    fmtTime(t.UpdatedAt),
	}
	putIfNotEmpty(h, "ai_use_case", t.AIUseCase)
	putIfNotEmpty(h, "keywords", t.Keywords)
	putIfNotEmpty(h, "tags", t.Tags)
	return Document{Header: h, Body: t.AISolutions}
}
