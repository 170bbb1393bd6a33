package dispatcher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

// manageWorkItemArgs covers create/update/delete in one struct; fields
// irrelevant to the chosen action are ignored (spec.md §4.2).
type manageWorkItemArgs struct {
	Action             string              `json:"action"`
	WorkItemID         string              `json:"work_item_id"`
	Type               workitem.Type       `json:"type"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	Status             *workitem.Status    `json:"status"`
	Priority           workitem.Priority   `json:"priority"`
	Complexity         workitem.Complexity `json:"complexity"`
	ParentID           *string             `json:"parent_id"`
	AcceptanceCriteria []string            `json:"acceptance_criteria"`
	ContextTags        []string            `json:"context_tags"`
	Notes              string              `json:"notes"`
	DeleteChildren     bool                `json:"delete_children"`
}

func (d *Dispatcher) manageWorkItem(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args manageWorkItemArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}

	switch args.Action {
	case "create":
		item, err := d.WorkItems.Create(ctx, namespace, workitem.CreateInput{
			Type:               args.Type,
			Title:              args.Title,
			Description:        args.Description,
			Priority:           args.Priority,
			Complexity:         args.Complexity,
			ParentID:           args.ParentID,
			AcceptanceCriteria: args.AcceptanceCriteria,
			ContextTags:        args.ContextTags,
			Notes:              args.Notes,
		})
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, item.ID)
		return item, nil

	case "update":
		if args.WorkItemID == "" {
			return nil, apperr.Validationf("work_item_id is required for update")
		}
		in := workitem.UpdateInput{}
		if args.Title != "" {
			in.Title = &args.Title
		}
		if args.Description != "" {
			in.Description = &args.Description
		}
		in.Status = args.Status
		if args.Priority != "" {
			in.Priority = &args.Priority
		}
		if args.Complexity != "" {
			in.Complexity = &args.Complexity
		}
		if args.ParentID != nil {
			// An empty string clears the parent (moves to root); any other
			// value reparents. UpdateInput.ParentID's pointer-to-pointer
			// distinguishes "unchanged" (nil) from "clear" (pointer-to-nil).
			if *args.ParentID == "" {
				var cleared *string
				in.ParentID = &cleared
			} else {
				pid := *args.ParentID
				parentPtr := &pid
				in.ParentID = &parentPtr
			}
		}
		if args.AcceptanceCriteria != nil {
			in.AcceptanceCriteria = &args.AcceptanceCriteria
		}
		if args.ContextTags != nil {
			in.ContextTags = &args.ContextTags
		}
		if args.Notes != "" {
			in.Notes = &args.Notes
		}
		item, err := d.WorkItems.Update(ctx, namespace, args.WorkItemID, in)
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, item.ID)
		return item, nil

	case "delete":
		if args.WorkItemID == "" {
			return nil, apperr.Validationf("work_item_id is required for delete")
		}
		ids, err := d.WorkItems.Delete(ctx, namespace, args.WorkItemID, args.DeleteChildren)
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, ids...)
		return map[string]any{"deleted_ids": ids}, nil

	default:
		return nil, apperr.Validationf("unknown manage_work_item action %q", args.Action)
	}
}

func (d *Dispatcher) publishUpdate(namespace string, ids ...string) {
	if d.Notifier == nil || len(ids) == 0 {
		return
	}
	d.Notifier.Publish(notifyEvent(namespace, ids))
}

type getWorkItemArgs struct {
	WorkItemID      string `json:"work_item_id"`
	SlugOrKeyword   string `json:"slug_or_keyword"`
	IncludeChildren bool   `json:"include_children"`
	Format          string `json:"format"`
}

// resolveWorkItem implements spec.md §4.2's id resolver: UUID -> exact
// title -> keyword search, returning one best match.
func (d *Dispatcher) resolveWorkItem(ctx context.Context, namespace, idOrText string) (*workitem.WorkItem, error) {
	if idOrText == "" {
		return nil, apperr.Validationf("work_item_id or slug_or_keyword is required")
	}
	if _, err := uuid.Parse(idOrText); err == nil {
		return d.WorkItems.Get(ctx, namespace, idOrText)
	}

	items, err := d.WorkItems.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if strings.EqualFold(item.Title, idOrText) {
			return item, nil
		}
	}

	matches, _, err := d.WorkItems.Search(ctx, namespace, workitem.SearchKeyword, idOrText, workitem.SearchFilters{}, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, apperr.NotFoundf("no work item matches %q", idOrText)
	}
	return matches[0], nil
}

func (d *Dispatcher) getWorkItem(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args getWorkItemArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	key := args.WorkItemID
	if key == "" {
		key = args.SlugOrKeyword
	}
	item, err := d.resolveWorkItem(ctx, namespace, key)
	if err != nil {
		return nil, err
	}

	result := formatWorkItem(item, args.Format)
	if args.IncludeChildren {
		children, err := d.WorkItems.GetHierarchy(ctx, namespace, item.ID, workitem.RelationChildren, 1, true, true)
		if err != nil {
			return nil, err
		}
		return map[string]any{"item": result, "children": children}, nil
	}
	return result, nil
}

// formatWorkItem trims the result to the requested level of detail
// (spec.md §4.2 get_work_item's format field).
func formatWorkItem(w *workitem.WorkItem, format string) any {
	switch format {
	case "minimal":
		return map[string]any{
			"id":     w.ID,
			"title":  w.Title,
			"type":   w.Type,
			"status": w.Status,
		}
	case "summary":
		return map[string]any{
			"id":              w.ID,
			"title":           w.Title,
			"type":            w.Type,
			"status":          w.Status,
			"priority":        w.Priority,
			"progress":        w.Progress,
			"sequence_number": w.SequenceNumber,
		}
	default: // "detailed" and unrecognized values fall through to the full record.
		return w
	}
}

type executeWorkItemArgs struct {
	WorkItemID string `json:"work_item_id"`
	Action     string `json:"action"`
	Mode       string `json:"mode"`
}

// executionRecord is the advisory status record returned by
// execute_work_item (spec.md §4.2, §9 "treated as advisory status tracking
// only; no code execution" per the Open Question resolution).
type executionRecord struct {
	WorkItemID string `json:"work_item_id"`
	Action     string `json:"action"`
	Mode       string `json:"mode,omitempty"`
	Status     string `json:"status"`
}

func (d *Dispatcher) executeWorkItem(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args executeWorkItemArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	item, err := d.WorkItems.Get(ctx, namespace, args.WorkItemID)
	if err != nil {
		return nil, err
	}

	switch args.Action {
	case "execute":
		status := workitem.InProgress
		updated, err := d.WorkItems.Update(ctx, namespace, item.ID, workitem.UpdateInput{Status: &status})
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, updated.ID)
		return executionRecord{WorkItemID: updated.ID, Action: args.Action, Mode: args.Mode, Status: string(updated.Status)}, nil
	case "cancel":
		status := workitem.Cancelled
		updated, err := d.WorkItems.Update(ctx, namespace, item.ID, workitem.UpdateInput{Status: &status})
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, updated.ID)
		return executionRecord{WorkItemID: updated.ID, Action: args.Action, Status: string(updated.Status)}, nil
	case "status":
		return executionRecord{WorkItemID: item.ID, Action: args.Action, Status: string(item.Status)}, nil
	default:
		return nil, apperr.Validationf("unknown execute_work_item action %q", args.Action)
	}
}

type trackProgressArgs struct {
	Action       string   `json:"action"`
	WorkItemID   string   `json:"work_item_id"`
	Percent      *float64 `json:"percent"`
	Status       *string  `json:"status"`
	Notes        *string  `json:"notes"`
	Blockers     []string `json:"blockers"`
}

func (d *Dispatcher) trackProgress(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args trackProgressArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}

	switch args.Action {
	case "get_analytics":
		return d.workItemAnalytics(ctx, namespace, args.WorkItemID)
	case "track", "":
		var status *workitem.Status
		if args.Status != nil {
			s := workitem.Status(*args.Status)
			status = &s
		}
		item, err := d.WorkItems.TrackProgress(ctx, namespace, args.WorkItemID, args.Percent, status, args.Notes, args.Blockers)
		if err != nil {
			return nil, err
		}
		d.publishUpdate(namespace, item.ID)
		return item, nil
	default:
		return nil, apperr.Validationf("unknown track_progress action %q", args.Action)
	}
}

// workItemAnalytics aggregates status/progress counts across a work item's
// descendants, supporting track_progress(action=get_analytics).
func (d *Dispatcher) workItemAnalytics(ctx context.Context, namespace, id string) (any, error) {
	nodes, err := d.WorkItems.GetHierarchy(ctx, namespace, id, workitem.RelationDescendants, 1<<20, true, true)
	if err != nil {
		return nil, err
	}
	items, _ := nodes.([]*workitem.WorkItem)
	byStatus := map[workitem.Status]int{}
	var totalProgress float64
	for _, it := range items {
		byStatus[it.Status]++
		totalProgress += it.Progress
	}
	avg := 0.0
	if len(items) > 0 {
		avg = totalProgress / float64(len(items))
	}
	return map[string]any{
		"work_item_id":     id,
		"descendant_count": len(items),
		"by_status":        byStatus,
		"average_progress": avg,
	}, nil
}

type reorderWorkItemsArgs struct {
	ParentID      *string  `json:"parent_id"`
	WorkItemIDs   []string `json:"work_item_ids"`
}

func (d *Dispatcher) reorderWorkItems(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args reorderWorkItemsArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	items, err := d.WorkItems.Reorder(ctx, namespace, args.ParentID, args.WorkItemIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	d.publishUpdate(namespace, ids...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].OrderIndex < items[j].OrderIndex })
	return items, nil
}
