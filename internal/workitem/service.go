package workitem

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

// Kind is the entity-kind name used to partition work items in the vector
// store (spec.md §4.3: "work_items@ns").
const Kind = "work_items"

// Service implements the Work-Item Graph Engine (C3) over a shared
// vectorstore.Store.
type Service struct {
	store *vectorstore.Store
	log   *slog.Logger
}

// New builds a Service bound to store, logging under the "workitem" component.
func New(store *vectorstore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log.With("component", "workitem")}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func parentFilter(parentID *string) vectorstore.FilterFunc {
	return func(raw []byte) bool {
		var w WorkItem
		if err := json.Unmarshal(raw, &w); err != nil {
			return false
		}
		if parentID == nil {
			return w.ParentID == nil
		}
		return w.ParentID != nil && *w.ParentID == *parentID
	}
}

func (s *Service) children(ctx context.Context, e execer, namespace string, parentID *string) ([]*WorkItem, error) {
	recs, err := s.store.Scan(ctx, e, Kind, namespace, parentFilter(parentID))
	if err != nil {
		return nil, err
	}
	items, err := decodeAll(recs)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b *WorkItem) int { return a.OrderIndex - b.OrderIndex })
	return items, nil
}

func (s *Service) get(ctx context.Context, e execer, namespace, id string) (*WorkItem, error) {
	rec, ok, err := s.store.Get(ctx, e, Kind, namespace, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFoundf("work item %s not found", id)
	}
	return decode(rec)
}

// Get returns a work item by id, with its sequence_number freshly derived.
func (s *Service) Get(ctx context.Context, namespace, id string) (*WorkItem, error) {
	item, err := s.get(ctx, nil, namespace, id)
	if err != nil {
		return nil, err
	}
	seq, err := s.deriveSequenceNumber(ctx, nil, namespace, item)
	if err != nil {
		return nil, err
	}
	item.SequenceNumber = seq
	return item, nil
}

// deriveSequenceNumber walks the parent chain using live order_index values,
// per spec.md §4.1: "derived strictly by traversal ... not stored as
// canonical truth".
func (s *Service) deriveSequenceNumber(ctx context.Context, e execer, namespace string, item *WorkItem) (string, error) {
	var positions []int
	cur := item
	for {
		positions = append(positions, cur.OrderIndex+1)
		if cur.ParentID == nil {
			break
		}
		parent, err := s.get(ctx, e, namespace, *cur.ParentID)
		if err != nil {
			return "", err
		}
		cur = parent
	}
	seq := ""
	for i := len(positions) - 1; i >= 0; i-- {
		if seq != "" {
			seq += "."
		}
		seq += itoa(positions[i])
	}
	return seq, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Create validates and inserts a new work item, appending it to its sibling
// group and propagating progress/status to its ancestors.
func (s *Service) Create(ctx context.Context, namespace string, in CreateInput) (*WorkItem, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	var created *WorkItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		if in.ParentID != nil {
			parent, err := s.get(ctx, tx, namespace, *in.ParentID)
			if err != nil {
				return err
			}
			if !allowedChildType(parent.Type, in.Type) {
				return apperr.Hierarchyf("type %s cannot be a child of %s", in.Type, parent.Type)
			}
		}

		siblings, err := s.children(ctx, tx, namespace, in.ParentID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		w := &WorkItem{
			ID:                 uuid.New().String(),
			Namespace:          namespace,
			Type:               in.Type,
			Title:              in.Title,
			Description:        in.Description,
			Status:             NotStarted,
			Priority:           in.Priority,
			Complexity:         in.Complexity,
			ParentID:           in.ParentID,
			OrderIndex:         len(siblings),
			Progress:           leafProgress[NotStarted],
			AcceptanceCriteria: in.AcceptanceCriteria,
			ContextTags:        in.ContextTags,
			Notes:              in.Notes,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if w.Priority == "" {
			w.Priority = PriorityMedium
		}
		if !IsLeaf(w.Type) {
			w.Progress = 0.0
		}

		rec, err := encode(w)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
			return err
		}

		if in.ParentID != nil {
			if err := s.propagate(ctx, tx, namespace, in.ParentID, now); err != nil {
				return err
			}
		}

		created = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, namespace, created.ID)
}

// Update applies a partial mutation to an existing work item.
func (s *Service) Update(ctx context.Context, namespace, id string, in UpdateInput) (*WorkItem, error) {
	var touchedParents []*string

	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.get(ctx, tx, namespace, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		if in.Title != nil {
			if err := validateTitle(*in.Title); err != nil {
				return err
			}
			item.Title = *in.Title
		}
		if in.Description != nil {
			if err := validateDescription(*in.Description); err != nil {
				return err
			}
			item.Description = *in.Description
		}
		if in.Priority != nil {
			if !validPriority(*in.Priority) {
				return apperr.Validationf("invalid priority %q", *in.Priority)
			}
			item.Priority = *in.Priority
		}
		if in.Complexity != nil {
			if !validComplexity(*in.Complexity) {
				return apperr.Validationf("invalid complexity %q", *in.Complexity)
			}
			item.Complexity = *in.Complexity
		}
		if in.AcceptanceCriteria != nil {
			if len(*in.AcceptanceCriteria) > maxAcceptanceLen {
				return apperr.Validationf("acceptance_criteria exceeds %d entries", maxAcceptanceLen)
			}
			item.AcceptanceCriteria = *in.AcceptanceCriteria
		}
		if in.ContextTags != nil {
			item.ContextTags = *in.ContextTags
		}
		if in.Notes != nil {
			item.Notes = *in.Notes
		}

		oldParent := item.ParentID
		if in.ParentID != nil {
			newParent := *in.ParentID
			if err := s.reparent(ctx, tx, namespace, item, newParent); err != nil {
				return err
			}
			touchedParents = append(touchedParents, oldParent)
		}

		if in.Status != nil {
			if err := s.applyStatus(item, *in.Status); err != nil {
				return err
			}
		}

		item.UpdatedAt = now
		rec, err := encode(item)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
			return err
		}

		touchedParents = append(touchedParents, item.ParentID)
		for _, p := range dedupeParents(touchedParents) {
			if err := s.propagate(ctx, tx, namespace, p, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, namespace, id)
}

// applyStatus enforces W5: non-leaf items only ever accept a manual
// transition to cancelled; every other manual status change on a non-leaf
// is ErrDerived.
func (s *Service) applyStatus(item *WorkItem, status Status) error {
	if !validStatus(status) {
		return apperr.Validationf("invalid status %q", status)
	}
	if IsLeaf(item.Type) {
		item.Status = status
		item.Progress = leafProgress[status]
		return nil
	}
	if status != Cancelled {
		return apperr.Derivedf("status of non-leaf item %s is derived; only cancelled may be set manually", item.ID)
	}
	item.Status = Cancelled
	item.StatusOverride = true
	item.Progress = 0.0
	return nil
}

// reparent validates and applies a parent_id change, rejecting hierarchy
// violations (ErrHierarchy) and cycles (ErrCycle), and renumbers both the
// old and new sibling groups.
func (s *Service) reparent(ctx context.Context, tx *sql.Tx, namespace string, item *WorkItem, newParentID *string) error {
	if newParentID != nil {
		if *newParentID == item.ID {
			return apperr.Cyclef("work item %s cannot be its own parent", item.ID)
		}
		newParent, err := s.get(ctx, tx, namespace, *newParentID)
		if err != nil {
			return err
		}
		if !allowedChildType(newParent.Type, item.Type) {
			return apperr.Hierarchyf("type %s cannot be a child of %s", item.Type, newParent.Type)
		}
		isDescendant, err := s.isDescendant(ctx, tx, namespace, item.ID, *newParentID)
		if err != nil {
			return err
		}
		if isDescendant {
			return apperr.Cyclef("reparenting %s under %s would create a cycle", item.ID, *newParentID)
		}
	}

	oldParent := item.ParentID
	if err := s.closeGap(ctx, tx, namespace, oldParent, item.ID); err != nil {
		return err
	}
	newSiblings, err := s.children(ctx, tx, namespace, newParentID)
	if err != nil {
		return err
	}
	item.ParentID = newParentID
	item.OrderIndex = len(newSiblings)
	return nil
}

// closeGap compacts the order_index of parentID's remaining children after
// excludeID leaves the group, keeping W2's dense-permutation invariant.
func (s *Service) closeGap(ctx context.Context, tx *sql.Tx, namespace string, parentID *string, excludeID string) error {
	siblings, err := s.children(ctx, tx, namespace, parentID)
	if err != nil {
		return err
	}
	idx := 0
	for _, sib := range siblings {
		if sib.ID == excludeID {
			continue
		}
		if sib.OrderIndex != idx {
			sib.OrderIndex = idx
			rec, err := encode(sib)
			if err != nil {
				return err
			}
			if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
				return err
			}
		}
		idx++
	}
	return nil
}

func (s *Service) isDescendant(ctx context.Context, tx *sql.Tx, namespace, ancestorID, candidateID string) (bool, error) {
	frontier := []string{ancestorID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			kids, err := s.children(ctx, tx, namespace, &id)
			if err != nil {
				return false, err
			}
			for _, k := range kids {
				if k.ID == candidateID {
					return true, nil
				}
				next = append(next, k.ID)
			}
		}
		frontier = next
	}
	return false, nil
}

func dedupeParents(ids []*string) []*string {
	seen := make(map[string]bool)
	var out []*string
	for _, id := range ids {
		key := "<root>"
		if id != nil {
			key = *id
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}

// propagate walks from startID to the root, recomputing each non-leaf's
// progress and status from its current children, stopping early when a
// node's recomputed values already match its stored values (spec.md §4.1).
func (s *Service) propagate(ctx context.Context, tx *sql.Tx, namespace string, startID *string, now time.Time) error {
	current := startID
	for current != nil {
		item, err := s.get(ctx, tx, namespace, *current)
		if err != nil {
			if apperr.CodeOf(err) == apperr.NotFound {
				return nil
			}
			return err
		}

		kids, err := s.children(ctx, tx, namespace, current)
		if err != nil {
			return err
		}

		var newStatus Status
		var newProgress float64
		if item.StatusOverride {
			newStatus, newProgress = Cancelled, 0.0
		} else {
			newStatus, newProgress = deriveNonLeaf(kids)
		}

		if newStatus == item.Status && !progressChanged(newProgress, item.Progress) {
			return nil
		}

		item.Status = newStatus
		item.Progress = newProgress
		item.UpdatedAt = now
		rec, err := encode(item)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
			return err
		}
		current = item.ParentID
	}
	return nil
}

// Delete removes a work item. With deleteChildren=true the whole subtree is
// removed atomically; otherwise direct children are reparented to root.
// Deleting an already-absent id is idempotent and returns an empty list.
func (s *Service) Delete(ctx context.Context, namespace, id string, deleteChildren bool) ([]string, error) {
	var deletedIDs []string

	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		item, err := s.get(ctx, tx, namespace, id)
		if err != nil {
			if apperr.CodeOf(err) == apperr.NotFound {
				return nil
			}
			return err
		}
		now := time.Now().UTC()
		oldParent := item.ParentID

		if deleteChildren {
			ids, err := s.subtreeIDs(ctx, tx, namespace, id)
			if err != nil {
				return err
			}
			deletedIDs = ids
			for _, did := range deletedIDs {
				if err := s.store.Delete(ctx, tx, Kind, namespace, did); err != nil {
					return err
				}
			}
		} else {
			kids, err := s.children(ctx, tx, namespace, &id)
			if err != nil {
				return err
			}
			rootSiblings, err := s.children(ctx, tx, namespace, nil)
			if err != nil {
				return err
			}
			nextIndex := len(rootSiblings)
			for _, k := range kids {
				k.ParentID = nil
				k.OrderIndex = nextIndex
				nextIndex++
				rec, err := encode(k)
				if err != nil {
					return err
				}
				if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
					return err
				}
			}
			if err := s.store.Delete(ctx, tx, Kind, namespace, id); err != nil {
				return err
			}
			deletedIDs = []string{id}
		}

		if err := s.closeGap(ctx, tx, namespace, oldParent, id); err != nil {
			return err
		}
		return s.propagate(ctx, tx, namespace, oldParent, now)
	})
	if err != nil {
		return nil, err
	}
	if deletedIDs == nil {
		deletedIDs = []string{}
	}
	return deletedIDs, nil
}

func (s *Service) subtreeIDs(ctx context.Context, tx *sql.Tx, namespace, rootID string) ([]string, error) {
	ids := []string{rootID}
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			kids, err := s.children(ctx, tx, namespace, &id)
			if err != nil {
				return nil, err
			}
			for _, k := range kids {
				ids = append(ids, k.ID)
				next = append(next, k.ID)
			}
		}
		frontier = next
	}
	return ids, nil
}

// Reorder rewrites the order_index of parentID's children to match
// orderedIDs exactly. The supplied set must equal the current sibling set,
// or the whole call fails with ErrOrderSet and state is left unchanged.
func (s *Service) Reorder(ctx context.Context, namespace string, parentID *string, orderedIDs []string) ([]*WorkItem, error) {
	var result []*WorkItem

	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		siblings, err := s.children(ctx, tx, namespace, parentID)
		if err != nil {
			return err
		}
		current := make(map[string]*WorkItem, len(siblings))
		for _, w := range siblings {
			current[w.ID] = w
		}
		if len(orderedIDs) != len(siblings) {
			return apperr.OrderSetf("reorder set has %d ids, expected %d", len(orderedIDs), len(siblings))
		}
		seen := make(map[string]bool, len(orderedIDs))
		for _, id := range orderedIDs {
			if seen[id] {
				return apperr.OrderSetf("reorder set contains duplicate id %s", id)
			}
			seen[id] = true
			if _, ok := current[id]; !ok {
				return apperr.OrderSetf("id %s is not a member of this sibling group", id)
			}
		}

		now := time.Now().UTC()
		for idx, id := range orderedIDs {
			item := current[id]
			if item.OrderIndex == idx {
				result = append(result, item)
				continue
			}
			item.OrderIndex = idx
			item.UpdatedAt = now
			rec, err := encode(item)
			if err != nil {
				return err
			}
			if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
				return err
			}
			result = append(result, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(result, func(a, b *WorkItem) int { return a.OrderIndex - b.OrderIndex })
	return result, nil
}

// TrackProgress applies a progress_data update (spec.md §4.2 track_progress).
// An explicit percent on a leaf overrides the status-derived value; status,
// if supplied, still goes through applyStatus's W5 enforcement.
func (s *Service) TrackProgress(ctx context.Context, namespace, id string, percent *float64, status *Status, notes *string, blockers []string) (*WorkItem, error) {
	in := UpdateInput{}
	if status != nil {
		in.Status = status
	}
	if notes != nil {
		in.Notes = notes
	}
	item, err := s.Update(ctx, namespace, id, in)
	if err != nil {
		return nil, err
	}
	if blockers != nil {
		err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
			cur, err := s.get(ctx, tx, namespace, id)
			if err != nil {
				return err
			}
			cur.Blockers = blockers
			cur.UpdatedAt = time.Now().UTC()
			rec, err := encode(cur)
			if err != nil {
				return err
			}
			return s.store.Upsert(ctx, tx, Kind, namespace, rec)
		})
		if err != nil {
			return nil, err
		}
	}
	if percent != nil && IsLeaf(item.Type) {
		if *percent < 0 || *percent > 1 {
			return nil, apperr.Validationf("progress percent must be within [0,1], got %v", *percent)
		}
		err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
			cur, err := s.get(ctx, tx, namespace, id)
			if err != nil {
				return err
			}
			cur.Progress = *percent
			cur.UpdatedAt = time.Now().UTC()
			rec, err := encode(cur)
			if err != nil {
				return err
			}
			if err := s.store.Upsert(ctx, tx, Kind, namespace, rec); err != nil {
				return err
			}
			return s.propagate(ctx, tx, namespace, cur.ParentID, cur.UpdatedAt)
		})
		if err != nil {
			return nil, err
		}
		return s.Get(ctx, namespace, id)
	}
	return item, nil
}

// List returns every work item in namespace, ordered by id, for export and
// full scans.
func (s *Service) List(ctx context.Context, namespace string) ([]*WorkItem, error) {
	recs, err := s.store.Scan(ctx, nil, Kind, namespace, nil)
	if err != nil {
		return nil, err
	}
	return decodeAll(recs)
}

// DeleteRaw removes a work item's record without cascade, gap-closing, or
// propagation side effects. Used by import's "replace" mode to clear a
// namespace before restoring records wholesale, where those side effects
// would run against a set of siblings mid-restore.
func (s *Service) DeleteRaw(ctx context.Context, namespace, id string) error {
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		return s.store.Delete(ctx, tx, Kind, namespace, id)
	})
}

// Restore upserts item verbatim (preserving its id, timestamps, and
// order_index) without the Create/Update validation or propagation paths.
// It is the mechanism behind sync_data(import) and backup/restore: a caller
// loads a full namespace snapshot with Restore, then calls RecomputeAll once
// every item is in place to bring derived status/progress into agreement
// with §4.1 (spec.md §8 round-trip property).
func (s *Service) Restore(ctx context.Context, namespace string, item *WorkItem) error {
	if !validType(item.Type) {
		return apperr.Validationf("invalid work item type %q", item.Type)
	}
	item.Namespace = namespace
	rec, err := encode(item)
	if err != nil {
		return err
	}
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		return s.store.Upsert(ctx, tx, Kind, namespace, rec)
	})
}

// RecomputeAll re-derives progress for every leaf item from its status and
// status/progress for every non-leaf item from its (already-recomputed)
// children, bottom-up over namespace. Used after a bulk Restore — which
// upserts items verbatim and never populates derived fields — to bring the
// whole tree into agreement without relying on per-item propagation order.
func (s *Service) RecomputeAll(ctx context.Context, namespace string) error {
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		items, err := s.children(ctx, tx, namespace, nil)
		if err != nil {
			return err
		}
		// Walk each root's subtree depth-first (post-order) so children are
		// settled before their parents are read; multiple independent
		// subtrees may exist, so every root is walked in turn.
		var walk func(id string) error
		walk = func(id string) error {
			kids, err := s.children(ctx, tx, namespace, &id)
			if err != nil {
				return err
			}
			for _, k := range kids {
				if err := walk(k.ID); err != nil {
					return err
				}
			}

			item, err := s.get(ctx, tx, namespace, id)
			if err != nil {
				return err
			}

			if IsLeaf(item.Type) {
				newProgress := leafProgress[item.Status]
				if !progressChanged(newProgress, item.Progress) {
					return nil
				}
				item.Progress = newProgress
				rec, err := encode(item)
				if err != nil {
					return err
				}
				return s.store.Upsert(ctx, tx, Kind, namespace, rec)
			}
			if item.StatusOverride {
				return nil
			}

			// kids were read before the recursive walk above settled their
			// own derived fields; re-fetch so deriveNonLeaf sees the
			// post-recompute values instead of the stale pre-walk ones.
			kids, err = s.children(ctx, tx, namespace, &id)
			if err != nil {
				return err
			}
			newStatus, newProgress := deriveNonLeaf(kids)
			if newStatus == item.Status && !progressChanged(newProgress, item.Progress) {
				return nil
			}
			item.Status = newStatus
			item.Progress = newProgress
			rec, err := encode(item)
			if err != nil {
				return err
			}
			return s.store.Upsert(ctx, tx, Kind, namespace, rec)
		}
		for _, root := range items {
			if err := walk(root.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
