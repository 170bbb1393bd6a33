package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

// TroubleKind is the entity-kind name partitioning troubleshoot items in the
// vector store (spec.md §4.3: "troubleshoot@ns").
const TroubleKind = "troubleshoot"

// Outcome is the result of consuming a matched troubleshoot entry
// (memory(action=record_use), spec.md §4.4).
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// TroubleshootStore implements CRUD and usage-counter tracking for
// troubleshoot items (C4).
type TroubleshootStore struct {
	store *vectorstore.Store
	log   *slog.Logger
}

// NewTroubleshootStore builds a store bound to vs, logging under the
// "memory.troubleshoot" component.
func NewTroubleshootStore(vs *vectorstore.Store, log *slog.Logger) *TroubleshootStore {
	if log == nil {
		log = slog.Default()
	}
	return &TroubleshootStore{store: vs, log: log.With("component", "memory.troubleshoot")}
}

func troubleSlugFilter(slug string) vectorstore.FilterFunc {
	return func(raw []byte) bool {
		var t TroubleshootItem
		if err := json.Unmarshal(raw, &t); err != nil {
			return false
		}
		return t.Slug == slug
	}
}

func (s *TroubleshootStore) bySlug(ctx context.Context, e execer, namespace, slug string) (*TroubleshootItem, error) {
	recs, err := s.store.Scan(ctx, e, TroubleKind, namespace, troubleSlugFilter(slug))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperr.NotFoundf("troubleshoot item %q not found", slug)
	}
	return decodeTrouble(recs[0])
}

// GetBySlug returns a troubleshoot item by slug.
func (s *TroubleshootStore) GetBySlug(ctx context.Context, namespace, slug string) (*TroubleshootItem, error) {
	return s.bySlug(ctx, nil, namespace, slug)
}

// List returns every troubleshoot item in namespace, ordered by slug.
func (s *TroubleshootStore) List(ctx context.Context, namespace string) ([]*TroubleshootItem, error) {
	recs, err := s.store.Scan(ctx, nil, TroubleKind, namespace, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeAllTrouble(recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
	return items, nil
}

// Create validates and inserts a new troubleshoot item.
func (s *TroubleshootStore) Create(ctx context.Context, namespace string, in TroubleshootInput) (*TroubleshootItem, error) {
	if err := validateSlug(in.Slug); err != nil {
		return nil, err
	}

	var created *TroubleshootItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.bySlug(ctx, tx, namespace, in.Slug); err == nil {
			return apperr.Validationf("troubleshoot slug %q already exists in namespace %s", in.Slug, namespace)
		} else if apperr.CodeOf(err) != apperr.NotFound {
			return err
		}

		now := time.Now().UTC()
		t := &TroubleshootItem{
			ID:        uuid.New().String(),
			Namespace: namespace,
			Slug:      in.Slug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := applyTroubleFields(t, in); err != nil {
			return err
		}

		rec, err := encodeTrouble(t)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, TroubleKind, namespace, rec); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update applies a partial mutation to an existing troubleshoot item.
func (s *TroubleshootStore) Update(ctx context.Context, namespace, slug string, in TroubleshootInput) (*TroubleshootItem, error) {
	var updated *TroubleshootItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		t, err := s.bySlug(ctx, tx, namespace, slug)
		if err != nil {
			return err
		}
		if err := applyTroubleFields(t, in); err != nil {
			return err
		}
		t.UpdatedAt = time.Now().UTC()

		rec, err := encodeTrouble(t)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, TroubleKind, namespace, rec); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a troubleshoot item by slug. Idempotent.
func (s *TroubleshootStore) Delete(ctx context.Context, namespace, slug string) error {
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		t, err := s.bySlug(ctx, tx, namespace, slug)
		if err != nil {
			if apperr.CodeOf(err) == apperr.NotFound {
				return nil
			}
			return err
		}
		return s.store.Delete(ctx, tx, TroubleKind, namespace, t.ID)
	})
}

// RecordUse increments usage_count, and success_count iff outcome is
// success (spec.md §4.4 "Usage counters").
func (s *TroubleshootStore) RecordUse(ctx context.Context, namespace, slug string, outcome Outcome) (*TroubleshootItem, error) {
	if outcome != OutcomeSuccess && outcome != OutcomeFail {
		return nil, apperr.Validationf("invalid outcome %q", outcome)
	}
	var updated *TroubleshootItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		t, err := s.bySlug(ctx, tx, namespace, slug)
		if err != nil {
			return err
		}
		t.UsageCount++
		if outcome == OutcomeSuccess {
			t.SuccessCount++
		}
		t.UpdatedAt = time.Now().UTC()

		rec, err := encodeTrouble(t)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, TroubleKind, namespace, rec); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Restore upserts a troubleshoot item verbatim (preserving id, slug, usage
// counters, and timestamps), bypassing the counter invariants enforced by
// RecordUse. Used by import's "replace"/"create_or_update" modes.
func (s *TroubleshootStore) Restore(ctx context.Context, namespace string, item *TroubleshootItem) error {
	item.Namespace = namespace
	rec, err := encodeTrouble(item)
	if err != nil {
		return err
	}
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		return s.store.Upsert(ctx, tx, TroubleKind, namespace, rec)
	})
}

func applyTroubleFields(t *TroubleshootItem, in TroubleshootInput) error {
	if in.Title != nil {
		t.Title = *in.Title
	}
	if in.AISolutions != nil {
		if len(*in.AISolutions) > maxSolutionsLen {
			return apperr.Validationf("ai_solutions exceeds %d chars", maxSolutionsLen)
		}
		t.AISolutions = *in.AISolutions
	}
	if in.AIUseCase != nil {
		if err := validateListLen("ai_use_case", len(*in.AIUseCase), maxUseCaseLen); err != nil {
			return err
		}
		t.AIUseCase = *in.AIUseCase
	}
	if in.Keywords != nil {
		if err := validateListLen("keywords", len(*in.Keywords), maxKeywordsLen); err != nil {
			return err
		}
		t.Keywords = *in.Keywords
	}
	if in.Tags != nil {
		t.Tags = *in.Tags
	}
	return nil
}

// Search implements memory(memory_type=troubleshoot, action=search):
// keyword, semantic, or hybrid ranked lookup, mirroring
// internal/workitem/search.go's Search over the same vectorstore.Store.
func (s *TroubleshootStore) Search(ctx context.Context, namespace string, searchType SearchType, query string, limit int) ([]*TroubleshootItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 200 {
		limit = 200
	}
	scored, err := runSearch(ctx, s.store, TroubleKind, namespace, searchType, query, limit)
	if err != nil {
		return nil, err
	}
	return decodeAllTrouble(recordsOf(scored))
}
