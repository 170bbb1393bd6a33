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

// ArchKind is the entity-kind name partitioning architecture items in the
// vector store (spec.md §4.3: "architecture@ns").
const ArchKind = "architecture"

// ArchitectureStore implements CRUD for architecture items (C4) over a
// shared vectorstore.Store, enforcing slug uniqueness (A1) and
// children_slugs acyclicity (A3).
type ArchitectureStore struct {
	store *vectorstore.Store
	log   *slog.Logger
}

// NewArchitectureStore builds a store bound to vs, logging under the
// "memory.architecture" component.
func NewArchitectureStore(vs *vectorstore.Store, log *slog.Logger) *ArchitectureStore {
	if log == nil {
		log = slog.Default()
	}
	return &ArchitectureStore{store: vs, log: log.With("component", "memory.architecture")}
}

func slugFilter(slug string) vectorstore.FilterFunc {
	return func(raw []byte) bool {
		var a ArchitectureItem
		if err := json.Unmarshal(raw, &a); err != nil {
			return false
		}
		return a.Slug == slug
	}
}

func (s *ArchitectureStore) bySlug(ctx context.Context, e execer, namespace, slug string) (*ArchitectureItem, error) {
	recs, err := s.store.Scan(ctx, e, ArchKind, namespace, slugFilter(slug))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, apperr.NotFoundf("architecture item %q not found", slug)
	}
	return decodeArch(recs[0])
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetBySlug returns an architecture item by slug.
func (s *ArchitectureStore) GetBySlug(ctx context.Context, namespace, slug string) (*ArchitectureItem, error) {
	return s.bySlug(ctx, nil, namespace, slug)
}

// List returns every architecture item in namespace, ordered by slug.
func (s *ArchitectureStore) List(ctx context.Context, namespace string) ([]*ArchitectureItem, error) {
	recs, err := s.store.Scan(ctx, nil, ArchKind, namespace, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeAllArch(recs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Slug < items[j].Slug })
	return items, nil
}

// Create validates and inserts a new architecture item.
func (s *ArchitectureStore) Create(ctx context.Context, namespace string, in ArchitectureInput) (*ArchitectureItem, error) {
	if err := validateSlug(in.Slug); err != nil {
		return nil, err
	}

	var created *ArchitectureItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := s.bySlug(ctx, tx, namespace, in.Slug); err == nil {
			return apperr.Validationf("architecture slug %q already exists in namespace %s", in.Slug, namespace)
		} else if apperr.CodeOf(err) != apperr.NotFound {
			return err
		}

		now := time.Now().UTC()
		a := &ArchitectureItem{
			ID:        uuid.New().String(),
			Namespace: namespace,
			Slug:      in.Slug,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := applyArchFields(a, in); err != nil {
			return err
		}
		if err := s.checkAcyclic(ctx, tx, namespace, a); err != nil {
			return err
		}

		rec, err := encodeArch(a)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, ArchKind, namespace, rec); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update applies a partial mutation to an existing architecture item (slug
// is immutable; caller identifies the target by slug).
func (s *ArchitectureStore) Update(ctx context.Context, namespace, slug string, in ArchitectureInput) (*ArchitectureItem, error) {
	var updated *ArchitectureItem
	err := s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.bySlug(ctx, tx, namespace, slug)
		if err != nil {
			return err
		}
		if err := applyArchFields(a, in); err != nil {
			return err
		}
		if err := s.checkAcyclic(ctx, tx, namespace, a); err != nil {
			return err
		}
		a.UpdatedAt = time.Now().UTC()

		rec, err := encodeArch(a)
		if err != nil {
			return err
		}
		if err := s.store.Upsert(ctx, tx, ArchKind, namespace, rec); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an architecture item by slug. Idempotent: deleting an
// already-absent slug is not an error.
func (s *ArchitectureStore) Delete(ctx context.Context, namespace, slug string) error {
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		a, err := s.bySlug(ctx, tx, namespace, slug)
		if err != nil {
			if apperr.CodeOf(err) == apperr.NotFound {
				return nil
			}
			return err
		}
		return s.store.Delete(ctx, tx, ArchKind, namespace, a.ID)
	})
}

// Restore upserts an architecture item verbatim (preserving id, slug, and
// timestamps), bypassing slug-uniqueness and acyclicity checks. Used by
// import's "replace"/"create_or_update" modes restoring a full snapshot,
// where forward references among the restored set are expected.
func (s *ArchitectureStore) Restore(ctx context.Context, namespace string, item *ArchitectureItem) error {
	item.Namespace = namespace
	rec, err := encodeArch(item)
	if err != nil {
		return err
	}
	return s.store.WithNamespaceTx(ctx, namespace, func(ctx context.Context, tx *sql.Tx) error {
		return s.store.Upsert(ctx, tx, ArchKind, namespace, rec)
	})
}

func applyArchFields(a *ArchitectureItem, in ArchitectureInput) error {
	if in.Title != nil {
		a.Title = *in.Title
	}
	if in.AIRequirements != nil {
		if len(*in.AIRequirements) > maxRequirementsLen {
			return apperr.Validationf("ai_requirements exceeds %d chars", maxRequirementsLen)
		}
		a.AIRequirements = *in.AIRequirements
	}
	if in.AIWhenToUse != nil {
		if err := validateListLen("ai_when_to_use", len(*in.AIWhenToUse), maxWhenToUseLen); err != nil {
			return err
		}
		a.AIWhenToUse = *in.AIWhenToUse
	}
	if in.Keywords != nil {
		if err := validateListLen("keywords", len(*in.Keywords), maxKeywordsLen); err != nil {
			return err
		}
		a.Keywords = *in.Keywords
	}
	if in.ChildrenSlugs != nil {
		if err := validateListLen("children_slugs", len(*in.ChildrenSlugs), maxChildrenSlugsLen); err != nil {
			return err
		}
		a.ChildrenSlugs = *in.ChildrenSlugs
	}
	if in.RelatedSlugs != nil {
		if err := validateListLen("related_slugs", len(*in.RelatedSlugs), maxRelatedSlugsLen); err != nil {
			return err
		}
		a.RelatedSlugs = *in.RelatedSlugs
	}
	if in.LinkedEpicIDs != nil {
		if err := validateListLen("linked_epic_ids", len(*in.LinkedEpicIDs), maxLinkedEpicIDsLen); err != nil {
			return err
		}
		a.LinkedEpicIDs = *in.LinkedEpicIDs
	}
	if in.Tags != nil {
		a.Tags = *in.Tags
	}
	return nil
}

// checkAcyclic verifies that adding/updating a's children_slugs does not
// create a cycle in the children_slugs graph (A3). related_slugs is
// deliberately excluded: per spec.md §9, it is a symmetric tag-like
// relation that permits cycles.
func (s *ArchitectureStore) checkAcyclic(ctx context.Context, tx *sql.Tx, namespace string, a *ArchitectureItem) error {
	visited := map[string]bool{a.Slug: true}
	var walk func(slug string) error
	walk = func(slug string) error {
		var children []string
		if slug == a.Slug {
			children = a.ChildrenSlugs
		} else {
			other, err := s.bySlug(ctx, tx, namespace, slug)
			if err != nil {
				if apperr.CodeOf(err) == apperr.NotFound {
					return nil // forward reference (A2): accepted on write
				}
				return err
			}
			children = other.ChildrenSlugs
		}
		for _, child := range children {
			if child == a.Slug {
				return apperr.Cyclef("children_slugs of %q would create a cycle through %q", a.Slug, slug)
			}
			if visited[child] {
				continue
			}
			visited[child] = true
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(a.Slug)
}

// Search implements memory(memory_type=architecture, action=search):
// keyword, semantic, or hybrid ranked lookup, mirroring
// internal/workitem/search.go's Search over the same vectorstore.Store.
func (s *ArchitectureStore) Search(ctx context.Context, namespace string, searchType SearchType, query string, limit int) ([]*ArchitectureItem, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 200 {
		limit = 200
	}
	scored, err := runSearch(ctx, s.store, ArchKind, namespace, searchType, query, limit)
	if err != nil {
		return nil, err
	}
	return decodeAllArch(recordsOf(scored))
}
