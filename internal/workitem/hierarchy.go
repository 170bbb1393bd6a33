package workitem

import (
	"context"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

// Relationship selects the shape of get_hierarchy's result (spec.md §4.2).
type Relationship string

const (
	RelationChildren     Relationship = "children"
	RelationDescendants  Relationship = "descendants"
	RelationAncestors    Relationship = "ancestors"
	RelationFullHierarchy Relationship = "full_hierarchy"
	RelationDependencies Relationship = "dependencies"
)

// Node is one entry in a hierarchy result tree.
type Node struct {
	Item     *WorkItem `json:"item"`
	Children []*Node   `json:"children,omitempty"`
}

// GetHierarchy resolves relationship starting from id. maxDepth bounds
// children/descendants/full_hierarchy traversal (ignored for ancestors,
// which always walks to the root). includeCompleted/includeCancelled gate
// whether completed/cancelled items of any type are kept in the result;
// ancestors are always included
// regardless of status since they provide structural context.
func (s *Service) GetHierarchy(ctx context.Context, namespace, id string, rel Relationship, maxDepth int, includeCompleted, includeCancelled bool) (any, error) {
	if maxDepth < 1 {
		maxDepth = 1
	}
	root, err := s.Get(ctx, namespace, id)
	if err != nil {
		return nil, err
	}

	keep := func(w *WorkItem) bool {
		if w.Status == Completed && !includeCompleted {
			return false
		}
		if w.Status == Cancelled && !includeCancelled {
			return false
		}
		return true
	}

	switch rel {
	case RelationChildren:
		kids, err := s.children(ctx, nil, namespace, &id)
		if err != nil {
			return nil, err
		}
		out := make([]*WorkItem, 0, len(kids))
		for _, k := range kids {
			if keep(k) {
				out = append(out, k)
			}
		}
		return out, nil

	case RelationDescendants:
		return s.descendantNodes(ctx, namespace, id, maxDepth, keep)

	case RelationAncestors:
		return s.ancestorChain(ctx, namespace, root)

	case RelationFullHierarchy:
		node, err := s.subtreeNode(ctx, namespace, root, maxDepth, keep)
		if err != nil {
			return nil, err
		}
		return node, nil

	case RelationDependencies:
		// No cross-item dependency edge exists in the data model (§3.1);
		// hierarchy is the only modeled relationship. Advisory empty result,
		// matching execute_work_item's advisory-only treatment.
		return []*WorkItem{}, nil

	default:
		return nil, apperr.Validationf("unknown hierarchy relationship %q", rel)
	}
}

func (s *Service) ancestorChain(ctx context.Context, namespace string, item *WorkItem) ([]*WorkItem, error) {
	var out []*WorkItem
	cur := item
	for cur.ParentID != nil {
		parent, err := s.Get(ctx, namespace, *cur.ParentID)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		cur = parent
	}
	return out, nil
}

func (s *Service) descendantNodes(ctx context.Context, namespace, id string, maxDepth int, keep func(*WorkItem) bool) ([]*WorkItem, error) {
	var out []*WorkItem
	var walk func(parentID string, depth int) error
	walk = func(parentID string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		kids, err := s.children(ctx, nil, namespace, &parentID)
		if err != nil {
			return err
		}
		for _, k := range kids {
			if keep(k) {
				out = append(out, k)
			}
			if err := walk(k.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(id, 1); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) subtreeNode(ctx context.Context, namespace string, item *WorkItem, maxDepth int, keep func(*WorkItem) bool) (*Node, error) {
	node := &Node{Item: item}
	if maxDepth <= 0 {
		return node, nil
	}
	kids, err := s.children(ctx, nil, namespace, &item.ID)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		if !keep(k) {
			continue
		}
		seq, err := s.deriveSequenceNumber(ctx, nil, namespace, k)
		if err != nil {
			return nil, err
		}
		k.SequenceNumber = seq
		child, err := s.subtreeNode(ctx, namespace, k, maxDepth-1, keep)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
