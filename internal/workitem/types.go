// Package workitem implements the work-item hierarchy graph engine (C3):
// type validation, dense sibling ordering, derived sequence numbers, and
// automatic progress/status propagation from leaves to roots.
package workitem

import (
	"time"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

// Type is a work-item kind in the fixed hierarchy.
type Type string

const (
	Initiative Type = "initiative"
	Epic       Type = "epic"
	Feature    Type = "feature"
	Story      Type = "story"
	Task       Type = "task"
)

// Status is a work-item lifecycle state.
type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	Blocked    Status = "blocked"
	Completed  Status = "completed"
	Cancelled  Status = "cancelled"
)

// Priority is an operator-assigned urgency label.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Complexity is an optional effort-sizing label.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 10000
	maxAcceptanceLen  = 20
)

// allowedParents maps each type to the set of types legal as its parent
// (the inverse of the parent→child table in spec.md §4.1, indexed by child
// for O(1) lookup on create/update).
var allowedParents = map[Type]map[Type]bool{
	Initiative: {},
	Epic:       {Initiative: true},
	Feature:    {Epic: true},
	Story:      {Epic: true, Feature: true},
	Task:       {Initiative: true, Epic: true, Feature: true, Story: true},
}

func validType(t Type) bool {
	_, ok := allowedParents[t]
	return ok
}

// allowedChildType reports whether child is a legal child type of parent.
func allowedChildType(parent, child Type) bool {
	parents, ok := allowedParents[child]
	if !ok {
		return false
	}
	return parents[parent]
}

// IsLeaf reports whether t never has children (only Task today, but
// derived from the table rather than hardcoded so a future type addition
// stays correct).
func IsLeaf(t Type) bool {
	for _, parents := range allowedParents {
		if parents[t] {
			return false
		}
	}
	return true
}

// leafProgress is the pure function from status to progress contribution
// for a leaf item (spec.md §4.1). Exposed as a var, not a const map, per
// the spec's note that implementers should make the blocked=0.25 constant
// visible rather than buried.
var leafProgress = map[Status]float64{
	NotStarted: 0.0,
	InProgress: 0.5,
	Blocked:    0.25,
	Completed:  1.0,
	Cancelled:  0.0,
}

func validStatus(s Status) bool {
	_, ok := leafProgress[s]
	return ok
}

func validPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func validComplexity(c Complexity) bool {
	switch c {
	case "", ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// WorkItem is one node in the hierarchy (spec.md §3.1).
type WorkItem struct {
	ID                 string     `json:"id"`
	Namespace          string     `json:"namespace"`
	Type               Type       `json:"type"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	Complexity         Complexity `json:"complexity,omitempty"`
	ParentID           *string    `json:"parent_id,omitempty"`
	OrderIndex         int        `json:"order_index"`
	SequenceNumber     string     `json:"sequence_number"`
	Progress           float64    `json:"progress"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	ContextTags        []string   `json:"context_tags,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Blockers           []string   `json:"blockers,omitempty"`
	// StatusOverride is set when an operator manually cancels a non-leaf
	// item (W5); propagation leaves status=cancelled alone for this node
	// while still recomputing its ancestors.
	StatusOverride bool      `json:"status_override,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SearchText is the derived text fed to the embedding provider (spec.md §3.1).
func (w *WorkItem) SearchText() string {
	if w == nil {
		return ""
	}
	return w.Title + " " + w.Description
}

// Clone returns a deep-enough copy for safe mutation by callers (slices are
// copied; times and strings are immutable already).
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	if w.ParentID != nil {
		id := *w.ParentID
		c.ParentID = &id
	}
	c.AcceptanceCriteria = append([]string(nil), w.AcceptanceCriteria...)
	c.ContextTags = append([]string(nil), w.ContextTags...)
	c.Blockers = append([]string(nil), w.Blockers...)
	return &c
}

// CreateInput is the validated payload for manage_work_item(action=create).
type CreateInput struct {
	Type               Type
	Title              string
	Description        string
	Priority           Priority
	Complexity         Complexity
	ParentID           *string
	AcceptanceCriteria []string
	ContextTags        []string
	Notes              string
}

// UpdateInput is the validated payload for manage_work_item(action=update).
// Nil/zero-value pointer fields mean "leave unchanged".
type UpdateInput struct {
	Title              *string
	Description        *string
	Status             *Status
	Priority           *Priority
	Complexity         *Complexity
	ParentID           **string // nil = unchanged; pointer-to-nil = clear parent
	AcceptanceCriteria *[]string
	ContextTags        *[]string
	Notes              *string
}

func validateCreate(in CreateInput) error {
	if !validType(in.Type) {
		return apperr.Validationf("invalid work item type %q", in.Type)
	}
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !validPriority(in.Priority) {
		return apperr.Validationf("invalid priority %q", in.Priority)
	}
	if !validComplexity(in.Complexity) {
		return apperr.Validationf("invalid complexity %q", in.Complexity)
	}
	if len(in.AcceptanceCriteria) > maxAcceptanceLen {
		return apperr.Validationf("acceptance_criteria exceeds %d entries", maxAcceptanceLen)
	}
	return nil
}

func validateTitle(title string) error {
	if len(title) < 1 || len(title) > maxTitleLen {
		return apperr.Validationf("title must be 1-%d chars, got %d", maxTitleLen, len(title))
	}
	return nil
}

func validateDescription(desc string) error {
	if len(desc) > maxDescriptionLen {
		return apperr.Validationf("description exceeds %d chars, got %d", maxDescriptionLen, len(desc))
	}
	return nil
}
