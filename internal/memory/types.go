// Package memory implements the memory stores (C4: CRUD for architecture and
// troubleshoot items) and the smart retrieval services built on top of them
// (C5: token-budgeted architecture context assembly, problem-solution
// matching). Both entity kinds share the vectorstore partitioning scheme
// used by internal/workitem.
package memory

import (
	"time"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

const (
	maxSlugLen           = 100
	maxRequirementsLen   = 10000
	maxSolutionsLen      = 10000
	maxWhenToUseLen      = 10
	maxUseCaseLen        = 10
	maxKeywordsLen       = 20
	maxChildrenSlugsLen  = 50
	maxRelatedSlugsLen   = 20
	maxLinkedEpicIDsLen  = 20
)

// ArchitectureItem is a reusable design/context item addressable by slug
// (spec.md §3.2).
type ArchitectureItem struct {
	ID             string    `json:"id"`
	Namespace      string    `json:"namespace"`
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	AIRequirements string    `json:"ai_requirements"`
	AIWhenToUse    []string  `json:"ai_when_to_use,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	ChildrenSlugs  []string  `json:"children_slugs,omitempty"`
	RelatedSlugs   []string  `json:"related_slugs,omitempty"`
	LinkedEpicIDs  []string  `json:"linked_epic_ids,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SearchText is the derived text fed to the embedding provider.
func (a *ArchitectureItem) SearchText() string {
	if a == nil {
		return ""
	}
	return a.Title + " " + a.AIRequirements
}

// TroubleshootItem is a reusable problem/solution entry with usage
// statistics (spec.md §3.3).
type TroubleshootItem struct {
	ID           string    `json:"id"`
	Namespace    string    `json:"namespace"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	AISolutions  string    `json:"ai_solutions"`
	AIUseCase    []string  `json:"ai_use_case,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SearchText is the derived text fed to the embedding provider: use cases
// then solutions, per spec.md §3.3.
func (t *TroubleshootItem) SearchText() string {
	if t == nil {
		return ""
	}
	text := ""
	for _, uc := range t.AIUseCase {
		text += uc + " "
	}
	return text + t.AISolutions
}

// SuccessRate is success_count / max(usage_count, 1).
func (t *TroubleshootItem) SuccessRate() float64 {
	if t == nil {
		return 0
	}
	denom := t.UsageCount
	if denom < 1 {
		denom = 1
	}
	return float64(t.SuccessCount) / float64(denom)
}

// ArchitectureInput is the validated create/update payload for architecture
// items. Nil pointer fields on update mean "leave unchanged".
type ArchitectureInput struct {
	Slug           string
	Title          *string
	AIRequirements *string
	AIWhenToUse    *[]string
	Keywords       *[]string
	ChildrenSlugs  *[]string
	RelatedSlugs   *[]string
	LinkedEpicIDs  *[]string
	Tags           *[]string
}

// TroubleshootInput is the validated create/update payload for troubleshoot
// items. Nil pointer fields on update mean "leave unchanged".
type TroubleshootInput struct {
	Slug        string
	Title       *string
	AISolutions *string
	AIUseCase   *[]string
	Keywords    *[]string
	Tags        *[]string
}

func validateSlug(slug string) error {
	if len(slug) == 0 || len(slug) > maxSlugLen {
		return apperr.Validationf("slug must be 1-%d chars, got %d", maxSlugLen, len(slug))
	}
	return nil
}

func validateListLen(name string, n, max int) error {
	if n > max {
		return apperr.Validationf("%s exceeds %d entries, got %d", name, max, n)
	}
	return nil
}
