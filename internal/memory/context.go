package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

// charsPerToken is the constant cost-per-character approximation used for
// token estimation (spec.md §4.4: "does not require a specific tokenizer").
const charsPerToken = 4.0

func estimateTokens(s string) int {
	return int(float64(len(s))/charsPerToken) + 1
}

// ContextResult is the assembled smart-context blob returned by
// AssembleContext (spec.md §4.4).
type ContextResult struct {
	Text       string   `json:"text"`
	Slugs      []string `json:"slugs_visited"`
	Truncated  bool     `json:"truncated"`
	TokensUsed int      `json:"tokens_used"`
}

// ContextService implements the architecture smart-context retrieval
// service (C5).
type ContextService struct {
	arch *ArchitectureStore
	log  *slog.Logger
}

// NewContextService builds a service over arch.
func NewContextService(arch *ArchitectureStore, log *slog.Logger) *ContextService {
	if log == nil {
		log = slog.Default()
	}
	return &ContextService{arch: arch, log: log.With("component", "memory.context")}
}

// AssembleContext implements spec.md §4.4's five-step algorithm: root item,
// BFS into children_slugs to depth d, related_slugs at depth 1, and
// summarization once the token budget is exceeded.
func (c *ContextService) AssembleContext(ctx context.Context, namespace, startSlug string, budget, maxDepth int) (*ContextResult, error) {
	if budget <= 0 {
		budget = 4000
	}
	if maxDepth < 1 {
		maxDepth = 2
	}

	root, err := c.arch.GetBySlug(ctx, namespace, startSlug)
	if err != nil {
		return nil, err
	}

	result := &ContextResult{}
	var b strings.Builder
	visited := map[string]bool{root.Slug: true}
	result.Slugs = append(result.Slugs, root.Slug)

	writeFull := func(title, body string) bool {
		chunk := title + "\n" + body + "\n\n"
		if result.TokensUsed+estimateTokens(chunk) > budget {
			return false
		}
		b.WriteString(chunk)
		result.TokensUsed += estimateTokens(chunk)
		return true
	}
	writeSummary := func(title, body, keywords string) bool {
		chunk := title + "\n" + firstSentences(body, 2) + "\n" + keywords + "\n\n"
		if result.TokensUsed+estimateTokens(chunk) > budget {
			return false
		}
		b.WriteString(chunk)
		result.TokensUsed += estimateTokens(chunk)
		return true
	}

	// Step 1: starting item — title + ai_requirements.
	if !writeFull(root.Title, root.AIRequirements) {
		result.Truncated = true
		result.Text = b.String()
		return result, nil
	}

	// Step 2: BFS into children_slugs up to depth d.
	frontier := root.ChildrenSlugs
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, slug := range frontier {
			if visited[slug] {
				continue
			}
			visited[slug] = true
			child, err := c.arch.GetBySlug(ctx, namespace, slug)
			if err != nil {
				if apperr.CodeOf(err) == apperr.NotFound {
					continue // dangling reference (A2): skip on read
				}
				return nil, err
			}
			result.Slugs = append(result.Slugs, child.Slug)

			body := strings.Join(child.AIWhenToUse, "\n") + "\n" + truncate(child.AIRequirements, 500)
			ok := writeFull(child.Title, body)
			if !ok {
				// Step 4: switch to summaries once the budget is exceeded.
				if !writeSummary(child.Title, child.AIRequirements, strings.Join(child.Keywords, ", ")) {
					result.Truncated = true
					result.Text = b.String()
					return result, nil
				}
			}
			next = append(next, child.ChildrenSlugs...)
		}
		frontier = next
	}

	// Step 3: related_slugs at depth 1 only, supporting blurbs.
	for _, slug := range root.RelatedSlugs {
		if visited[slug] {
			continue
		}
		visited[slug] = true
		rel, err := c.arch.GetBySlug(ctx, namespace, slug)
		if err != nil {
			if apperr.CodeOf(err) == apperr.NotFound {
				continue
			}
			return nil, err
		}
		result.Slugs = append(result.Slugs, rel.Slug)
		blurb := firstSentences(rel.AIRequirements, 1)
		if !writeFull(rel.Title, blurb) {
			result.Truncated = true
			break
		}
	}

	result.Text = b.String()
	return result, nil
}

func firstSentences(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	parts := strings.SplitAfterN(text, ".", n+1)
	if len(parts) <= n {
		return text
	}
	return strings.Join(parts[:n], "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
