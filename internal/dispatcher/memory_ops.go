package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/markdown"
	"github.com/antigravity-dev/taskmind/internal/memory"
)

const (
	memoryTypeArchitecture = "architecture"
	memoryTypeTroubleshoot = "troubleshoot"
)

type memoryArgs struct {
	MemoryType string          `json:"memory_type"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
}

type memoryPayload struct {
	Slug  string   `json:"slug"`
	Mode  string   `json:"mode"`
	Docs  []string `json:"docs"`

	Title          *string   `json:"title"`
	AIRequirements *string   `json:"ai_requirements"`
	AIWhenToUse    *[]string `json:"ai_when_to_use"`
	Keywords       *[]string `json:"keywords"`
	ChildrenSlugs  *[]string `json:"children_slugs"`
	RelatedSlugs   *[]string `json:"related_slugs"`
	LinkedEpicIDs  *[]string `json:"linked_epic_ids"`
	Tags           *[]string `json:"tags"`
	AISolutions    *string   `json:"ai_solutions"`
	AIUseCase      *[]string `json:"ai_use_case"`

	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	CandidateK int    `json:"candidate_k"`
	TopN       int    `json:"top_n"`
	Outcome    string `json:"outcome"`

	Budget   int `json:"budget"`
	MaxDepth int `json:"max_depth"`
}

func (d *Dispatcher) memoryOp(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args memoryArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}
	var payload memoryPayload
	if err := unmarshalArgs(args.Payload, &payload); err != nil {
		return nil, err
	}

	switch args.MemoryType {
	case memoryTypeArchitecture:
		return d.architectureOp(ctx, namespace, args.Action, payload)
	case memoryTypeTroubleshoot:
		return d.troubleshootOp(ctx, namespace, args.Action, payload)
	default:
		return nil, apperr.Validationf("unknown memory_type %q", args.MemoryType)
	}
}

func (d *Dispatcher) architectureOp(ctx context.Context, namespace, action string, p memoryPayload) (any, error) {
	switch action {
	case "create":
		return d.Arch.Create(ctx, namespace, memory.ArchitectureInput{
			Slug:           p.Slug,
			Title:          p.Title,
			AIRequirements: p.AIRequirements,
			AIWhenToUse:    p.AIWhenToUse,
			Keywords:       p.Keywords,
			ChildrenSlugs:  p.ChildrenSlugs,
			RelatedSlugs:   p.RelatedSlugs,
			LinkedEpicIDs:  p.LinkedEpicIDs,
			Tags:           p.Tags,
		})
	case "read":
		return d.Arch.GetBySlug(ctx, namespace, p.Slug)
	case "update":
		return d.Arch.Update(ctx, namespace, p.Slug, memory.ArchitectureInput{
			Title:          p.Title,
			AIRequirements: p.AIRequirements,
			AIWhenToUse:    p.AIWhenToUse,
			Keywords:       p.Keywords,
			ChildrenSlugs:  p.ChildrenSlugs,
			RelatedSlugs:   p.RelatedSlugs,
			LinkedEpicIDs:  p.LinkedEpicIDs,
			Tags:           p.Tags,
		})
	case "delete":
		return nil, d.Arch.Delete(ctx, namespace, p.Slug)
	case "list":
		return d.Arch.List(ctx, namespace)
	case "search":
		return d.searchMemory(ctx, namespace, memory.ArchKind, p)
	case "get_context":
		return d.Context.AssembleContext(ctx, namespace, p.Slug, p.Budget, p.MaxDepth)
	case "export":
		return d.exportMemory(ctx, namespace, memoryTypeArchitecture, p.Slug)
	case "import":
		return d.importArchitecture(ctx, namespace, p)
	default:
		return nil, apperr.Validationf("unknown memory(architecture) action %q", action)
	}
}

func (d *Dispatcher) troubleshootOp(ctx context.Context, namespace, action string, p memoryPayload) (any, error) {
	switch action {
	case "create":
		return d.Trouble.Create(ctx, namespace, memory.TroubleshootInput{
			Slug:        p.Slug,
			Title:       p.Title,
			AISolutions: p.AISolutions,
			AIUseCase:   p.AIUseCase,
			Keywords:    p.Keywords,
			Tags:        p.Tags,
		})
	case "read":
		return d.Trouble.GetBySlug(ctx, namespace, p.Slug)
	case "update":
		return d.Trouble.Update(ctx, namespace, p.Slug, memory.TroubleshootInput{
			Title:       p.Title,
			AISolutions: p.AISolutions,
			AIUseCase:   p.AIUseCase,
			Keywords:    p.Keywords,
			Tags:        p.Tags,
		})
	case "delete":
		return nil, d.Trouble.Delete(ctx, namespace, p.Slug)
	case "list":
		return d.Trouble.List(ctx, namespace)
	case "search":
		return d.searchMemory(ctx, namespace, memory.TroubleKind, p)
	case "match":
		return d.Match.Match(ctx, namespace, p.Query, p.CandidateK, p.TopN)
	case "record_use":
		outcome := memory.Outcome(p.Outcome)
		return d.Trouble.RecordUse(ctx, namespace, p.Slug, outcome)
	case "export":
		return d.exportMemory(ctx, namespace, memoryTypeTroubleshoot, p.Slug)
	case "import":
		return d.importTroubleshoot(ctx, namespace, p)
	default:
		return nil, apperr.Validationf("unknown memory(troubleshoot) action %q", action)
	}
}

// searchMemory runs a keyword/semantic/hybrid search over kind (architecture
// or troubleshoot) via the matching store's Search method (spec.md §4.3,
// §4.4).
func (d *Dispatcher) searchMemory(ctx context.Context, namespace, kind string, p memoryPayload) (any, error) {
	searchType := memory.SearchType(p.Mode)
	if searchType == "" {
		searchType = memory.SearchHybrid
	}
	var (
		results any
		total   int
		err     error
	)
	switch kind {
	case memory.ArchKind:
		items, e := d.Arch.Search(ctx, namespace, searchType, p.Query, p.Limit)
		results, total, err = items, len(items), e
	case memory.TroubleKind:
		items, e := d.Trouble.Search(ctx, namespace, searchType, p.Query, p.Limit)
		results, total, err = items, len(items), e
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results, "total_found": total}, nil
}

func (d *Dispatcher) exportMemory(ctx context.Context, namespace, memType, slug string) (any, error) {
	if slug != "" {
		if memType == memoryTypeArchitecture {
			item, err := d.Arch.GetBySlug(ctx, namespace, slug)
			if err != nil {
				return nil, err
			}
			return markdown.Encode(markdown.FromArchitecture(item))
		}
		item, err := d.Trouble.GetBySlug(ctx, namespace, slug)
		if err != nil {
			return nil, err
		}
		return markdown.Encode(markdown.FromTroubleshoot(item))
	}

	if memType == memoryTypeArchitecture {
		items, err := d.Arch.List(ctx, namespace)
		if err != nil {
			return nil, err
		}
		docs := make([]string, 0, len(items))
		for _, item := range items {
			text, err := markdown.Encode(markdown.FromArchitecture(item))
			if err != nil {
				return nil, err
			}
			docs = append(docs, text)
		}
		return docs, nil
	}
	items, err := d.Trouble.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	docs := make([]string, 0, len(items))
	for _, item := range items {
		text, err := markdown.Encode(markdown.FromTroubleshoot(item))
		if err != nil {
			return nil, err
		}
		docs = append(docs, text)
	}
	return docs, nil
}

func (d *Dispatcher) importArchitecture(ctx context.Context, namespace string, p memoryPayload) (any, error) {
	items := make([]*memory.ArchitectureItem, 0, len(p.Docs))
	for _, text := range p.Docs {
		doc, err := markdown.Decode(text)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
		}
		item, err := markdown.ToArchitecture(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	mode := markdown.Mode(p.Mode)
	if mode == "" {
		mode = markdown.ModeCreateOrUpdate
	}
	return markdown.ImportArchitecture(ctx, d.Arch, items, namespace, mode)
}

func (d *Dispatcher) importTroubleshoot(ctx context.Context, namespace string, p memoryPayload) (any, error) {
	items := make([]*memory.TroubleshootItem, 0, len(p.Docs))
	for _, text := range p.Docs {
		doc, err := markdown.Decode(text)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
		}
		item, err := markdown.ToTroubleshoot(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	mode := markdown.Mode(p.Mode)
	if mode == "" {
		mode = markdown.ModeCreateOrUpdate
	}
	return markdown.ImportTroubleshoot(ctx, d.Trouble, items, namespace, mode)
}
