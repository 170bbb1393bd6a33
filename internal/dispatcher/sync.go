package dispatcher

import (
	"context"
	"encoding/json"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/markdown"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

type syncDataArgs struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
	Mode   string   `json:"mode"`
	Docs   []string `json:"docs"`
}

// syncData implements sync_data(action=export|import) across all three
// entity kinds (spec.md §4.5). backup/restore are filesystem-level concerns
// handled by the `tools backup` CLI subcommands (SPEC_FULL.md's
// SUPPLEMENTED FEATURES), not by this namespace-scoped operation; a caller
// that reaches here with those actions gets pointed at the CLI instead of a
// silently-ignored no-op.
func (d *Dispatcher) syncData(ctx context.Context, namespace string, raw json.RawMessage) (any, error) {
	var args syncDataArgs
	if err := unmarshalArgs(raw, &args); err != nil {
		return nil, err
	}

	kinds := args.Kinds
	if len(kinds) == 0 {
		kinds = []string{markdown.KindWorkItem, markdown.KindArchitecture, markdown.KindTroubleshoot}
	}

	switch args.Action {
	case "export":
		return d.syncExport(ctx, namespace, kinds)
	case "import":
		return d.syncImport(ctx, namespace, kinds, args)
	case "backup", "restore":
		return nil, apperr.Validationf("sync_data action %q is a filesystem operation; use the `tools backup` CLI command", args.Action)
	default:
		return nil, apperr.Validationf("unknown sync_data action %q", args.Action)
	}
}

func (d *Dispatcher) syncExport(ctx context.Context, namespace string, kinds []string) (any, error) {
	out := map[string][]string{}
	for _, kind := range kinds {
		switch kind {
		case markdown.KindWorkItem:
			items, err := d.WorkItems.List(ctx, namespace)
			if err != nil {
				return nil, err
			}
			docs := make([]string, 0, len(items))
			for _, it := range items {
				text, err := markdown.Encode(markdown.FromWorkItem(it))
				if err != nil {
					return nil, err
				}
				docs = append(docs, text)
			}
			out[kind] = docs
		case markdown.KindArchitecture:
			docs, err := d.exportMemory(ctx, namespace, memoryTypeArchitecture, "")
			if err != nil {
				return nil, err
			}
			out[kind] = docs.([]string)
		case markdown.KindTroubleshoot:
			docs, err := d.exportMemory(ctx, namespace, memoryTypeTroubleshoot, "")
			if err != nil {
				return nil, err
			}
			out[kind] = docs.([]string)
		default:
			return nil, apperr.Validationf("unknown sync_data kind %q", kind)
		}
	}
	return out, nil
}

func (d *Dispatcher) syncImport(ctx context.Context, namespace string, kinds []string, args syncDataArgs) (any, error) {
	mode := markdown.Mode(args.Mode)
	if mode == "" {
		mode = markdown.ModeCreateOrUpdate
	}

	byKind := map[string][]markdown.Document{}
	for _, text := range args.Docs {
		doc, err := markdown.Decode(text)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "%v", err)
		}
		kind, _ := doc.Header["type"].(string)
		byKind[kind] = append(byKind[kind], doc)
	}

	results := map[string]*markdown.ImportResult{}
	for _, kind := range kinds {
		docs, ok := byKind[kind]
		if !ok {
			continue
		}
		res, err := d.importKind(ctx, namespace, kind, docs, mode)
		if err != nil {
			return nil, err
		}
		results[kind] = res
	}
	return results, nil
}

func (d *Dispatcher) importKind(ctx context.Context, namespace, kind string, docs []markdown.Document, mode markdown.Mode) (*markdown.ImportResult, error) {
	switch kind {
	case markdown.KindWorkItem:
		items := make([]*workitem.WorkItem, 0, len(docs))
		for _, doc := range docs {
			item, err := markdown.ToWorkItem(doc)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return markdown.ImportWorkItems(ctx, d.WorkItems, items, namespace, mode)
	case markdown.KindArchitecture:
		items := make([]*memory.ArchitectureItem, 0, len(docs))
		for _, doc := range docs {
			item, err := markdown.ToArchitecture(doc)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return markdown.ImportArchitecture(ctx, d.Arch, items, namespace, mode)
	case markdown.KindTroubleshoot:
		items := make([]*memory.TroubleshootItem, 0, len(docs))
		for _, doc := range docs {
			item, err := markdown.ToTroubleshoot(doc)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return markdown.ImportTroubleshoot(ctx, d.Trouble, items, namespace, mode)
	default:
		return nil, apperr.Validationf("unknown sync_data kind %q", kind)
	}
}
