// Package dispatcher implements the tool dispatcher (C7, spec.md §4.2): a
// fixed, stable set of operations, each taking one structured argument and
// returning one structured result, delegating to the domain services
// (internal/workitem, internal/memory, internal/markdown).
//
// Grounded on _examples/emergent-company-specmcp/internal/mcp/registry.go's
// Registry: a name -> handler map guarded by a RWMutex, built once at
// startup and looked up by name per call, rather than a switch statement
// the teacher's transport would otherwise grow unbounded.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/antigravity-dev/taskmind/internal/apperr"
	"github.com/antigravity-dev/taskmind/internal/markdown"
	"github.com/antigravity-dev/taskmind/internal/memory"
	"github.com/antigravity-dev/taskmind/internal/notify"
	"github.com/antigravity-dev/taskmind/internal/vectorstore"
	"github.com/antigravity-dev/taskmind/internal/workitem"
)

// Handler executes one operation's arguments against namespace and returns
// its result, or a typed *apperr.Error.
type Handler func(ctx context.Context, namespace string, args json.RawMessage) (any, error)

// OperationDef describes one registered operation for tools/list.
type OperationDef struct {
	Name        string
	Description string
}

// Dispatcher is the fixed registry of the nine spec.md §4.2 operations,
// bound to the concrete domain services that implement them.
type Dispatcher struct {
	WorkItems    *workitem.Service
	Arch         *memory.ArchitectureStore
	Trouble      *memory.TroubleshootStore
	Context      *memory.ContextService
	Match        *memory.MatchService
	Store        *vectorstore.Store
	Notifier     *notify.Notifier

	mu    sync.RWMutex
	ops   map[string]Handler
	order []string
	descr map[string]string
	log   *slog.Logger
}

// New wires a Dispatcher over the given services and registers all nine
// operations.
func New(
	workItems *workitem.Service,
	arch *memory.ArchitectureStore,
	trouble *memory.TroubleshootStore,
	ctxSvc *memory.ContextService,
	matchSvc *memory.MatchService,
	store *vectorstore.Store,
	notifier *notify.Notifier,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		WorkItems: workItems,
		Arch:      arch,
		Trouble:   trouble,
		Context:   ctxSvc,
		Match:     matchSvc,
		Store:     store,
		Notifier:  notifier,
		ops:       make(map[string]Handler),
		descr:     make(map[string]string),
		log:       log.With("component", "dispatcher"),
	}
	d.registerAll()
	return d
}

func (d *Dispatcher) register(name, description string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.ops[name]; exists {
		panic("dispatcher: operation " + name + " already registered")
	}
	d.ops[name] = h
	d.descr[name] = description
	d.order = append(d.order, name)
}

func (d *Dispatcher) registerAll() {
	d.register("manage_work_item", "Create, update, or delete a work item.", d.manageWorkItem)
	d.register("get_work_item", "Resolve and fetch a single work item or list.", d.getWorkItem)
	d.register("search_content", "Search work items by semantic, keyword, or hybrid query.", d.searchContent)
	d.register("get_hierarchy", "Fetch a work item's children, descendants, ancestors, or full subtree.", d.getHierarchy)
	d.register("execute_work_item", "Advisory execution status tracking for a work item.", d.executeWorkItem)
	d.register("track_progress", "Record progress on a work item or fetch analytics.", d.trackProgress)
	d.register("reorder_work_items", "Reorder a sibling group under a parent.", d.reorderWorkItems)
	d.register("sync_data", "Export or import a namespace's records as markdown.", d.syncData)
	d.register("memory", "CRUD, search, match, and context retrieval over architecture/troubleshoot memory.", d.memoryOp)
}

// List returns every registered operation, in registration order, for
// tools/list.
func (d *Dispatcher) List() []OperationDef {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]OperationDef, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, OperationDef{Name: name, Description: d.descr[name]})
	}
	return defs
}

// Dispatch looks up name and executes it with args against namespace.
// Unknown operation names return ErrValidation; the dispatcher itself never
// panics on bad input.
func (d *Dispatcher) Dispatch(ctx context.Context, namespace, name string, args json.RawMessage) (any, error) {
	d.mu.RLock()
	h, ok := d.ops[name]
	d.mu.RUnlock()
	if !ok {
		return nil, apperr.Validationf("unknown operation %q", name)
	}
	return h(ctx, namespace, args)
}

func unmarshalArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid arguments: %v", err)
	}
	return nil
}

func notifyEvent(namespace string, ids []string) notify.Event {
	return notify.Event{
		Namespace: namespace,
		Type:      notify.WorkItemUpdate,
		ItemIDs:   ids,
		Timestamp: time.Now().UTC(),
	}
}

// exportDoc dispatches to the right markdown.From* function by entity kind,
// shared by sync_data and memory(action=export).
func exportDoc(kind string, v any) (markdown.Document, error) {
	switch kind {
	case markdown.KindWorkItem:
		return markdown.FromWorkItem(v.(*workitem.WorkItem)), nil
	case markdown.KindArchitecture:
		return markdown.FromArchitecture(v.(*memory.ArchitectureItem)), nil
	case markdown.KindTroubleshoot:
		return markdown.FromTroubleshoot(v.(*memory.TroubleshootItem)), nil
	default:
		return markdown.Document{}, apperr.Validationf("unknown export kind %q", kind)
	}
}
