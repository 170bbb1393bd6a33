// Package notify implements the progress notifier (C10, spec.md §4.8): it
// delivers work_item_update and progress events to every session subscribed
// to the namespace a mutation touched. Delivery is best-effort and
// at-least-once within a session; the client is expected to reconcile by
// refetching (spec.md §4.8).
//
// Grounded on the Design Note "Coroutine-based notifications with queued
// messages" (spec.md §9): modeled as a bounded channel per session, senders
// drop the oldest message on overflow and flag the session for resync,
// rather than blocking a mutation on a slow subscriber. The subscriber
// table follows internal/session.Binder's map-guarded-by-mutex shape.
package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType distinguishes the two notification kinds spec.md §4.8/§6 name.
type EventType string

const (
	WorkItemUpdate EventType = "work_item_update"
	Progress       EventType = "progress"
)

// Event is one notification delivered to subscribed sessions.
type Event struct {
	Namespace string
	Type      EventType
	ItemIDs   []string
	Timestamp time.Time
}

// queueSize bounds each subscriber's channel (spec.md §9: "bounded channel
// per session").
const queueSize = 64

// Subscription is a session's view onto a namespace's event stream.
type Subscription struct {
	ch       chan Event
	resynced atomic.Bool
}

// Events returns the channel to range/select over for delivered events.
func (s *Subscription) Events() <-chan Event { return s.ch }

// NeedsResync reports whether at least one event was dropped because the
// subscriber's queue was full, and clears the flag. The caller (transport)
// is expected to tell the client to refetch full state.
func (s *Subscription) NeedsResync() bool { return s.resynced.Swap(false) }

// Notifier is the in-process namespace -> session -> subscription fan-out
// table.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[string]*Subscription // namespace -> sessionID -> sub
}

// New constructs an empty notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[string]map[string]*Subscription)}
}

// Subscribe registers sessionID for events on namespace and returns its
// Subscription. Calling Subscribe again with the same ids replaces the
// prior subscription (the old channel is simply dropped by the caller).
func (n *Notifier) Subscribe(namespace, sessionID string) *Subscription {
	sub := &Subscription{ch: make(chan Event, queueSize)}
	n.mu.Lock()
	defer n.mu.Unlock()
	byNS, ok := n.subs[namespace]
	if !ok {
		byNS = make(map[string]*Subscription)
		n.subs[namespace] = byNS
	}
	byNS[sessionID] = sub
	return sub
}

// Unsubscribe removes sessionID's subscription to namespace. Idempotent.
func (n *Notifier) Unsubscribe(namespace, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	byNS, ok := n.subs[namespace]
	if !ok {
		return
	}
	delete(byNS, sessionID)
	if len(byNS) == 0 {
		delete(n.subs, namespace)
	}
}

// Publish delivers ev to every session subscribed to ev.Namespace. A full
// subscriber queue has its oldest event dropped to make room, and the
// subscriber is flagged for resync; Publish itself never blocks.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	byNS := n.subs[ev.Namespace]
	subs := make([]*Subscription, 0, len(byNS))
	for _, s := range byNS {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}

func (s *Subscription) deliver(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	// Queue full: drop the oldest entry to make room, then retry once.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
	s.resynced.Store(true)
}

// SubscriberCount returns the number of sessions subscribed to namespace,
// for health/diagnostics.
func (n *Notifier) SubscriberCount(namespace string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[namespace])
}
