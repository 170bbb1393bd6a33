// Package session implements the session/namespace binder (C8, spec.md
// §4.6): it resolves the namespace a client intends at handshake, binds it
// for the life of the session, and rejects any later message that
// contradicts the binding.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/taskmind/internal/apperr"
)

// DefaultNamespace is used when none of the handshake sources supply one
// (spec.md §4.6's precedence chain bottoms out here).
const DefaultNamespace = "default"

// Session is one bound client connection (spec.md §3.4). Namespace is
// immutable once the session is created.
type Session struct {
	ID              string
	Namespace       string
	ProtocolVersion string
	ClientInfo      map[string]any
	CreatedAt       time.Time
}

// Sources carries the raw namespace-intent candidates a transport observed
// during handshake. Fields map directly to spec.md §4.6's five sources;
// empty fields are simply absent sources.
type Sources struct {
	Path        string // URL path segment, e.g. /mcp/{namespace}
	Header      string // X-Namespace header
	Subprotocol string // WebSocket subprotocol parameter
	StdioOption string // stdio handshake option
	Env         string // configured default namespace (general.namespace_default)
}

// Resolve picks the namespace per spec.md §4.6's precedence: path > header >
// subprotocol > stdio option > env > "default". Exactly one source is
// honored; the others are ignored once one is non-empty.
func (s Sources) Resolve() string {
	switch {
	case s.Path != "":
		return s.Path
	case s.Header != "":
		return s.Header
	case s.Subprotocol != "":
		return s.Subprotocol
	case s.StdioOption != "":
		return s.StdioOption
	case s.Env != "":
		return s.Env
	default:
		return DefaultNamespace
	}
}

// Binder is the in-process session table (spec.md §5: "guarded by a
// reader-writer lock; writes only on session open/close"). Grounded on
// internal/config.RWMutexManager's read-heavy RWMutex pattern.
type Binder struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewBinder constructs an empty session table.
func NewBinder() *Binder {
	return &Binder{sessions: make(map[string]*Session)}
}

// Open resolves the namespace from sources, creates a new Session bound to
// it, and registers it. The caller supplies protocolVersion/clientInfo from
// the transport's initialize/handshake payload.
func (b *Binder) Open(sources Sources, protocolVersion string, clientInfo map[string]any) *Session {
	sess := &Session{
		ID:              uuid.New().String(),
		Namespace:       sources.Resolve(),
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo,
		CreatedAt:       time.Now().UTC(),
	}
	b.mu.Lock()
	b.sessions[sess.ID] = sess
	b.mu.Unlock()
	return sess
}

// Get returns the session by id.
func (b *Binder) Get(sessionID string) (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sess, ok := b.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFoundf("session %q not found", sessionID)
	}
	return sess, nil
}

// Check verifies that namespace agrees with sessionID's bound namespace. A
// mismatch closes the session and returns ErrNamespaceBinding (spec.md
// §4.6: "the session is closed"). An empty namespace is treated as "no
// claim made" and always agrees.
func (b *Binder) Check(sessionID, namespace string) (*Session, error) {
	sess, err := b.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if namespace != "" && namespace != sess.Namespace {
		b.Close(sessionID)
		return nil, apperr.NamespaceBindingf("session %s bound to namespace %q, got %q", sessionID, sess.Namespace, namespace)
	}
	return sess, nil
}

// Close removes a session from the table. Idempotent.
func (b *Binder) Close(sessionID string) {
	b.mu.Lock()
	delete(b.sessions, sessionID)
	b.mu.Unlock()
}

// Count returns the number of open sessions, for health/diagnostics.
func (b *Binder) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions)
}
