// Package vectorstore implements the per-namespace, per-entity-kind store
// backing work items and memory items (spec.md §4.3, component C2): upsert,
// point-get, scalar scan, vector-k-NN, keyword, and hybrid search, each
// partitioned into its own SQLite table per namespace.
//
// The schema and driver wiring follow internal/graph/dag.go from the
// reference codebase (modernc.org/sqlite, WAL + foreign_keys pragmas,
// context-aware exec/query helpers); keyword ranking follows
// internal/store/lessons.go's FTS5-with-triggers pattern.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode = WAL;`
	pragmaForeignKeysOn  = `PRAGMA foreign_keys = ON;`
	pragmaBusyTimeout    = `PRAGMA busy_timeout = 5000;`
)

var identifierRe = regexp.MustCompile(`[^a-z0-9_]`)

// Record is the generic unit of storage: a JSON-encoded scalar payload plus
// its derived search text and vector. Domain packages marshal/unmarshal
// their own typed structs into Data.
type Record struct {
	ID         string
	Namespace  string
	SearchText string
	Vector     Vector
	Data       []byte // JSON-encoded domain record
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// execer abstracts over *sql.DB and *sql.Tx so storage helpers work both
// standalone and inside the namespace-serialized critical sections required
// by spec.md §5, generalizing the teacher's execContext/queryContext
// helpers (which only accepted *sql.DB).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the shared persistent resource described in spec.md §5: it owns
// per-namespace locking that implements the namespace write-serialization
// invariant, and the SQLite connection that backs every table.
type Store struct {
	db   *sql.DB
	dim  int
	embd EmbeddingProvider

	nsMu   sync.Mutex
	nsLock map[string]*sync.Mutex

	tableMu sync.Mutex
	tables  map[string]struct{} // tracks tables whose schema has been ensured
}

// Open opens (creating if necessary) the SQLite-backed store at dir, sized
// for vectors of dimension dim.
func Open(dir string, dim int) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("vectorstore: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vectorstore: create data dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "taskmind.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", dbPath, err)
	}

	ctx := context.Background()
	for _, pragma := range []string{pragmaJournalModeWAL, pragmaForeignKeysOn, pragmaBusyTimeout} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("vectorstore: pragma %q: %w", pragma, err)
		}
	}

	if dim <= 0 {
		dim = 384
	}

	return &Store{
		db:     db,
		dim:    dim,
		embd:   NewHashProjectionProvider(dim),
		nsLock: make(map[string]*sync.Mutex),
		tables: make(map[string]struct{}),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.dim }

// Embedder exposes the embedding provider so callers can compute query
// vectors without duplicating C1's determinism contract.
func (s *Store) Embedder() EmbeddingProvider { return s.embd }

// DB exposes the raw handle for backup/restore tooling (§6 Persisted layout)
// that needs to checkpoint or copy the database file directly.
func (s *Store) DB() *sql.DB { return s.db }

// tableName derives the physical SQLite table name for a (kind, namespace)
// pair, partitioning every entity kind per-namespace as required by C2.
func tableName(kind, namespace string) string {
	sanitize := func(s string) string {
		return identifierRe.ReplaceAllString(strings.ToLower(s), "_")
	}
	return fmt.Sprintf("%s__%s", sanitize(kind), sanitize(namespace))
}

// namespaceLock returns the mutex serializing mutations for namespace,
// creating it on first use. This is the concrete mechanism behind spec.md
// §5's "mutations ... are serialized (one at a time)" invariant, modeled on
// the single sync.Mutex guarding internal/dispatch/ratelimit.go's
// RateLimiter, generalized here to one mutex per namespace.
func (s *Store) namespaceLock(namespace string) *sync.Mutex {
	s.nsMu.Lock()
	defer s.nsMu.Unlock()
	mu, ok := s.nsLock[namespace]
	if !ok {
		mu = &sync.Mutex{}
		s.nsLock[namespace] = mu
	}
	return mu
}

// WithNamespaceTx runs fn inside the namespace's serialized critical section
// and inside a single SQLite transaction, committing on success and rolling
// back on error or panic. Every multi-record mutation (cascade delete,
// reorder, progress propagation) must go through this to satisfy spec.md
// §4.3's "table-level transaction or equivalent serialization" requirement.
func (s *Store) WithNamespaceTx(ctx context.Context, namespace string, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	mu := s.namespaceLock(namespace)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// EnsureTable creates the scalar and FTS5 tables for (kind, namespace) if
// they do not already exist. Safe to call repeatedly; cheap after the first
// call per process via the in-memory tables set.
func (s *Store) EnsureTable(ctx context.Context, kind, namespace string) error {
	table := tableName(kind, namespace)

	s.tableMu.Lock()
	_, known := s.tables[table]
	s.tableMu.Unlock()
	if known {
		return nil
	}

	if err := s.ensureTableLocked(ctx, s.db, table); err != nil {
		return err
	}

	s.tableMu.Lock()
	s.tables[table] = struct{}{}
	s.tableMu.Unlock()
	return nil
}

func (s *Store) ensureTableLocked(ctx context.Context, e execer, table string) error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		namespace TEXT NOT NULL,
		search_text TEXT NOT NULL DEFAULT '',
		vector BLOB,
		data TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`, table)
	if _, err := e.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("vectorstore: create table %s: %w", table, err)
	}

	ftsTable := table + "_fts"
	ftsSchema := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(
		search_text,
		content='%s',
		content_rowid='rowid'
	);`, ftsTable, table)
	if _, err := e.ExecContext(ctx, ftsSchema); err != nil {
		return fmt.Errorf("vectorstore: create fts table %s: %w", ftsTable, err)
	}

	triggers := []string{
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ai AFTER INSERT ON %s BEGIN
			INSERT INTO %s(rowid, search_text) VALUES (new.rowid, new.search_text);
		END;`, table, table, ftsTable),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_ad AFTER DELETE ON %s BEGIN
			INSERT INTO %s(%s, rowid, search_text) VALUES ('delete', old.rowid, old.search_text);
		END;`, table, table, ftsTable, ftsTable),
		fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_au AFTER UPDATE ON %s BEGIN
			INSERT INTO %s(%s, rowid, search_text) VALUES ('delete', old.rowid, old.search_text);
			INSERT INTO %s(rowid, search_text) VALUES (new.rowid, new.search_text);
		END;`, table, table, ftsTable, ftsTable, ftsTable),
	}
	for _, trig := range triggers {
		if _, err := e.ExecContext(ctx, trig); err != nil {
			return fmt.Errorf("vectorstore: create trigger on %s: %w", table, err)
		}
	}
	return nil
}

// Upsert inserts or replaces rec by primary key, computing its vector from
// SearchText via the embedding provider when the caller hasn't supplied one.
// Pass e=nil to run outside any caller-managed transaction (the store opens
// its own single-statement implicit transaction via *sql.DB in that case).
func (s *Store) Upsert(ctx context.Context, e execer, kind, namespace string, rec Record) error {
	if e == nil {
		e = s.db
	}
	if err := s.EnsureTable(ctx, kind, namespace); err != nil {
		return err
	}
	table := tableName(kind, namespace)

	if rec.Vector == nil && rec.SearchText != "" {
		rec.Vector = s.embd.Embed(rec.SearchText)
	}
	vecBlob := encodeVector(rec.Vector)

	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, namespace, search_text, vector, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace=excluded.namespace,
			search_text=excluded.search_text,
			vector=excluded.vector,
			data=excluded.data,
			updated_at=excluded.updated_at;`, table)
	_, err := e.ExecContext(ctx, query, rec.ID, namespace, rec.SearchText, vecBlob, string(rec.Data), created, now)
	if err != nil {
		return fmt.Errorf("vectorstore: upsert %s/%s: %w", table, rec.ID, err)
	}
	return nil
}

// Get performs a point lookup by primary key, returning (record, true, nil)
// or (zero, false, nil) if absent.
func (s *Store) Get(ctx context.Context, e execer, kind, namespace, id string) (Record, bool, error) {
	if e == nil {
		e = s.db
	}
	if err := s.EnsureTable(ctx, kind, namespace); err != nil {
		return Record{}, false, err
	}
	table := tableName(kind, namespace)

	row := e.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, namespace, search_text, vector, data, created_at, updated_at FROM %s WHERE id = ? AND namespace = ?;`, table),
		id, namespace)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("vectorstore: get %s/%s: %w", table, id, err)
	}
	return rec, true, nil
}

// Delete removes a record by primary key. Deleting an absent id is not an
// error (callers determine idempotence at the domain layer).
func (s *Store) Delete(ctx context.Context, e execer, kind, namespace, id string) error {
	if e == nil {
		e = s.db
	}
	if err := s.EnsureTable(ctx, kind, namespace); err != nil {
		return err
	}
	table := tableName(kind, namespace)
	_, err := e.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND namespace = ?;`, table), id, namespace)
	if err != nil {
		return fmt.Errorf("vectorstore: delete %s/%s: %w", table, id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var vecBlob []byte
	var data string
	if err := row.Scan(&rec.ID, &rec.Namespace, &rec.SearchText, &vecBlob, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Data = []byte(data)
	rec.Vector = decodeVector(vecBlob)
	return rec, nil
}

func encodeVector(v Vector) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) Vector {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	v := make(Vector, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
