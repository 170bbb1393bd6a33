package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"
)

// FilterFunc is a post-query predicate evaluated in Go over a decoded
// record's raw Data bytes. Domain packages unmarshal Data into their own
// types and test whatever fields they need; the store stays schema-less,
// which is acceptable given spec.md's explicit non-goal of legal-grade
// full-text search.
type FilterFunc func(data []byte) bool

// Scored pairs a Record with the similarity/rank score that produced it.
type Scored struct {
	Record Record
	Score  float64
}

// Scan returns every record in (kind, namespace) passing filter, ordered by
// primary key for determinism. filter may be nil to return everything. Pass
// e=nil to read via the store's own connection, or a *sql.Tx from
// WithNamespaceTx to see uncommitted writes made earlier in the same
// critical section (e.g. siblings inserted moments ago in a cascade).
func (s *Store) Scan(ctx context.Context, e execer, kind, namespace string, filter FilterFunc) ([]Record, error) {
	if e == nil {
		e = s.db
	}
	if err := s.EnsureTable(ctx, kind, namespace); err != nil {
		return nil, err
	}
	table := tableName(kind, namespace)

	rows, err := e.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, namespace, search_text, vector, data, created_at, updated_at FROM %s WHERE namespace = ? ORDER BY id;`, table),
		namespace)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: scan row %s: %w", table, err)
		}
		if filter == nil || filter(rec.Data) {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// VectorTopK returns the k records in (kind, namespace) with the highest
// cosine similarity to query, among those passing filter. Brute-force over
// the namespace partition is deliberate: spec.md scopes out ANN-index
// tuning, and a per-namespace table keeps the scan bounded to that
// namespace's own records.
func (s *Store) VectorTopK(ctx context.Context, e execer, kind, namespace string, query Vector, k int, filter FilterFunc) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	records, err := s.Scan(ctx, e, kind, namespace, filter)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) == 0 {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: CosineSimilarity(query, rec.Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.ID < scored[j].Record.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// KeywordTopK returns the k records in (kind, namespace) best matching the
// FTS5 query text, ranked by BM25 (lower bm25() is a better match, so scores
// are negated into an ascending-is-worse convention matching VectorTopK).
// Mirrors internal/store/lessons.go's FTS5+bm25 keyword search.
func (s *Store) KeywordTopK(ctx context.Context, e execer, kind, namespace, queryText string, k int, filter FilterFunc) ([]Scored, error) {
	if e == nil {
		e = s.db
	}
	if k <= 0 || strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	if err := s.EnsureTable(ctx, kind, namespace); err != nil {
		return nil, err
	}
	table := tableName(kind, namespace)
	ftsTable := table + "_fts"

	rows, err := e.QueryContext(ctx, fmt.Sprintf(`
		SELECT t.id, t.namespace, t.search_text, t.vector, t.data, t.created_at, t.updated_at, bm25(%s) AS rank
		FROM %s AS f
		JOIN %s AS t ON t.rowid = f.rowid
		WHERE f.%s MATCH ? AND t.namespace = ?
		ORDER BY rank
		LIMIT ?;`, ftsTable, ftsTable, table, ftsTable),
		queryText, namespace, k*4) // overfetch before Go-side filter
	if err != nil {
		return nil, fmt.Errorf("vectorstore: keyword search %s: %w", table, err)
	}
	defer rows.Close()

	var out []Scored
	for rows.Next() {
		var rec Record
		var vecBlob []byte
		var data string
		var rank float64
		if err := rows.Scan(&rec.ID, &rec.Namespace, &rec.SearchText, &vecBlob, &data, &rec.CreatedAt, &rec.UpdatedAt, &rank); err != nil {
			return nil, fmt.Errorf("vectorstore: keyword scan %s: %w", table, err)
		}
		rec.Data = []byte(data)
		rec.Vector = decodeVector(vecBlob)
		if filter != nil && !filter(rec.Data) {
			continue
		}
		out = append(out, Scored{Record: rec, Score: -rank})
		if len(out) == k {
			break
		}
	}
	return out, rows.Err()
}

// HybridTopK fuses vector and keyword rankings with reciprocal rank fusion
// (RRF): score(r) = sum over rankings containing r of 1 / (rrfK + rank).
// RRF needs no score normalization between the cosine and BM25 scales,
// which is why it's preferred here over a weighted linear blend.
const rrfK = 60.0

func (s *Store) HybridTopK(ctx context.Context, e execer, kind, namespace string, query Vector, queryText string, k int, filter FilterFunc) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}
	fetchK := k * 3
	if fetchK < 20 {
		fetchK = 20
	}

	vecResults, err := s.VectorTopK(ctx, e, kind, namespace, query, fetchK, filter)
	if err != nil {
		return nil, err
	}
	kwResults, err := s.KeywordTopK(ctx, e, kind, namespace, queryText, fetchK, filter)
	if err != nil {
		return nil, err
	}

	fused := make(map[string]float64)
	byID := make(map[string]Record)
	for rank, sc := range vecResults {
		fused[sc.Record.ID] += 1.0 / (rrfK + float64(rank+1))
		byID[sc.Record.ID] = sc.Record
	}
	for rank, sc := range kwResults {
		fused[sc.Record.ID] += 1.0 / (rrfK + float64(rank+1))
		byID[sc.Record.ID] = sc.Record
	}

	out := make([]Scored, 0, len(fused))
	for id, score := range fused {
		out = append(out, Scored{Record: byID[id], Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// RetryBusy retries fn while it returns a SQLITE_BUSY/SQLITE_LOCKED error,
// using capped exponential backoff with jitter. Reimplements the shape of
// internal/dispatch/retry.go's RetryPolicy for the one failure mode the
// store actually sees under concurrent namespace writers.
func RetryBusy(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	base := 10 * time.Millisecond
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !isBusyErr(err) {
			return err
		}
		backoff := base * time.Duration(1<<uint(attempt))
		if backoff > 500*time.Millisecond {
			backoff = 500 * time.Millisecond
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr interface{ Error() string }
	if errors.As(err, &sqliteErr) {
		msg := strings.ToLower(sqliteErr.Error())
		return strings.Contains(msg, "sqlite_busy") || strings.Contains(msg, "sqlite_locked") || strings.Contains(msg, "database is locked")
	}
	return false
}
