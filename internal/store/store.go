// Package store is the single-writer persistence layer: a file-backed sqlite
// database (WAL) holding sources and analyzed items, plus a vector side-index
// kept consistent by an orphan-reconciliation pass.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/prismis/prismisd/internal/content"
)

// Sentinel errors surfaced to callers. Duplicate inserts are expected during
// normal operation and are swallowed by the pipeline.
var (
	ErrDuplicate   = errors.New("store: duplicate")
	ErrInvalidType = errors.New("store: invalid source type")
	ErrNotFound    = errors.New("store: not found")
)

// Store wraps the sqlite handle. All mutating calls are serialized through
// an internal mutex (single writer); reads go straight to the pool.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at path, enables WAL, and runs
// the idempotent schema init. Callers own Close.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Init creates the schema. Safe to run on an existing database.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// ─── Sources ─────────────────────────────────────────────────────────────────

// AddSource registers a new poll target and returns its id.
// Fails with ErrInvalidType on unknown types and ErrDuplicate when
// (url, type) already exists.
func (s *Store) AddSource(url, typ, name string) (string, error) {
	st, err := content.ParseSourceType(typ)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO sources (id, url, type, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, url, string(st), name, time.Now().UTC().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: source (%s, %s)", ErrDuplicate, url, typ)
		}
		return "", fmt.Errorf("store: add source: %w", err)
	}
	return id, nil
}

// ListSources returns sources, optionally only active ones, newest first.
func (s *Store) ListSources(activeOnly bool) ([]content.Source, error) {
	q := `SELECT id, url, type, name, active, error_count, last_error,
	             last_fetched_at, etag, last_modified, created_at
	      FROM sources`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()
	var out []content.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// GetSource fetches one source by id.
func (s *Store) GetSource(id string) (content.Source, error) {
	row := s.db.QueryRow(
		`SELECT id, url, type, name, active, error_count, last_error,
		        last_fetched_at, etag, last_modified, created_at
		 FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Source{}, ErrNotFound
	}
	return src, err
}

// SetSourceActive flips the active flag. Deactivation is always
// caller-driven; the pipeline never deactivates a source on its own.
func (s *Store) SetSourceActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE sources SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("store: set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSourceFetched records the outcome of a fetch. Success clears the error
// counter and last_error and stamps last_fetched_at; failure increments the
// counter and records the error text.
func (s *Store) MarkSourceFetched(id string, ok bool, fetchErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if ok {
		_, err = s.db.Exec(
			`UPDATE sources SET error_count = 0, last_error = NULL, last_fetched_at = ? WHERE id = ?`,
			time.Now().UTC().Unix(), id)
	} else {
		_, err = s.db.Exec(
			`UPDATE sources SET error_count = error_count + 1, last_error = ? WHERE id = ?`,
			fetchErr, id)
	}
	if err != nil {
		return fmt.Errorf("store: mark fetched: %w", err)
	}
	return nil
}

// SaveSourceCache persists the HTTP cache validators from the last
// successful fetch.
func (s *Store) SaveSourceCache(id, etag, lastModified string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE sources SET etag = ?, last_modified = ? WHERE id = ?`,
		etag, lastModified, id)
	if err != nil {
		return fmt.Errorf("store: save cache validators: %w", err)
	}
	return nil
}

// ─── Items ───────────────────────────────────────────────────────────────────

// Exists is the dedup gate: one indexed lookup on (source_id, external_id).
func (s *Store) Exists(sourceID, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM items WHERE source_id = ? AND external_id = ?`,
		sourceID, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return true, nil
}

// InsertItem persists an analyzed item and returns its row id. FetchedAt is
// stamped here, by the store, never by the fetcher. Returns ErrDuplicate when
// (source_id, external_id) is already present.
func (s *Store) InsertItem(it *content.Item) (int64, error) {
	analysisJSON, err := json.Marshal(it.Analysis)
	if err != nil {
		return 0, fmt.Errorf("store: marshal analysis: %w", err)
	}
	it.FetchedAt = time.Now().UTC()
	var published sql.NullInt64
	if it.PublishedAt != nil {
		published = sql.NullInt64{Int64: it.PublishedAt.UTC().Unix(), Valid: true}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`INSERT INTO items (source_id, external_id, title, url, content, summary,
		                    reading_summary, analysis, priority, published_at, fetched_at,
		                    read, favorited, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '')`,
		it.SourceID, it.ExternalID, it.Title, it.URL, it.Content, it.Summary,
		it.ReadingSummary, string(analysisJSON), string(it.Priority),
		published, it.FetchedAt.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: item (%s, %s)", ErrDuplicate, it.SourceID, it.ExternalID)
		}
		return 0, fmt.Errorf("store: insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert item id: %w", err)
	}
	it.ID = id
	return id, nil
}

// LatestContent returns the raw content of the most recently fetched item for
// a source. Used by the file fetcher to diff against the previous ingest.
func (s *Store) LatestContent(sourceID string) (string, bool, error) {
	var body string
	err := s.db.QueryRow(
		`SELECT content FROM items WHERE source_id = ? ORDER BY fetched_at DESC, id DESC LIMIT 1`,
		sourceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: latest content: %w", err)
	}
	return body, true, nil
}

// Prune deletes priority-none items (optionally only those fetched before
// now-olderThan) together with their vectors, in one transaction. Returns the
// number of items deleted.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := int64(0)
	if olderThan > 0 {
		cutoff = time.Now().UTC().Add(-olderThan).Unix()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: prune begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		`DELETE FROM item_vectors WHERE content_id IN
		   (SELECT id FROM items WHERE priority = 'none' AND (? = 0 OR fetched_at < ?))`,
		cutoff, cutoff); err != nil {
		return 0, fmt.Errorf("store: prune vectors: %w", err)
	}
	res, err := tx.Exec(
		`DELETE FROM items WHERE priority = 'none' AND (? = 0 OR fetched_at < ?)`,
		cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune items: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: prune commit: %w", err)
	}
	return n, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(r rowScanner) (content.Source, error) {
	var (
		src         content.Source
		typ         string
		active      int
		lastErr     sql.NullString
		lastFetched sql.NullInt64
		created     int64
	)
	err := r.Scan(&src.ID, &src.URL, &typ, &src.Name, &active, &src.ErrorCount,
		&lastErr, &lastFetched, &src.ETag, &src.LastModified, &created)
	if err != nil {
		return content.Source{}, err
	}
	src.Type = content.SourceType(typ)
	src.Active = active != 0
	src.LastError = lastErr.String
	if lastFetched.Valid {
		t := time.Unix(lastFetched.Int64, 0).UTC()
		src.LastFetchedAt = &t
	}
	src.CreatedAt = time.Unix(created, 0).UTC()
	return src, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint failures in the error text;
	// matching the sqlite message keeps us driver-version independent.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
