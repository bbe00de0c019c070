// Package memory persists finished translations in a local sqlite
// database keyed by exact source text, so repeated inputs can be
// answered without decoding again.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one stored translation.
type Record struct {
	ID         string    `json:"id"`
	SourceText string    `json:"source_text"`
	TargetText string    `json:"target_text"`
	Score      float64   `json:"score"`
	AvgLogProb float64   `json:"avg_log_prob"`
	TokenCount int       `json:"token_count"`
	Finished   bool      `json:"finished"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewID returns a fresh translation id.
func NewID() string {
	return "tm_" + uuid.NewString()
}

// Store is a sqlite-backed translation memory.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates a Store for the database at path. Call Init before
// any other method.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema. Calling Init on an
// initialized store is a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("memory: sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Put inserts a record, or replaces the stored translation when one
// already exists for the same source text. The first id written for a
// source text is kept across replacements.
func (s *Store) Put(ctx context.Context, rec Record) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if rec.SourceText == "" {
		return errors.New("memory: source text is required")
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO translations (id, source_text, target_text, score, avg_log_prob, token_count, finished, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_text) DO UPDATE SET
			target_text = excluded.target_text,
			score = excluded.score,
			avg_log_prob = excluded.avg_log_prob,
			token_count = excluded.token_count,
			finished = excluded.finished,
			model = excluded.model,
			created_at = excluded.created_at
	`, rec.ID, rec.SourceText, rec.TargetText, rec.Score, rec.AvgLogProb,
		rec.TokenCount, boolToInt(rec.Finished), rec.Model,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Lookup fetches the stored translation for an exact source text. The
// second return value reports whether one exists.
func (s *Store) Lookup(ctx context.Context, sourceText string) (Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Record{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, source_text, target_text, score, avg_log_prob, token_count, finished, model, created_at
		FROM translations WHERE source_text = ?
	`, sourceText)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// Get fetches a record by id. The second return value reports whether
// the record exists.
func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Record{}, false, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, source_text, target_text, score, avg_log_prob, token_count, finished, model, created_at
		FROM translations WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// Delete removes a record by id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `DELETE FROM translations WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, source_text, target_text, score, avg_log_prob, token_count, finished, model, created_at
		FROM translations ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count reports the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the database. A closed store can be re-initialized.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("memory: store is not initialized")
	}
	return s.db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		finished int
		created  string
	)
	err := row.Scan(&rec.ID, &rec.SourceText, &rec.TargetText, &rec.Score,
		&rec.AvgLogProb, &rec.TokenCount, &finished, &rec.Model, &created)
	if err != nil {
		return Record{}, err
	}
	rec.Finished = finished != 0
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Record{}, fmt.Errorf("memory: bad created_at for %s: %w", rec.ID, err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS translations (
			id TEXT PRIMARY KEY,
			source_text TEXT NOT NULL UNIQUE,
			target_text TEXT NOT NULL,
			score REAL NOT NULL,
			avg_log_prob REAL NOT NULL,
			token_count INTEGER NOT NULL,
			finished INTEGER NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_translations_created
			ON translations(created_at DESC);
	`)
	return err
}
