// Package store persists generated extraction schemas. The schema artifact
// is the pipeline's only externally persisted output; this is its sink, one
// SQLite database per deployment.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Schema is the complete store schema, applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS schemas (
    id          TEXT PRIMARY KEY,
    query       TEXT NOT NULL,
    context     TEXT NOT NULL DEFAULT '',
    schema_json TEXT NOT NULL,
    rung        TEXT NOT NULL DEFAULT 'full',
    chunk_count INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schemas_time ON schemas(created_at DESC);
`

// ErrNotFound is returned when no record matches the requested id.
var ErrNotFound = errors.New("store: schema not found")

// Record is one persisted extraction schema with its provenance.
type Record struct {
	ID         string
	Query      string
	Context    string
	SchemaJSON string
	Rung       string
	ChunkCount int
	CreatedAt  time.Time
}

// Store wraps the schemas database.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the store at path with WAL and foreign keys on,
// and applies the schema. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }

// NewID returns a random 16-byte hex identifier.
func NewID() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Save inserts a record. A zero ID or CreatedAt is filled in.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO schemas (id, query, context, schema_json, rung, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Query, rec.Context, rec.SchemaJSON, rec.Rung, rec.ChunkCount, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save schema: %w", err)
	}
	return nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, query, context, schema_json, rung, chunk_count, created_at
		FROM schemas WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: get schema: %w", err)
	}
	return rec, nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, query, context, schema_json, rung, chunk_count, created_at
		FROM schemas ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list schemas: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list schemas: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var rec Record
	var createdAt int64
	err := row.Scan(&rec.ID, &rec.Query, &rec.Context, &rec.SchemaJSON, &rec.Rung, &rec.ChunkCount, &createdAt)
	if err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	return rec, nil
}
