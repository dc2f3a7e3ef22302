package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DeafMist/market-news-radar/internal/docstore"
)

// SQLiteStore persists vectors in a local SQLite file and searches them by
// brute force. The collection's dimensionality is recorded on first open.
type SQLiteStore struct {
	db   *sql.DB
	dims int
}

// NewSQLiteStore opens or creates the store at dbPath. Opening an existing
// collection with different dims fails with ErrDimensionMismatch.
func NewSQLiteStore(dbPath string, dims int) (*SQLiteStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, dims: dims}
	if err := s.claimDims(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collection_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL,
		vector BLOB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) claimDims() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM collection_meta WHERE key = 'dims'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.Exec(`INSERT INTO collection_meta (key, value) VALUES ('dims', ?)`, strconv.Itoa(s.dims))
		return err
	}
	if err != nil {
		return err
	}
	existing, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("corrupt collection dims %q", stored)
	}
	if existing != s.dims {
		return fmt.Errorf("%w: collection has %d, embedder produces %d", ErrDimensionMismatch, existing, s.dims)
	}
	return nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := checkDims(s.dims, e.Vector); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (id, text, metadata, vector, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET text = excluded.text, metadata = excluded.metadata,
			vector = excluded.vector, updated_at = excluded.updated_at`)
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Text, string(meta), encodeVector(e.Vector), now); err != nil {
			return &IndexError{Op: "upsert", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	return nil
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int, filters []docstore.Filter) ([]Hit, error) {
	if err := checkDims(s.dims, query); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, metadata, vector FROM vectors ORDER BY rowid`)
	if err != nil {
		return nil, &IndexError{Op: "search", Err: err}
	}
	defer rows.Close()

	var all []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &IndexError{Op: "search", Err: err}
		}
		all = append(all, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &IndexError{Op: "search", Err: err}
	}
	return rank(all, query, k, filters)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, text, metadata, vector FROM vectors WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, &IndexError{Op: "get", Err: err}
	}
	return e, nil
}

// Dimensions implements Store.
func (s *SQLiteStore) Dimensions() int { return s.dims }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (Entry, error) {
	var (
		e    Entry
		meta string
		blob []byte
	)
	if err := r.Scan(&e.ID, &e.Text, &meta, &blob); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return Entry{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	e.Vector = decodeVector(blob)
	return e, nil
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
