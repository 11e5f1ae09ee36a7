// Package sqlstore implements storage.DocumentStore on an embedded SQLite file.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
`

// Store is a SQLite-backed document store
type Store struct {
	db     *sql.DB
	closed atomic.Bool
}

// Open opens or creates the database at dsn
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}
	return nil
}

// InsertMany writes all docs in one transaction
func (s *Store) InsertMany(ctx context.Context, collection string, docs []types.Document) (int, error) {
	if err := s.check(ctx, "insert"); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("insert: %w: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := validate(ctx, tx, collection, docs); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("encoding document %s: %w", doc.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.ID(), string(body)); err != nil {
			return 0, fmt.Errorf("inserting document %s: %w", doc.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing insert: %w", err)
	}
	return len(docs), nil
}

func validate(ctx context.Context, tx *sql.Tx, collection string, docs []types.Document) error {
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			return fmt.Errorf("document %d: %w", i, storage.ErrMissingID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("document %d (%s): %w", i, id, storage.ErrDuplicateID)
		}
		seen[id] = struct{}{}

		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&one)
		switch {
		case err == nil:
			return fmt.Errorf("document %d (%s): %w", i, id, storage.ErrDuplicateID)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("checking document %s: %w", id, err)
		}
	}
	return nil
}

type row struct {
	seq int64
	doc types.Document
}

func (s *Store) load(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, collection string) ([]row, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq, body FROM documents WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		var body string
		if err := rows.Scan(&r.seq, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(body), &r.doc); err != nil {
			return nil, fmt.Errorf("corrupt document %d: %w", r.seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func docsOf(rows []row) []types.Document {
	docs := make([]types.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docs
}

// Find loads the collection in insertion order and applies q
func (s *Store) Find(ctx context.Context, collection string, q filter.Query) ([]types.Document, int, error) {
	if err := s.check(ctx, "find"); err != nil {
		return nil, 0, err
	}
	rows, err := s.load(ctx, s.db, collection)
	if err != nil {
		return nil, 0, fmt.Errorf("find: %w", err)
	}
	page, total := filter.Apply(docsOf(rows), q)
	return page, total, nil
}

// DeleteMany removes matching documents in one transaction
func (s *Store) DeleteMany(ctx context.Context, collection string, f filter.Filter) (int, error) {
	if err := s.check(ctx, "delete"); err != nil {
		return 0, err
	}

	if f.IsEmpty() {
		res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, collection)
		if err != nil {
			return 0, fmt.Errorf("delete: %w: %v", storage.ErrUnavailable, err)
		}
		n, err := res.RowsAffected()
		return int(n), err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete: %w: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := s.load(ctx, tx, collection)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	deleted := 0
	for _, r := range rows {
		if !f.Match(r.doc) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE seq = ?`, r.seq); err != nil {
			return 0, fmt.Errorf("deleting document %d: %w", r.seq, err)
		}
		deleted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

// Aggregate counts documents per field value
func (s *Store) Aggregate(ctx context.Context, collection, field string) (map[string]int, error) {
	if err := s.check(ctx, "aggregate"); err != nil {
		return nil, err
	}
	rows, err := s.load(ctx, s.db, collection)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return storage.CountBy(docsOf(rows), field), nil
}
