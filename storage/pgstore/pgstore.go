// Package pgstore implements storage.DocumentStore on PostgreSQL JSONB rows.
package pgstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS surface_documents (
	seq        BIGSERIAL PRIMARY KEY,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	UNIQUE (collection, id)
)`

// Store is a PostgreSQL-backed document store
type Store struct {
	Pool   *pgxpool.Pool
	closed atomic.Bool
}

// Open connects to url and ensures the documents table exists
func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open: %w: %v", storage.ErrUnavailable, err)
	}
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{Pool: p}, nil
}

// Close closes the pool
func (s *Store) Close() error {
	if !s.closed.Swap(true) {
		s.Pool.Close()
	}
	return nil
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

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("insert: %w: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		id := doc.ID()
		if id == "" {
			return 0, fmt.Errorf("document %d: %w", i, storage.ErrMissingID)
		}
		if _, dup := seen[id]; dup {
			return 0, fmt.Errorf("document %d (%s): %w", i, id, storage.ErrDuplicateID)
		}
		seen[id] = struct{}{}

		var exists bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM surface_documents WHERE collection = $1 AND id = $2)`,
			collection, id).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("checking document %s: %w", id, err)
		}
		if exists {
			return 0, fmt.Errorf("document %d (%s): %w", i, id, storage.ErrDuplicateID)
		}
	}

	batch := &pgx.Batch{}
	for _, doc := range docs {
		body, err := doc.MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("encoding document %s: %w", doc.ID(), err)
		}
		batch.Queue(`INSERT INTO surface_documents (collection, id, body) VALUES ($1, $2, $3)`,
			collection, doc.ID(), body)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("inserting documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing insert: %w", err)
	}
	return len(docs), nil
}

type row struct {
	seq int64
	doc types.Document
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func load(ctx context.Context, q querier, collection string) ([]row, error) {
	rows, err := q.Query(ctx, `SELECT seq, body FROM surface_documents WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		var body []byte
		if err := rows.Scan(&r.seq, &body); err != nil {
			return nil, err
		}
		if err := r.doc.UnmarshalJSON(body); err != nil {
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
	rows, err := load(ctx, s.Pool, collection)
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
		tag, err := s.Pool.Exec(ctx, `DELETE FROM surface_documents WHERE collection = $1`, collection)
		if err != nil {
			return 0, fmt.Errorf("delete: %w: %v", storage.ErrUnavailable, err)
		}
		return int(tag.RowsAffected()), nil
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("delete: %w: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := load(ctx, tx, collection)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}

	var seqs []int64
	for _, r := range rows {
		if f.Match(r.doc) {
			seqs = append(seqs, r.seq)
		}
	}
	if len(seqs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM surface_documents WHERE seq = ANY($1)`, seqs); err != nil {
			return 0, fmt.Errorf("deleting documents: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return len(seqs), nil
}

// Aggregate counts documents per field value
func (s *Store) Aggregate(ctx context.Context, collection, field string) (map[string]int, error) {
	if err := s.check(ctx, "aggregate"); err != nil {
		return nil, err
	}
	rows, err := load(ctx, s.Pool, collection)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return storage.CountBy(docsOf(rows), field), nil
}

