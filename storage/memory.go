package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/btree"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/types"
)

// memEntry is one stored document, ordered by insertion sequence
type memEntry struct {
	seq uint64
	doc types.Document
}

type memCollection struct {
	docs *btree.BTreeG[memEntry]
	ids  map[string]uint64
	seq  uint64
}

func newMemCollection() *memCollection {
	return &memCollection{
		docs: btree.NewG[memEntry](32, func(a, b memEntry) bool {
			return a.seq < b.seq
		}),
		ids: make(map[string]uint64),
	}
}

func (c *memCollection) all() []types.Document {
	out := make([]types.Document, 0, c.docs.Len())
	c.docs.Ascend(func(e memEntry) bool {
		out = append(out, e.doc)
		return true
	})
	return out
}

// MemoryStore keeps collections in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	closed      bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Close releases the store. Later calls fail with ErrUnavailable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return unavailable(op, errors.New("store closed"))
	}
	return nil
}

// InsertMany stores all docs or none
func (s *MemoryStore) InsertMany(ctx context.Context, collection string, docs []types.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert"); err != nil {
		return 0, err
	}

	coll, ok := s.collections[collection]
	if !ok {
		coll = newMemCollection()
	}
	err := checkBatch(docs, func(id string) bool {
		_, exists := coll.ids[id]
		return exists
	})
	if err != nil {
		return 0, err
	}

	for _, doc := range docs {
		coll.seq++
		coll.docs.ReplaceOrInsert(memEntry{seq: coll.seq, doc: doc.Clone()})
		coll.ids[doc.ID()] = coll.seq
	}
	s.collections[collection] = coll
	return len(docs), nil
}

// Find returns documents in insertion order unless q sorts them
func (s *MemoryStore) Find(ctx context.Context, collection string, q filter.Query) ([]types.Document, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find"); err != nil {
		return nil, 0, err
	}

	coll, ok := s.collections[collection]
	if !ok {
		return []types.Document{}, 0, nil
	}
	page, total := filter.Apply(coll.all(), q)
	out := make([]types.Document, len(page))
	for i, doc := range page {
		out[i] = doc.Clone()
	}
	return out, total, nil
}

// DeleteMany removes matching documents
func (s *MemoryStore) DeleteMany(ctx context.Context, collection string, f filter.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "delete"); err != nil {
		return 0, err
	}

	coll, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	if f.IsEmpty() {
		n := coll.docs.Len()
		s.collections[collection] = newMemCollection()
		return n, nil
	}

	var doomed []memEntry
	coll.docs.Ascend(func(e memEntry) bool {
		if f.Match(e.doc) {
			doomed = append(doomed, e)
		}
		return true
	})
	for _, e := range doomed {
		coll.docs.Delete(e)
		delete(coll.ids, e.doc.ID())
	}
	return len(doomed), nil
}

// Aggregate counts documents per field value
func (s *MemoryStore) Aggregate(ctx context.Context, collection, field string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "aggregate"); err != nil {
		return nil, err
	}

	coll, ok := s.collections[collection]
	if !ok {
		return map[string]int{}, nil
	}
	return CountBy(coll.all(), field), nil
}
