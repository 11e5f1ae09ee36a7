package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/types"
)

// BoltFile is the database file created inside the data directory
const BoltFile = "surface.db"

const boltSchemaVersion = "1"

var bucketMeta = []byte("meta")

func docsBucket(collection string) []byte { return []byte("docs/" + collection) }
func idsBucket(collection string) []byte  { return []byte("ids/" + collection) }

// BoltStore persists collections in a single bbolt file. Each collection is a
// bucket of JSON documents keyed by insertion sequence, plus an _id index.
type BoltStore struct {
	db   *bbolt.DB
	path string
}

// NewBoltStore opens or creates the store under dir
func NewBoltStore(dir string) (*BoltStore, error) {
	dbPath := filepath.Join(dir, BoltFile)

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, unavailable("open", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if meta.Get([]byte("schema")) == nil {
			return meta.Put([]byte("schema"), []byte(boltSchemaVersion))
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &BoltStore{db: db, path: dbPath}, nil
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// InsertMany writes all docs in one transaction
func (s *BoltStore) InsertMany(ctx context.Context, collection string, docs []types.Document) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := tx.CreateBucketIfNotExists(docsBucket(collection))
		if err != nil {
			return err
		}
		ids, err := tx.CreateBucketIfNotExists(idsBucket(collection))
		if err != nil {
			return err
		}

		err = checkBatch(docs, func(id string) bool {
			return ids.Get([]byte(id)) != nil
		})
		if err != nil {
			return err
		}

		for _, doc := range docs {
			seq, err := data.NextSequence()
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("failed to encode document %s: %w", doc.ID(), err)
			}
			key := seqKey(seq)
			if err := data.Put(key, encoded); err != nil {
				return err
			}
			if err := ids.Put([]byte(doc.ID()), key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap("insert", err)
	}
	return len(docs), nil
}

// Find scans the collection in insertion order and applies q
func (s *BoltStore) Find(ctx context.Context, collection string, q filter.Query) ([]types.Document, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	docs, err := s.load(collection)
	if err != nil {
		return nil, 0, s.wrap("find", err)
	}
	page, total := filter.Apply(docs, q)
	return page, total, nil
}

// DeleteMany removes matching documents in one transaction
func (s *BoltStore) DeleteMany(ctx context.Context, collection string, f filter.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(docsBucket(collection))
		if data == nil {
			return nil
		}
		if f.IsEmpty() {
			deleted = data.Stats().KeyN
			if err := tx.DeleteBucket(docsBucket(collection)); err != nil {
				return err
			}
			if tx.Bucket(idsBucket(collection)) != nil {
				return tx.DeleteBucket(idsBucket(collection))
			}
			return nil
		}

		ids := tx.Bucket(idsBucket(collection))
		var keys [][]byte
		var docIDs []string
		err := data.ForEach(func(k, v []byte) error {
			var doc types.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("corrupt document at %x: %w", k, err)
			}
			if f.Match(doc) {
				keys = append(keys, append([]byte(nil), k...))
				docIDs = append(docIDs, doc.ID())
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i, k := range keys {
			if err := data.Delete(k); err != nil {
				return err
			}
			if ids != nil {
				if err := ids.Delete([]byte(docIDs[i])); err != nil {
					return err
				}
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, s.wrap("delete", err)
	}
	return deleted, nil
}

// Aggregate counts documents per field value
func (s *BoltStore) Aggregate(ctx context.Context, collection, field string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	docs, err := s.load(collection)
	if err != nil {
		return nil, s.wrap("aggregate", err)
	}
	return CountBy(docs, field), nil
}

func (s *BoltStore) load(collection string) ([]types.Document, error) {
	docs := []types.Document{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(docsBucket(collection))
		if data == nil {
			return nil
		}
		return data.ForEach(func(k, v []byte) error {
			var doc types.Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("corrupt document at %x: %w", k, err)
			}
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

// wrap maps closed-database errors onto ErrUnavailable
func (s *BoltStore) wrap(op string, err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) || errors.Is(err, bbolt.ErrTimeout) {
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
