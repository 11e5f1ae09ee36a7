// Package inventory implements bulk upload, listing and deletion of
// resources, rules and findings.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/telemetry"
	"github.com/yairfalse/surface/types"
)

// Options configures a Service
type Options struct {
	NewID  func() string
	Now    func() time.Time
	Logger *telemetry.Logger
}

// Service is the document surface over a store
type Service struct {
	store  storage.DocumentStore
	newID  func() string
	now    func() time.Time
	logger *telemetry.Logger
}

// NewService creates a new inventory service
func NewService(store storage.DocumentStore, opts Options) *Service {
	s := &Service{store: store, newID: opts.NewID, now: opts.Now, logger: opts.Logger}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = telemetry.NewNopLogger()
	}
	return s
}

// UploadResources validates and inserts resources as one batch
func (s *Service) UploadResources(ctx context.Context, raw []map[string]any) (int, error) {
	return s.upload(ctx, storage.CollectionResources, raw, validateResource)
}

// UploadRules validates and inserts rules as one batch. Rules with operators
// the evaluator does not know are accepted and skipped at scan time.
func (s *Service) UploadRules(ctx context.Context, raw []map[string]any) (int, error) {
	return s.upload(ctx, storage.CollectionRules, raw, validateRule)
}

func (s *Service) upload(ctx context.Context, collection string, raw []map[string]any, validate func(int, types.Document) error) (int, error) {
	docs := make([]types.Document, len(raw))
	for i, item := range raw {
		if item == nil {
			return 0, &ValidationError{Index: i, Field: "document", Reason: "must be an object"}
		}
		doc, err := types.DocumentFromAny(item)
		if err != nil {
			return 0, &ValidationError{Index: i, Field: "document", Reason: err.Error()}
		}
		docs[i] = doc
	}
	return s.insert(ctx, collection, docs, validate)
}

// ImportResources inserts already-typed resource documents, such as those
// produced by discovery, under the same validation as UploadResources.
func (s *Service) ImportResources(ctx context.Context, docs []types.Document) (int, error) {
	batch := make([]types.Document, len(docs))
	for i, doc := range docs {
		batch[i] = doc.Clone()
	}
	return s.insert(ctx, storage.CollectionResources, batch, validateResource)
}

// insert validates, stamps and stores docs as one batch. docs are modified.
func (s *Service) insert(ctx context.Context, collection string, docs []types.Document, validate func(int, types.Document) error) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	stamp := types.String(types.FormatTime(s.now()))
	for i, doc := range docs {
		if err := validate(i, doc); err != nil {
			return 0, err
		}
		doc[types.FieldID] = types.String(s.newID())
		doc[types.FieldCreatedAt] = stamp
		doc[types.FieldUpdatedAt] = stamp
	}

	s.logger.LogBatchOperation(ctx, "insert", collection, len(docs))
	n, err := s.store.InsertMany(ctx, collection, docs)
	if err != nil {
		s.logger.LogStorageError(ctx, "insert "+collection, err)
		return 0, fmt.Errorf("failed to insert %s: %w", collection, err)
	}
	return n, nil
}

// ListResources returns one page of resources
func (s *Service) ListResources(ctx context.Context, req ListRequest) (*Page, error) {
	return s.list(ctx, storage.CollectionResources, req)
}

// ListRules returns one page of rules
func (s *Service) ListRules(ctx context.Context, req ListRequest) (*Page, error) {
	return s.list(ctx, storage.CollectionRules, req)
}

func (s *Service) list(ctx context.Context, collection string, req ListRequest) (*Page, error) {
	q, pageNumber, pageSize, err := req.query()
	if err != nil {
		return nil, err
	}

	docs, total, err := s.store.Find(ctx, collection, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return &Page{Data: docs, Total: total, PageSize: pageSize, PageNumber: pageNumber}, nil
}

// ListFindings returns every finding matching raw in insertion order
func (s *Service) ListFindings(ctx context.Context, raw map[string]any) ([]types.Document, error) {
	f, err := parseFilter(raw)
	if err != nil {
		return nil, err
	}
	docs, _, err := s.store.Find(ctx, storage.CollectionFindings, filter.Query{Filter: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return docs, nil
}

// DeleteResources removes resources matching raw. An empty filter removes all.
func (s *Service) DeleteResources(ctx context.Context, raw map[string]any) (int, error) {
	return s.delete(ctx, storage.CollectionResources, raw)
}

// DeleteRules removes rules matching raw. An empty filter removes all.
func (s *Service) DeleteRules(ctx context.Context, raw map[string]any) (int, error) {
	return s.delete(ctx, storage.CollectionRules, raw)
}

// DeleteFindings removes findings matching raw. An empty filter removes all.
func (s *Service) DeleteFindings(ctx context.Context, raw map[string]any) (int, error) {
	return s.delete(ctx, storage.CollectionFindings, raw)
}

func (s *Service) delete(ctx context.Context, collection string, raw map[string]any) (int, error) {
	f, err := parseFilter(raw)
	if err != nil {
		return 0, err
	}

	n, err := s.store.DeleteMany(ctx, collection, f)
	if err != nil {
		s.logger.LogStorageError(ctx, "delete "+collection, err)
		return 0, fmt.Errorf("failed to delete %s: %w", collection, err)
	}
	s.logger.LogBatchOperation(ctx, "delete", collection, n)
	return n, nil
}

func parseFilter(raw map[string]any) (filter.Filter, error) {
	f, err := filter.Parse(raw)
	if err != nil {
		return filter.Filter{}, requestError("filter", "%v", err)
	}
	return f, nil
}
