// Package storetest holds the behaviour every DocumentStore backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/types"
)

// Opener returns a fresh, empty store for one subtest
type Opener func(t *testing.T) storage.DocumentStore

// Run executes the conformance suite against stores produced by open
func Run(t *testing.T, open Opener) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, open(t)) })
	t.Run("InsertAllOrNothing", func(t *testing.T) { testInsertAllOrNothing(t, open(t)) })
	t.Run("MissingID", func(t *testing.T) { testMissingID(t, open(t)) })
	t.Run("FilterSortPage", func(t *testing.T) { testFilterSortPage(t, open(t)) })
	t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, open(t)) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, open(t)) })
	t.Run("Aggregate", func(t *testing.T) { testAggregate(t, open(t)) })
	t.Run("CollectionsIsolated", func(t *testing.T) { testCollectionsIsolated(t, open(t)) })
	t.Run("ValueKindsPreserved", func(t *testing.T) { testValueKinds(t, open(t)) })
	t.Run("ClosedIsUnavailable", func(t *testing.T) { testClosed(t, open(t)) })
}

// Resource builds a resource document for tests
func Resource(id, name, resourceType, region string) types.Document {
	d := types.Document{
		types.FieldID:           types.String(id),
		types.FieldName:         types.String(name),
		types.FieldResourceType: types.String(resourceType),
	}
	if region != "" {
		d[types.FieldRegion] = types.String(region)
	}
	return d
}

func seed(t *testing.T, s storage.DocumentStore) {
	t.Helper()
	n, err := s.InsertMany(context.Background(), storage.CollectionResources, []types.Document{
		Resource("r1", "web-b", "ec2", "us-east-1"),
		Resource("r2", "db", "rds", "eu-west-1"),
		Resource("r3", "web-a", "ec2", "eu-west-1"),
		Resource("r4", "bucket", "s3", ""),
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func ids(docs []types.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func testInsertAndFind(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	docs, total, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, ids(docs), "insertion order")

	docs, total, err = s.Find(context.Background(), "nothing", filter.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, docs)
}

func testInsertAllOrNothing(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	_, err := s.InsertMany(context.Background(), storage.CollectionResources, []types.Document{
		Resource("r5", "new", "ec2", ""),
		Resource("r1", "dup", "ec2", ""),
	})
	require.ErrorIs(t, err, storage.ErrDuplicateID)

	_, total, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, 4, total, "failed batch leaves no trace")

	_, err = s.InsertMany(context.Background(), storage.CollectionResources, []types.Document{
		Resource("x", "a", "ec2", ""),
		Resource("x", "b", "ec2", ""),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}

func testMissingID(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	_, err := s.InsertMany(context.Background(), storage.CollectionRules, []types.Document{{types.FieldName: types.String("x")}})
	assert.ErrorIs(t, err, storage.ErrMissingID)
}

func testFilterSortPage(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	docs, total, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{
		Filter: filter.Eq(types.FieldResourceType, types.String("ec2")),
		Sort:   []filter.SortKey{{Field: types.FieldName}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"r3", "r1"}, ids(docs))

	docs, total, err = s.Find(context.Background(), storage.CollectionResources, filter.Query{
		Sort:  []filter.SortKey{{Field: types.FieldName, Desc: true}},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, []string{"r3", "r2"}, ids(docs))
}

func testDeleteMany(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	n, err := s.DeleteMany(context.Background(), storage.CollectionResources, filter.Eq(types.FieldRegion, types.String("eu-west-1")))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, _, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r4"}, ids(docs))

	// Deleted ids can be reused
	_, err = s.InsertMany(context.Background(), storage.CollectionResources, []types.Document{Resource("r2", "db", "rds", "")})
	assert.NoError(t, err)
}

func testDeleteAll(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	n, err := s.DeleteMany(context.Background(), storage.CollectionResources, filter.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, total, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)

	n, err = s.DeleteMany(context.Background(), storage.CollectionResources, filter.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testAggregate(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	counts, err := s.Aggregate(context.Background(), storage.CollectionResources, types.FieldRegion)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"us-east-1": 1, "eu-west-1": 2, "": 1}, counts)
}

func testCollectionsIsolated(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	seed(t, s)

	_, err := s.InsertMany(context.Background(), storage.CollectionRules, []types.Document{Resource("r1", "same id", "", "")})
	require.NoError(t, err)

	_, total, err := s.Find(context.Background(), storage.CollectionRules, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func testValueKinds(t *testing.T, s storage.DocumentStore) {
	defer s.Close()
	doc := types.Document{
		types.FieldID: types.String("k"),
		"count":       types.Int(3),
		"public":      types.Bool(true),
		"ports":       types.List(types.Int(22), types.Int(80)),
		"tags":        types.Map(map[string]types.Value{"env": types.String("prod")}),
	}
	_, err := s.InsertMany(context.Background(), storage.CollectionResources, []types.Document{doc})
	require.NoError(t, err)

	docs, _, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{
		Filter: filter.Eq("tags.env", types.String("prod")),
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	for k, v := range doc {
		assert.True(t, v.Equal(docs[0][k]), k)
	}
}

func testClosed(t *testing.T, s storage.DocumentStore) {
	require.NoError(t, s.Close())
	_, _, err := s.Find(context.Background(), storage.CollectionResources, filter.Query{})
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
