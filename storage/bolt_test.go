package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/surface/internal/filter"
	"github.com/yairfalse/surface/storage"
	"github.com/yairfalse/surface/storage/storetest"
	"github.com/yairfalse/surface/types"
)

func TestBoltStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.DocumentStore {
		s, err := storage.NewBoltStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, storage.CollectionRules, []types.Document{
		{types.FieldID: types.String("rule-1"), types.FieldField: types.String("public_ip")},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	docs, total, err := s.Find(ctx, storage.CollectionRules, filter.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "rule-1", docs[0].ID())

	// The id index survives the reopen too
	_, err = s.InsertMany(ctx, storage.CollectionRules, []types.Document{{types.FieldID: types.String("rule-1")}})
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}
