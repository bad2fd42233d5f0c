package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "vectors.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "doc_7_embeddings", CollectionName(7))
}

func TestReplaceAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	name := CollectionName(1)

	records := []Record{
		{Vector: []float32{1, 0, 0}, Text: "khoản về quyền sở hữu", Title: "Khoản 1", Level: "clause", NodeID: 10},
		{Vector: []float32{0, 1, 0}, Text: "khoản về nghĩa vụ", Title: "Khoản 2", Level: "clause", NodeID: 11},
		{Vector: []float32{0.9, 0.1, 0}, Text: "tóm tắt điều", Title: "Điều 1", Level: "article", NodeID: 9},
	}
	require.NoError(t, store.ReplaceCollection(ctx, name, records))

	// IDs were assigned in place
	for _, r := range records {
		assert.NotEmpty(t, r.ID)
	}

	results := store.Search(ctx, name, []float32{1, 0, 0}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "Khoản 1", results[0].Title)
	assert.Equal(t, int64(10), results[0].NodeID)
	assert.Equal(t, "Điều 1", results[1].Title)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestSearchTieBreakByInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	name := CollectionName(2)

	// Two identical vectors: insertion order must decide
	require.NoError(t, store.ReplaceCollection(ctx, name, []Record{
		{Vector: []float32{1, 1}, Text: "first"},
		{Vector: []float32{1, 1}, Text: "second"},
	}))

	results := store.Search(ctx, name, []float32{1, 1}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Text)
	assert.Equal(t, "second", results[1].Text)
}

func TestReplaceCollectionIsTotal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	name := CollectionName(3)

	require.NoError(t, store.ReplaceCollection(ctx, name, []Record{
		{Vector: []float32{1, 0}, Text: "old a"},
		{Vector: []float32{0, 1}, Text: "old b"},
	}))
	require.NoError(t, store.ReplaceCollection(ctx, name, []Record{
		{Vector: []float32{1, 0}, Text: "new"},
	}))

	count, err := store.Count(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results := store.Search(ctx, name, []float32{1, 0}, 10)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Text)
}

func TestSearchDegradesToEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Missing collection: empty results, no error surfaced
	assert.Empty(t, store.Search(ctx, "doc_404_embeddings", []float32{1, 0}, 5))

	// Dimension mismatch records are skipped
	name := CollectionName(4)
	require.NoError(t, store.ReplaceCollection(ctx, name, []Record{
		{Vector: []float32{1, 0, 0}, Text: "3d"},
	}))
	assert.Empty(t, store.Search(ctx, name, []float32{1, 0}, 5))

	// Degenerate inputs
	assert.Empty(t, store.Search(ctx, name, nil, 5))
	assert.Empty(t, store.Search(ctx, name, []float32{1, 0, 0}, 0))
}

func TestDropCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	name := CollectionName(5)

	require.NoError(t, store.ReplaceCollection(ctx, name, []Record{
		{Vector: []float32{1}, Text: "x"},
	}))

	has, err := store.HasCollection(ctx, name)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, store.DropCollection(ctx, name))

	has, err = store.HasCollection(ctx, name)
	require.NoError(t, err)
	assert.False(t, has)

	count, err := store.Count(ctx, name)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Dropping again is fine
	require.NoError(t, store.DropCollection(ctx, name))
}

func TestListCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, store.ReplaceCollection(ctx, CollectionName(1), []Record{{Vector: []float32{1}, Text: "a"}}))
	require.NoError(t, store.ReplaceCollection(ctx, CollectionName(2), []Record{{Vector: []float32{1}, Text: "b"}}))

	names, err = store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names, "doc_1_embeddings")
	assert.Contains(t, names, "doc_2_embeddings")
}

func TestVectorRoundTripAndDistance(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75}
	assert.Equal(t, v, DeserializeVector(SerializeVector(v)))

	assert.InDelta(t, 0.0, CosineDistance([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-9)
}
