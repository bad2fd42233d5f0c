package objectstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqhuy/lawrag-mcp/internal/index"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := New(dir, zerolog.Nop())
	require.NoError(t, err)
	return store, dir
}

func sampleArtifact(docID int64) *index.Artifact {
	a := index.NewArtifact(docID)
	a.Top.Add(index.Entry{ID: "p", Title: "PHẦN THỨ NHẤT", Text: "tóm tắt", Level: "part", Ref: "part-0"}, []float32{1, 0})
	engine := &index.VectorIndex{}
	engine.Add(index.Entry{ID: "k", Title: "Khoản 1", Text: "nội dung", Level: "clause", NodeID: 3}, []float32{0, 1})
	a.Engines["part-0"] = engine
	return a
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, dir := newTestStore(t)
	a := sampleArtifact(1)

	require.NoError(t, store.Save(a))
	assert.FileExists(t, filepath.Join(dir, "doc_1_top_index.json"))
	assert.FileExists(t, filepath.Join(dir, "doc_1_engines.json"))
	assert.True(t, store.Exists(1))

	loaded, err := store.Load(1)
	require.NoError(t, err)
	assert.Equal(t, a.DocumentID, loaded.DocumentID)
	assert.Equal(t, a.Top.Entries, loaded.Top.Entries)
	assert.Equal(t, a.Top.Vectors, loaded.Top.Vectors)
	require.Contains(t, loaded.Engines, "part-0")
	assert.Equal(t, a.Engines["part-0"].Entries, loaded.Engines["part-0"].Entries)
}

func TestLoadAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Load(404)
	assert.ErrorIs(t, err, ErrAbsent)
	assert.False(t, store.Exists(404))
	assert.Nil(t, store.LoadOrNil(404))
}

func TestLoadHalfPairIsAbsent(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, store.Save(sampleArtifact(2)))

	// Remove one file of the pair: the artifact counts as absent
	require.NoError(t, os.Remove(filepath.Join(dir, "doc_2_engines.json")))
	_, err := store.Load(2)
	assert.ErrorIs(t, err, ErrAbsent)
	assert.False(t, store.Exists(2))
}

func TestLoadCorrupt(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, store.Save(sampleArtifact(3)))

	// Unparseable JSON
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc_3_top_index.json"), []byte("{broken"), 0644))
	_, err := store.Load(3)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrAbsent)

	// LoadOrNil maps corruption to nil (logged, not fatal)
	assert.Nil(t, store.LoadOrNil(3))
}

func TestLoadWrongSchema(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, store.Save(sampleArtifact(4)))

	bad := `{"schema":"lawrag.index.v0","document_id":4,"top":{"entries":[],"vectors":[]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc_4_top_index.json"), []byte(bad), 0644))
	_, err := store.Load(4)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadWrongDocument(t *testing.T) {
	store, dir := newTestStore(t)
	require.NoError(t, store.Save(sampleArtifact(5)))

	// Artifact files copied from another document are rejected
	for _, name := range []string{"doc_5_top_index.json", "doc_5_engines.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		target := "doc_6" + name[len("doc_5"):]
		require.NoError(t, os.WriteFile(filepath.Join(dir, target), data, 0644))
	}
	_, err := store.Load(6)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Save(sampleArtifact(7)))
	require.True(t, store.Exists(7))

	require.NoError(t, store.Delete(7))
	assert.False(t, store.Exists(7))
	_, err := store.Load(7)
	assert.ErrorIs(t, err, ErrAbsent)

	// Deleting an absent pair is fine
	require.NoError(t, store.Delete(7))
}

func TestSaveRejectsInvalidArtifact(t *testing.T) {
	store, _ := newTestStore(t)
	bad := index.NewArtifact(8)
	bad.Top.Entries = append(bad.Top.Entries, index.Entry{ID: "x"}) // no vector
	assert.Error(t, store.Save(bad))
	assert.False(t, store.Exists(8))
}
