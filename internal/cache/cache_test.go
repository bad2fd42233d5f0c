package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/objectstore"
	"github.com/vqhuy/lawrag-mcp/internal/parser"
	"github.com/vqhuy/lawrag-mcp/internal/registry"
	"github.com/vqhuy/lawrag-mcp/internal/router"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

type stubCompleter struct {
	reply string
}

func (s *stubCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return s.reply, nil
}

func (s *stubCompleter) Provider() string { return "stub" }
func (s *stubCompleter) Close() error     { return nil }

func newTestCoordinator(t *testing.T) (*Coordinator, storage.Store, *vectorstore.Store, *objectstore.Store) {
	t.Helper()
	meta, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors, err := vectorstore.New(filepath.Join(t.TempDir(), "vectors.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	objects, err := objectstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	return New(meta, vectors, objects, zerolog.Nop()), meta, vectors, objects
}

func sampleTree() *lawtree.Tree {
	return &lawtree.Tree{Title: "BỘ LUẬT MẪU", Parts: []*lawtree.Node{
		{Title: "PHẦN THỨ NHẤT", Level: lawtree.LevelPart, Children: []*lawtree.Node{
			{Title: "CHƯƠNG I", Level: lawtree.LevelChapter, Children: []*lawtree.Node{
				{Title: "Điều 1. Phạm vi", Level: lawtree.LevelArticle, Children: []*lawtree.Node{
					{Title: "Khoản 1", Level: lawtree.LevelClause, Content: "Bộ luật quy định địa vị pháp lý của cá nhân."},
					{Title: "Khoản 2", Level: lawtree.LevelClause, Content: "Bộ luật bảo vệ quyền và lợi ích hợp pháp."},
				}},
			}},
		}},
	}}
}

// commitSample runs a full parse+build commit and returns the document id.
func commitSample(t *testing.T, coord *Coordinator, meta storage.Store) int64 {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{FilePath: "sample.txt", FileHash: "h1", Title: "BỘ LUẬT MẪU"}
	require.NoError(t, meta.CreateDocument(ctx, doc))
	require.NoError(t, coord.CommitParse(ctx, doc.ID, sampleTree()))

	nodes, err := meta.LoadNodes(ctx, doc.ID)
	require.NoError(t, err)

	b := builder.New(&stubCompleter{reply: "Tóm tắt nội dung pháp luật."},
		llm.NewLocalEmbedder(nil), builder.DefaultConfig(), zerolog.Nop())
	result, err := b.Build(ctx, doc.ID, nodes)
	require.NoError(t, err)
	require.NoError(t, coord.CommitBuild(ctx, doc.ID, result))
	return doc.ID
}

func TestCommitMakesComplete(t *testing.T) {
	coord, meta, vectors, objects := newTestCoordinator(t)
	ctx := context.Background()

	docID := commitSample(t, coord, meta)

	complete, err := coord.IsComplete(ctx, docID)
	require.NoError(t, err)
	assert.True(t, complete)

	count, err := vectors.Count(ctx, vectorstore.CollectionName(docID))
	require.NoError(t, err)
	assert.Positive(t, count)
	assert.True(t, objects.Exists(docID))

	// Clause rows got their vector back-references patched
	nodes, err := meta.LoadNodes(ctx, docID)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.IsLeaf() {
			assert.Equal(t, vectorstore.CollectionName(docID), n.VectorCollection)
			assert.NotEmpty(t, n.VectorID)
		}
	}
}

func TestIsCompleteRequiresEveryLayer(t *testing.T) {
	coord, meta, _, objects := newTestCoordinator(t)
	ctx := context.Background()

	// Unknown document: incomplete, not an error
	complete, err := coord.IsComplete(ctx, 42)
	require.NoError(t, err)
	assert.False(t, complete)

	// Parsed but never built
	doc := &storage.Document{FilePath: "partial.txt", FileHash: "h"}
	require.NoError(t, meta.CreateDocument(ctx, doc))
	require.NoError(t, coord.CommitParse(ctx, doc.ID, sampleTree()))
	complete, err = coord.IsComplete(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, complete)

	// Fully built, then artifacts vanish from disk
	docID := commitSample(t, coord, meta)
	require.NoError(t, objects.Delete(docID))
	complete, err = coord.IsComplete(ctx, docID)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestInvalidate(t *testing.T) {
	coord, meta, vectors, objects := newTestCoordinator(t)
	ctx := context.Background()

	docID := commitSample(t, coord, meta)
	require.NoError(t, coord.Invalidate(ctx, docID))

	complete, err := coord.IsComplete(ctx, docID)
	require.NoError(t, err)
	assert.False(t, complete)

	count, err := vectors.Count(ctx, vectorstore.CollectionName(docID))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.False(t, objects.Exists(docID))

	nodes, err := meta.LoadNodes(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	// The registration survives
	_, err = meta.GetDocumentByID(ctx, docID)
	require.NoError(t, err)

	// Invalidating twice is harmless
	require.NoError(t, coord.Invalidate(ctx, docID))
}

func TestArtifactNotBuilt(t *testing.T) {
	coord, meta, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Artifact(ctx, 99)
	assert.ErrorIs(t, err, ErrNotBuilt)

	docID := commitSample(t, coord, meta)
	artifact, err := coord.Artifact(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, docID, artifact.DocumentID)
	assert.Positive(t, artifact.Top.Len())

	// Engine keys follow the node handle scheme
	nodes, err := meta.LoadNodes(ctx, docID)
	require.NoError(t, err)
	for _, n := range nodes {
		if n.Level == lawtree.LevelArticle {
			assert.Contains(t, artifact.Engines, builder.Handle(n.ID))
		}
	}
}

func TestStats(t *testing.T) {
	coord, meta, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Meta.Documents)
	assert.Zero(t, stats.Vectors)
	assert.Zero(t, stats.Artifacts)

	commitSample(t, coord, meta)

	stats, err = coord.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Meta.Documents)
	assert.Equal(t, 1, stats.Meta.Complete)
	assert.Equal(t, 1, stats.Collections)
	assert.Positive(t, stats.Vectors)
	assert.Equal(t, 1, stats.Artifacts)
}

func TestClearAll(t *testing.T) {
	coord, meta, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	commitSample(t, coord, meta)
	require.NoError(t, coord.ClearAll(ctx))

	docs, err := meta.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Vectors)
	assert.Zero(t, stats.Artifacts)
}

const sampleLawText = `BỘ LUẬT DÂN SỰ

PHẦN THỨ NHẤT
QUY ĐỊNH CHUNG

CHƯƠNG I
NHỮNG QUY ĐỊNH CHUNG

Điều 1. Phạm vi điều chỉnh
1. Bộ luật này quy định địa vị pháp lý của cá nhân, pháp nhân.
2. Bộ luật bảo vệ quyền và lợi ích hợp pháp của các chủ thể.

Điều 2. Công nhận quyền dân sự
Mọi cá nhân, pháp nhân đều bình đẳng trước pháp luật.
`

func newTestPipeline(t *testing.T) (*Pipeline, storage.Store) {
	t.Helper()
	coord, meta, _, _ := newTestCoordinator(t)

	completer := &stubCompleter{reply: "Tóm tắt nội dung pháp luật quan trọng."}
	embedder := llm.NewLocalEmbedder(nil)
	b := builder.New(completer, embedder, builder.DefaultConfig(), zerolog.Nop())
	reg := registry.New(meta, zerolog.Nop())

	pipe := NewPipeline(reg, parser.New(), b, coord, meta,
		completer, embedder, router.Config{}, zerolog.Nop())
	return pipe, meta
}

func writeLawFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "law.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPipelineIndexAndQuery(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	ctx := context.Background()
	path := writeLawFile(t, sampleLawText)

	report, err := pipe.IndexDocument(ctx, path, "", false)
	require.NoError(t, err)
	assert.Equal(t, "new", report.State)
	assert.True(t, report.Rebuilt)
	assert.Equal(t, "BỘ LUẬT DÂN SỰ", report.Title)
	require.NotNil(t, report.Parse)
	assert.Equal(t, 2, report.Parse.Articles)
	require.NotNil(t, report.Build)
	assert.Positive(t, report.Build.Entries)

	// Unchanged file with a complete cache is the fast path
	again, err := pipe.IndexDocument(ctx, path, "", false)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", again.State)
	assert.False(t, again.Rebuilt)
	assert.Equal(t, report.DocID, again.DocID)

	r, err := pipe.Router(ctx, report.DocID)
	require.NoError(t, err)
	resp, err := r.Query(ctx, "Phạm vi điều chỉnh của bộ luật là gì?")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Passages)
	assert.Equal(t, "Tóm tắt nội dung pháp luật quan trọng.", resp.Answer)
}

func TestPipelineDetectsChange(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	ctx := context.Background()
	path := writeLawFile(t, sampleLawText)

	first, err := pipe.IndexDocument(ctx, path, "", false)
	require.NoError(t, err)

	changed := sampleLawText + "\n3. Khoản bổ sung mới về nghĩa vụ dân sự.\n"
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	report, err := pipe.IndexDocument(ctx, path, "", false)
	require.NoError(t, err)
	assert.Equal(t, "changed", report.State)
	assert.True(t, report.Rebuilt)
	assert.Equal(t, first.DocID, report.DocID)
}

func TestPipelineForceRebuild(t *testing.T) {
	pipe, _ := newTestPipeline(t)
	ctx := context.Background()
	path := writeLawFile(t, sampleLawText)

	report, err := pipe.IndexDocument(ctx, path, "", false)
	require.NoError(t, err)

	forced, err := pipe.IndexDocument(ctx, path, "", true)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", forced.State)
	assert.True(t, forced.Rebuilt, "force bypasses the fast path")

	rebuilt, err := pipe.Rebuild(ctx, report.DocID)
	require.NoError(t, err)
	assert.True(t, rebuilt.Rebuilt)
}

func TestPipelineRouterNotBuilt(t *testing.T) {
	pipe, meta := newTestPipeline(t)
	ctx := context.Background()

	doc := &storage.Document{FilePath: "never-built.txt", FileHash: "h"}
	require.NoError(t, meta.CreateDocument(ctx, doc))

	_, err := pipe.Router(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotBuilt)
}
