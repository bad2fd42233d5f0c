package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/cache"
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

const sampleLawText = `BỘ LUẬT DÂN SỰ

PHẦN THỨ NHẤT
QUY ĐỊNH CHUNG

CHƯƠNG I
NHỮNG QUY ĐỊNH CHUNG

Điều 1. Phạm vi điều chỉnh
1. Bộ luật này quy định địa vị pháp lý của cá nhân, pháp nhân.
2. Bộ luật bảo vệ quyền và lợi ích hợp pháp của các chủ thể.
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	meta, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	vectors, err := vectorstore.New(filepath.Join(t.TempDir(), "vectors.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	objects, err := objectstore.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	completer := &stubCompleter{reply: "Tóm tắt nội dung pháp luật quan trọng."}
	embedder := llm.NewLocalEmbedder(nil)
	coord := cache.New(meta, vectors, objects, zerolog.Nop())
	b := builder.New(completer, embedder, builder.DefaultConfig(), zerolog.Nop())
	reg := registry.New(meta, zerolog.Nop())
	pipe := cache.NewPipeline(reg, parser.New(), b, coord, meta,
		completer, embedder, router.Config{}, zerolog.Nop())

	return NewServer(pipe, meta, vectors, embedder, zerolog.Nop())
}

func callRequest(argsMap map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = argsMap
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func writeLawFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "law.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleLawText), 0o644))
	return path
}

func indexSample(t *testing.T, s *Server) int64 {
	t.Helper()
	res, err := s.handleIndexDocument(context.Background(), callRequest(map[string]interface{}{
		"path": writeLawFile(t),
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	return int64(out["doc_id"].(float64))
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	return mcpErr.Code
}

func TestIndexDocumentTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	path := writeLawFile(t)

	res, err := s.handleIndexDocument(ctx, callRequest(map[string]interface{}{"path": path}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "new", out["state"])
	assert.Equal(t, true, out["rebuilt"])
	assert.Equal(t, "BỘ LUẬT DÂN SỰ", out["title"])

	// Second run hits the cache
	res, err = s.handleIndexDocument(ctx, callRequest(map[string]interface{}{"path": path}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, "unchanged", out["state"])
	assert.Equal(t, false, out["rebuilt"])

	// Force rebuilds anyway
	res, err = s.handleIndexDocument(ctx, callRequest(map[string]interface{}{"path": path, "force": true}))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["rebuilt"])
}

func TestIndexDocumentValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleIndexDocument(ctx, callRequest(map[string]interface{}{}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleIndexDocument(ctx, callRequest(map[string]interface{}{"path": "relative.txt"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	_, err = s.handleIndexDocument(ctx, callRequest(map[string]interface{}{"path": "/does/not/exist.txt"}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestQueryDocumentTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	docID := indexSample(t, s)

	res, err := s.handleQueryDocument(ctx, callRequest(map[string]interface{}{
		"doc_id": float64(docID),
		"query":  "Phạm vi điều chỉnh của bộ luật là gì?",
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "Tóm tắt nội dung pháp luật quan trọng.", out["answer"])
	assert.NotEmpty(t, out["passages"])

	// Related queries are merged into one response
	res, err = s.handleQueryDocument(ctx, callRequest(map[string]interface{}{
		"doc_id":          float64(docID),
		"query":           "Phạm vi điều chỉnh?",
		"related_queries": []interface{}{"Quyền và lợi ích hợp pháp?"},
	}))
	require.NoError(t, err)
	assert.NotEmpty(t, resultJSON(t, res)["answer"])
}

func TestQueryDocumentNotBuilt(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleQueryDocument(ctx, callRequest(map[string]interface{}{
		"doc_id": float64(999),
		"query":  "bất kỳ",
	}))
	assert.Equal(t, ErrorCodeNotBuilt, mcpCode(t, err))

	docID := indexSample(t, s)
	_, err = s.handleQueryDocument(ctx, callRequest(map[string]interface{}{
		"doc_id": float64(docID),
	}))
	assert.Equal(t, ErrorCodeEmptyQuery, mcpCode(t, err))
}

func TestCacheStatusTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Store-wide statistics when doc_id is omitted
	res, err := s.handleCacheStatus(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultJSON(t, res), "stats")

	docID := indexSample(t, s)
	res, err = s.handleCacheStatus(ctx, callRequest(map[string]interface{}{"doc_id": float64(docID)}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, true, out["complete"])
	assert.Equal(t, true, out["parsed"])
	assert.Equal(t, true, out["embedded"])
	assert.Contains(t, out, "build_stats")

	_, err = s.handleCacheStatus(ctx, callRequest(map[string]interface{}{"doc_id": float64(404)}))
	assert.Equal(t, ErrorCodeDocumentNotFound, mcpCode(t, err))
}

func TestListDocumentsTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListDocuments(ctx, callRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, float64(0), resultJSON(t, res)["count"])

	indexSample(t, s)
	res, err = s.handleListDocuments(ctx, callRequest(nil))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, float64(1), out["count"])
}

func TestClearCacheTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	docID := indexSample(t, s)

	// Neither doc_id nor all is an error
	_, err := s.handleClearCache(ctx, callRequest(map[string]interface{}{}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))

	res, err := s.handleClearCache(ctx, callRequest(map[string]interface{}{"doc_id": float64(docID)}))
	require.NoError(t, err)
	assert.Equal(t, float64(docID), resultJSON(t, res)["cleared"])

	_, err = s.handleClearCache(ctx, callRequest(map[string]interface{}{"doc_id": float64(docID)}))
	assert.Equal(t, ErrorCodeDocumentNotFound, mcpCode(t, err))

	indexSample(t, s)
	res, err = s.handleClearCache(ctx, callRequest(map[string]interface{}{"all": true}))
	require.NoError(t, err)
	assert.Equal(t, "all", resultJSON(t, res)["cleared"])
}

func TestVectorSearchTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	docID := indexSample(t, s)

	res, err := s.handleVectorSearch(ctx, callRequest(map[string]interface{}{
		"doc_id": float64(docID),
		"query":  "địa vị pháp lý của cá nhân",
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Positive(t, out["count"])

	_, err = s.handleVectorSearch(ctx, callRequest(map[string]interface{}{
		"doc_id": float64(docID),
		"query":  "x",
		"limit":  float64(0),
	}))
	assert.Equal(t, ErrorCodeInvalidParams, mcpCode(t, err))
}

func TestServerRegistersAllTools(t *testing.T) {
	s := newTestServer(t)
	require.NotNil(t, s.mcp)
	require.NotNil(t, s.pipeline)
	require.NotNil(t, s.vectors)

	var unknown error
	_, unknown = s.handleQueryDocument(context.Background(), callRequest(map[string]interface{}{}))
	assert.True(t, errors.As(unknown, new(*MCPError)))
}
