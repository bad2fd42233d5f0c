package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vqhuy/lawrag-mcp/internal/cache"
	"github.com/vqhuy/lawrag-mcp/internal/router"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeDocumentNotFound = -32001 // Document id is not registered
	ErrorCodeNotBuilt         = -32002 // Document has no complete cached index
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
)

// handleIndexDocument handles the index_document tool invocation
func (s *Server) handleIndexDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validateFile(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	title := getStringDefault(args, "title", "")
	force := getBoolDefault(args, "force", false)

	report, err := s.pipeline.IndexDocument(ctx, path, title, force)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"doc_id":  report.DocID,
		"title":   report.Title,
		"state":   report.State,
		"rebuilt": report.Rebuilt,
	}
	if report.Parse != nil {
		response["parse"] = report.Parse
	}
	if report.Build != nil {
		response["build"] = report.Build
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleQueryDocument handles the query_document tool invocation
func (s *Server) handleQueryDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	docID, err := getDocID(args)
	if err != nil {
		return nil, err
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	r, err := s.pipeline.Router(ctx, docID)
	if errors.Is(err, cache.ErrNotBuilt) {
		return nil, newMCPError(ErrorCodeNotBuilt, "document index not built", map[string]interface{}{
			"doc_id": docID,
			"hint":   "run index_document first",
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	var resp *router.Response
	if related := getStringSlice(args, "related_queries"); len(related) > 0 {
		resp, err = r.MultiQuery(ctx, append([]string{query}, related...))
	} else {
		resp, err = r.Query(ctx, query)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "query failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"doc_id":   docID,
		"answer":   resp.Answer,
		"trace":    resp.Trace,
		"passages": resp.Passages,
		"degraded": resp.Degraded,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCacheStatus handles the cache_status tool invocation
func (s *Server) handleCacheStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	if _, present := args["doc_id"]; !present {
		stats, err := s.pipeline.Coordinator().Stats(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to read statistics", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{"stats": stats})), nil
	}

	docID, mcpErr := getDocID(args)
	if mcpErr != nil {
		return nil, mcpErr
	}

	doc, err := s.meta.GetDocumentByID(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeDocumentNotFound, "document not registered", map[string]interface{}{
			"doc_id": docID,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load document", map[string]interface{}{
			"error": err.Error(),
		})
	}

	complete, err := s.pipeline.Coordinator().IsComplete(ctx, docID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to check cache", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"doc_id":   doc.ID,
		"path":     doc.FilePath,
		"title":    doc.Title,
		"complete": complete,
	}
	if status, err := s.meta.GetCacheStatus(ctx, docID); err == nil {
		response["parsed"] = status.Parsed
		response["indexed"] = status.Indexed
		response["embedded"] = status.Embedded
		if !status.LastBuild.IsZero() {
			response["last_build"] = status.LastBuild.Format(time.RFC3339)
		}
		if status.BuildStats != "" {
			response["build_stats"] = json.RawMessage(status.BuildStats)
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListDocuments handles the list_documents tool invocation
func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.meta.ListDocuments(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list documents", map[string]interface{}{
			"error": err.Error(),
		})
	}

	list := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		list = append(list, map[string]interface{}{
			"doc_id":     doc.ID,
			"path":       doc.FilePath,
			"title":      doc.Title,
			"updated_at": doc.UpdatedAt.Format(time.RFC3339),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":     len(list),
		"documents": list,
	})), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	if getBoolDefault(args, "all", false) {
		if err := s.pipeline.Coordinator().ClearAll(ctx); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to clear cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{"cleared": "all"})), nil
	}

	if _, present := args["doc_id"]; !present {
		return nil, newMCPError(ErrorCodeInvalidParams, "either doc_id or all is required", nil)
	}
	docID, mcpErr := getDocID(args)
	if mcpErr != nil {
		return nil, mcpErr
	}

	if _, err := s.meta.GetDocumentByID(ctx, docID); errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeDocumentNotFound, "document not registered", map[string]interface{}{
			"doc_id": docID,
		})
	}
	if err := s.pipeline.Coordinator().Clear(ctx, docID); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to clear document", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"cleared": docID})), nil
}

// handleVectorSearch handles the vector_search tool invocation
func (s *Server) handleVectorSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	docID, mcpErr := getDocID(args)
	if mcpErr != nil {
		return nil, mcpErr
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to embed query", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := s.vectors.Search(ctx, vectorstore.CollectionName(docID), queryVector, limit)
	hits := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		hits = append(hits, map[string]interface{}{
			"id":       r.ID,
			"title":    r.Title,
			"text":     r.Text,
			"level":    r.Level,
			"node_id":  r.NodeID,
			"distance": r.Distance,
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"doc_id":  docID,
		"count":   len(hits),
		"results": hits,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validateFile checks that path is an absolute path to a readable regular
// file.
func validateFile(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if info.IsDir() {
		return ErrPathIsDirectory
	}
	return nil
}

// getDocID extracts the doc_id parameter.
func getDocID(args map[string]interface{}) (int64, error) {
	switch v := args["doc_id"].(type) {
	case float64:
		if v > 0 {
			return int64(v), nil
		}
	case int:
		if v > 0 {
			return int64(v), nil
		}
	case int64:
		if v > 0 {
			return v, nil
		}
	}
	return 0, newMCPError(ErrorCodeInvalidParams, "doc_id parameter is required", map[string]interface{}{
		"param":  "doc_id",
		"reason": "missing or not a positive integer",
	})
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter.
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrPathIsDirectory = errors.New("path is a directory")
)
