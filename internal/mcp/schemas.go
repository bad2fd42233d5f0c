package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDocumentTool returns the tool definition for index_document
func indexDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_document",
		Description: "Register a Vietnamese law document and build its hierarchical index",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the plain-text law document",
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Document title override (extracted from the text when empty)",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rebuild the index even when the cached copy is complete",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// queryDocumentTool returns the tool definition for query_document
func queryDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "query_document",
		Description: "Answer a question against an indexed law document with a Global/Bridge/Local trace",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"doc_id": map[string]interface{}{
					"type":        "integer",
					"description": "Document id returned by index_document or list_documents",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Question in natural language",
				},
				"related_queries": map[string]interface{}{
					"type":        "array",
					"description": "Optional related questions; results are merged into one response",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"doc_id", "query"},
		},
	}
}

// cacheStatusTool returns the tool definition for cache_status
func cacheStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_status",
		Description: "Report cache completeness for one document, or store-wide statistics",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"doc_id": map[string]interface{}{
					"type":        "integer",
					"description": "Document id; omit for store-wide statistics",
				},
			},
		},
	}
}

// listDocumentsTool returns the tool definition for list_documents
func listDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_documents",
		Description: "List every registered law document",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearCacheTool returns the tool definition for clear_cache
func clearCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_cache",
		Description: "Remove a document and its derived layers, or wipe the whole cache",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"doc_id": map[string]interface{}{
					"type":        "integer",
					"description": "Document id to remove",
				},
				"all": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, remove every document",
					"default":     false,
				},
			},
		},
	}
}

// vectorSearchTool returns the tool definition for vector_search
func vectorSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "vector_search",
		Description: "Raw similarity search over one document's embedding collection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"doc_id": map[string]interface{}{
					"type":        "integer",
					"description": "Document id",
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search text",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"doc_id", "query"},
		},
	}
}
