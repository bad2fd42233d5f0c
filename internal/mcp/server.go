// Package mcp exposes the law document cache over the Model Context
// Protocol on stdio. Each tool maps onto one coordinator or pipeline
// operation; the handlers do parameter validation and JSON shaping,
// nothing more.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/cache"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

const (
	// ServerName is the MCP server name
	ServerName = "lawrag-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	pipeline *cache.Pipeline
	meta     storage.Store
	vectors  *vectorstore.Store
	embedder llm.Embedder
	log      zerolog.Logger
}

// NewServer creates an MCP server over an already wired pipeline. The
// embedder is the same instance the builder uses, so query embeddings
// hit the cache populated during indexing.
func NewServer(pipe *cache.Pipeline, meta storage.Store, vectors *vectorstore.Store, embedder llm.Embedder, log zerolog.Logger) *Server {
	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		pipeline: pipe,
		meta:     meta,
		vectors:  vectors,
		embedder: embedder,
		log:      log.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info().Str("server", ServerName).Str("version", ServerVersion).Msg("serving on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentTool(), s.handleIndexDocument)
	s.mcp.AddTool(queryDocumentTool(), s.handleQueryDocument)
	s.mcp.AddTool(cacheStatusTool(), s.handleCacheStatus)
	s.mcp.AddTool(listDocumentsTool(), s.handleListDocuments)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
	s.mcp.AddTool(vectorSearchTool(), s.handleVectorSearch)
}
