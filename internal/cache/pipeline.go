package cache

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/parser"
	"github.com/vqhuy/lawrag-mcp/internal/registry"
	"github.com/vqhuy/lawrag-mcp/internal/router"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
)

// Pipeline is the fast/slow path over one document: register, reuse the
// cache when the file is unchanged and every layer is present, otherwise
// invalidate and rebuild from scratch. The MCP tools and the CLI both sit
// directly on top of it.
type Pipeline struct {
	registry  *registry.Registry
	parser    *parser.Parser
	builder   *builder.Builder
	coord     *Coordinator
	meta      storage.Store
	completer llm.Completer
	embedder  llm.Embedder
	routerCfg router.Config
	log       zerolog.Logger
}

// NewPipeline wires the pipeline. The completer and embedder are shared
// with the builder; the router reuses them at query time.
func NewPipeline(reg *registry.Registry, p *parser.Parser, b *builder.Builder, coord *Coordinator,
	meta storage.Store, completer llm.Completer, embedder llm.Embedder,
	routerCfg router.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		registry:  reg,
		parser:    p,
		builder:   b,
		coord:     coord,
		meta:      meta,
		completer: completer,
		embedder:  embedder,
		routerCfg: routerCfg,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
}

// Report describes one IndexDocument run.
type Report struct {
	DocID   int64          `json:"doc_id"`
	Title   string         `json:"title"`
	State   string         `json:"state"`
	Rebuilt bool           `json:"rebuilt"`
	Parse   *parser.Stats  `json:"parse,omitempty"`
	Build   *builder.Stats `json:"build,omitempty"`
}

// IndexDocument registers the file and ensures its cache is complete.
// Unchanged documents with a complete cache are reused as-is unless force
// is set; anything else goes through the full invalidate/parse/build
// cycle.
func (p *Pipeline) IndexDocument(ctx context.Context, path, title string, force bool) (*Report, error) {
	doc, state, err := p.registry.Register(ctx, path, title)
	if err != nil {
		return nil, err
	}

	report := &Report{DocID: doc.ID, Title: doc.Title, State: state.String()}

	if state == registry.StateUnchanged && !force {
		complete, err := p.coord.IsComplete(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if complete {
			p.log.Info().Int64("doc_id", doc.ID).Msg("cache hit, reusing existing index")
			return report, nil
		}
	}

	if err := p.coord.Invalidate(ctx, doc.ID); err != nil {
		return nil, err
	}

	tree, parseStats, err := p.parser.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := p.coord.CommitParse(ctx, doc.ID, tree); err != nil {
		return nil, err
	}

	nodes, err := p.meta.LoadNodes(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy: %w", err)
	}
	result, err := p.builder.Build(ctx, doc.ID, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	if err := p.coord.CommitBuild(ctx, doc.ID, result); err != nil {
		return nil, err
	}

	report.Rebuilt = true
	report.Title = tree.Title
	report.Parse = &parseStats
	report.Build = &result.Stats
	return report, nil
}

// Rebuild forces a full rebuild of an already registered document.
func (p *Pipeline) Rebuild(ctx context.Context, docID int64) (*Report, error) {
	doc, err := p.meta.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	return p.IndexDocument(ctx, doc.FilePath, doc.Title, true)
}

// Router opens a query router over the document's cached index.
func (p *Pipeline) Router(ctx context.Context, docID int64) (*router.Router, error) {
	artifact, err := p.coord.Artifact(ctx, docID)
	if err != nil {
		return nil, err
	}
	return router.New(artifact, p.completer, p.embedder, p.routerCfg, p.log)
}

// Coordinator exposes the underlying coordinator for status operations.
func (p *Pipeline) Coordinator() *Coordinator {
	return p.coord
}
