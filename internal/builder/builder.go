// Package builder constructs the hierarchical index for a document,
// strictly bottom-up: clause texts form per-article indexes, article
// summaries roll up into section/chapter/part indexes, and a top-level
// index spans the parts. Summaries come from the completion collaborator
// with a deterministic truncation fallback, so a flaky summarizer degrades
// quality but never fails a build.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vqhuy/lawrag-mcp/internal/index"
	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

// ErrNoContent is returned when a document yields zero top-level nodes.
// This is structural: the parse produced nothing indexable, and committing
// an empty index would poison the cache.
var ErrNoContent = errors.New("no content to index")

// Config bounds the build.
type Config struct {
	// MaxSummaryInputChars truncates the text handed to the summarizer.
	MaxSummaryInputChars int
	// FallbackSummaryChars bounds the truncation fallback summary.
	FallbackSummaryChars int
	// MaxParallel bounds the article fan-out.
	MaxParallel int
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		MaxSummaryInputChars: 8000,
		FallbackSummaryChars: 300,
		MaxParallel:          4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSummaryInputChars <= 0 {
		c.MaxSummaryInputChars = d.MaxSummaryInputChars
	}
	if c.FallbackSummaryChars <= 0 {
		c.FallbackSummaryChars = d.FallbackSummaryChars
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	return c
}

// Stats counts what one build produced.
type Stats struct {
	Parts     int `json:"parts"`
	Chapters  int `json:"chapters"`
	Sections  int `json:"sections"`
	Articles  int `json:"articles"`
	Clauses   int `json:"clauses"`
	Entries   int `json:"entries"`
	Fallbacks int `json:"fallbacks"`
}

// Result is a completed build: the artifact for the object store and the
// vector records for the vector store. Nothing has been persisted yet.
type Result struct {
	Artifact *index.Artifact
	Records  []vectorstore.Record
	Stats    Stats
}

// Builder runs hierarchical index builds.
type Builder struct {
	completer llm.Completer
	embedder  llm.Embedder
	cfg       Config
	log       zerolog.Logger
}

// New creates a Builder.
func New(completer llm.Completer, embedder llm.Embedder, cfg Config, log zerolog.Logger) *Builder {
	return &Builder{
		completer: completer,
		embedder:  embedder,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "builder").Logger(),
	}
}

// treeNode is a hierarchy row with resolved children, in document order.
type treeNode struct {
	*storage.Node
	children []*treeNode
}

// articleResult is the output of one article subtree build.
type articleResult struct {
	summary   index.Entry
	vector    []float32
	engine    *index.VectorIndex
	records   []vectorstore.Record
	clauses   int
	fallbacks int
}

// Build constructs the index for the document's stored hierarchy. The
// nodes slice is what storage.LoadNodes returns. Articles are summarized
// and embedded in parallel; ancestor levels aggregate sequentially once
// their children are done.
func (b *Builder) Build(ctx context.Context, docID int64, nodes []*storage.Node) (*Result, error) {
	roots := link(nodes)
	if len(roots) == 0 {
		return nil, fmt.Errorf("document %d: %w", docID, ErrNoContent)
	}

	articles := collectArticles(roots)
	results := make([]*articleResult, len(articles))
	slots := make(map[int64]int, len(articles))
	for i, a := range articles {
		slots[a.ID] = i
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.MaxParallel)
	for i, article := range articles {
		i, article := i, article
		g.Go(func() error {
			res, err := b.buildArticle(gctx, article)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Result{Artifact: index.NewArtifact(docID)}
	for _, a := range articles {
		if results[slots[a.ID]] != nil {
			out.Stats.Articles++
		}
	}

	for _, part := range roots {
		partEntry, partVector, ok, err := b.buildContainer(ctx, part, results, slots, out)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // empty part, skip the level entirely
		}
		out.Artifact.Top.Add(partEntry, partVector)
		out.Records = append(out.Records, recordFromEntry(partEntry, partVector))
		out.Stats.Parts++
	}

	if out.Artifact.Top.Len() == 0 {
		return nil, fmt.Errorf("document %d: %w", docID, ErrNoContent)
	}

	out.Stats.Entries = len(out.Records)
	b.log.Info().
		Int64("doc_id", docID).
		Int("parts", out.Stats.Parts).
		Int("articles", out.Stats.Articles).
		Int("entries", out.Stats.Entries).
		Int("fallbacks", out.Stats.Fallbacks).
		Msg("hierarchical index built")
	return out, nil
}

// buildContainer aggregates one part/chapter/section node from its
// children. Returns ok=false when every child was empty; such levels leave
// no trace in the artifact.
func (b *Builder) buildContainer(ctx context.Context, node *treeNode, results []*articleResult, slots map[int64]int, out *Result) (index.Entry, []float32, bool, error) {
	engine := &index.VectorIndex{}

	for _, child := range node.children {
		switch {
		case child.Level == lawtree.LevelArticle:
			res := results[slots[child.ID]]
			if res == nil {
				continue
			}
			engine.Add(res.summary, res.vector)
			out.Records = append(out.Records, res.records...)
			out.Stats.Clauses += res.clauses
			out.Stats.Fallbacks += res.fallbacks
			out.Artifact.Engines[handle(child.ID)] = res.engine

		default:
			childEntry, childVector, ok, err := b.buildContainer(ctx, child, results, slots, out)
			if err != nil {
				return index.Entry{}, nil, false, err
			}
			if !ok {
				continue
			}
			engine.Add(childEntry, childVector)
			out.Records = append(out.Records, recordFromEntry(childEntry, childVector))
			switch child.Level {
			case lawtree.LevelChapter:
				out.Stats.Chapters++
			case lawtree.LevelSection:
				out.Stats.Sections++
			}
		}
	}

	if engine.Len() == 0 {
		return index.Entry{}, nil, false, nil
	}

	texts := make([]string, engine.Len())
	for i, e := range engine.Entries {
		texts[i] = e.Text
	}
	summary := b.summarize(ctx, texts, fmt.Sprintf("Tóm tắt nội dung của %s", node.Title), node.Level.String(), &out.Stats)

	entry := index.Entry{
		ID:     uuid.NewString(),
		Title:  node.Title,
		Text:   fmt.Sprintf("%s: %s", node.Title, summary),
		Level:  node.Level.String(),
		NodeID: node.ID,
		Ref:    handle(node.ID),
	}
	vector, err := b.embedder.Embed(ctx, entry.Text)
	if err != nil {
		return index.Entry{}, nil, false, fmt.Errorf("failed to embed %s summary: %w", node.Level, err)
	}

	out.Artifact.Engines[handle(node.ID)] = engine
	return entry, vector, true, nil
}

// buildArticle builds the leaf index for one article. Articles whose
// clauses are all empty produce nil: the level is skipped, not indexed
// empty.
func (b *Builder) buildArticle(ctx context.Context, article *treeNode) (*articleResult, error) {
	engine := &index.VectorIndex{}
	var records []vectorstore.Record

	for _, clause := range article.children {
		content := strings.TrimSpace(clause.Content)
		if clause.Level != lawtree.LevelClause || content == "" {
			continue
		}
		entry := index.Entry{
			ID:     uuid.NewString(),
			Title:  clause.Title,
			Text:   fmt.Sprintf("%s - %s: %s", article.Title, clause.Title, content),
			Level:  clause.Level.String(),
			NodeID: clause.ID,
		}
		vector, err := b.embedder.Embed(ctx, entry.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed clause %q: %w", clause.Title, err)
		}
		engine.Add(entry, vector)
		records = append(records, recordFromEntry(entry, vector))
	}

	if engine.Len() == 0 {
		b.log.Debug().Str("article", article.Title).Msg("article has no clause content, skipping")
		return nil, nil
	}

	var stats Stats
	texts := make([]string, engine.Len())
	for i, e := range engine.Entries {
		texts[i] = e.Text
	}
	summary := b.summarize(ctx, texts, fmt.Sprintf("Tóm tắt nội dung chính của %s", article.Title), "article", &stats)

	summaryEntry := index.Entry{
		ID:     uuid.NewString(),
		Title:  article.Title,
		Text:   fmt.Sprintf("%s: %s", article.Title, summary),
		Level:  lawtree.LevelArticle.String(),
		NodeID: article.ID,
		Ref:    handle(article.ID),
	}
	vector, err := b.embedder.Embed(ctx, summaryEntry.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed article summary %q: %w", article.Title, err)
	}
	records = append(records, recordFromEntry(summaryEntry, vector))

	return &articleResult{
		summary:   summaryEntry,
		vector:    vector,
		engine:    engine,
		records:   records,
		clauses:   engine.Len(),
		fallbacks: stats.Fallbacks,
	}, nil
}

// summarize asks the completer for a summary of the joined texts. The
// input is truncated to the configured budget first. Any failure, or a
// degenerate result under 10 characters, falls back to a deterministic
// truncation of the input so the build always proceeds.
func (b *Builder) summarize(ctx context.Context, texts []string, promptPrefix, level string, stats *Stats) string {
	combined := strings.Join(texts, "\n")
	combined = truncate(combined, b.cfg.MaxSummaryInputChars)

	prompt := fmt.Sprintf(`%s dựa trên các nội dung sau:

%s

Hãy tóm tắt ngắn gọn và súc tích theo yêu cầu sau:
- Nêu được ý chính và điểm quan trọng nhất
- Sử dụng ngôn ngữ pháp lý chính xác
- Độ dài không quá 200 từ
- Giữ nguyên các thuật ngữ pháp luật quan trọng

Tóm tắt:`, promptPrefix, combined)

	summary, err := b.completer.Complete(ctx, prompt)
	if err == nil {
		summary = strings.TrimSpace(summary)
	}
	if err != nil || len([]rune(summary)) < 10 {
		if err != nil {
			b.log.Warn().Err(err).Str("level", level).Msg("summarization failed, using truncation fallback")
		}
		stats.Fallbacks++
		return truncate(combined, b.cfg.FallbackSummaryChars)
	}
	return summary
}

// handle is the engine-map key for a node. Node ids keep handles unique
// even when titles repeat across parts ("CHƯƠNG I" appears in every part).
func handle(nodeID int64) string {
	return fmt.Sprintf("node-%d", nodeID)
}

// Handle exposes the engine key scheme to callers inspecting artifacts.
func Handle(nodeID int64) string {
	return handle(nodeID)
}

func recordFromEntry(e index.Entry, vector []float32) vectorstore.Record {
	return vectorstore.Record{
		ID:     e.ID,
		Vector: vector,
		Text:   e.Text,
		Title:  e.Title,
		Level:  e.Level,
		NodeID: e.NodeID,
	}
}

// truncate cuts s to max runes, appending "..." when anything was cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// link resolves parent pointers into child slices, preserving sibling
// order, and returns the part-level roots.
func link(nodes []*storage.Node) []*treeNode {
	wrapped := make(map[int64]*treeNode, len(nodes))
	for _, n := range nodes {
		wrapped[n.ID] = &treeNode{Node: n}
	}
	var roots []*treeNode
	for _, n := range nodes {
		tn := wrapped[n.ID]
		if n.ParentID == nil {
			roots = append(roots, tn)
			continue
		}
		if parent, ok := wrapped[*n.ParentID]; ok {
			parent.children = append(parent.children, tn)
		}
	}
	// LoadNodes returns rows ordered by insertion, which is depth-first
	// document order, so children are already sorted within each parent.
	return roots
}

// collectArticles returns article nodes in document order.
func collectArticles(roots []*treeNode) []*treeNode {
	var articles []*treeNode
	var walk func(n *treeNode)
	walk = func(n *treeNode) {
		if n.Level == lawtree.LevelArticle {
			articles = append(articles, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return articles
}
