// Package router answers questions against a built artifact. Retrieval is
// a recursive descent: hits on the top index that reference a sub-engine
// are followed through the engine map, literal hits become passages. The
// collected passages are ranked, condensed into a Global/Bridge/Local
// trace, and handed to the completion collaborator for the final answer.
//
// A Router is read-only after construction and safe for concurrent use.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/index"
	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
)

// Config bounds a query.
type Config struct {
	// TopK is the search width at each index level.
	TopK int
	// MaxDepth caps the reference descent.
	MaxDepth int
	// MaxPassages is how many passages feed the answer prompt.
	MaxPassages int
}

// DefaultConfig returns the standard query bounds.
func DefaultConfig() Config {
	return Config{
		TopK:        5,
		MaxDepth:    8,
		MaxPassages: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxPassages <= 0 {
		c.MaxPassages = d.MaxPassages
	}
	return c
}

// Passage is one retrieved text with its provenance.
type Passage struct {
	Title    string  `json:"title"`
	Text     string  `json:"text"`
	Level    string  `json:"level"`
	NodeID   int64   `json:"node_id,omitempty"`
	Distance float64 `json:"distance"`
}

// Trace condenses the retrieval path into the three reasoning tiers:
// Global (part/chapter context), Bridge (the connecting article), Local
// (the concrete clauses). Tiers with no matching entries are simply
// absent.
type Trace struct {
	Global []Passage `json:"global,omitempty"`
	Bridge []Passage `json:"bridge,omitempty"`
	Local  []Passage `json:"local,omitempty"`
}

// Response is a completed query.
type Response struct {
	Answer   string    `json:"answer"`
	Trace    Trace     `json:"trace"`
	Passages []Passage `json:"passages"`
	// Degraded is set when answer generation failed and the response
	// carries passages only.
	Degraded bool `json:"degraded,omitempty"`
}

// Render formats the response the way the CLI prints it: extract trace
// first, then the answer.
func (r *Response) Render() string {
	var b strings.Builder
	writeTier := func(name string, passages []Passage) {
		if len(passages) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s:\n", name)
		for _, p := range passages {
			fmt.Fprintf(&b, "  - %s\n", p.Text)
		}
	}
	writeTier("Toàn cục (Global)", r.Trace.Global)
	writeTier("Trung gian (Bridge)", r.Trace.Bridge)
	writeTier("Cục bộ (Local)", r.Trace.Local)
	if r.Answer != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Answer)
	}
	return b.String()
}

// Router routes queries through one document's artifact.
type Router struct {
	artifact  *index.Artifact
	completer llm.Completer
	embedder  llm.Embedder
	cfg       Config
	log       zerolog.Logger
}

// New creates a Router over a loaded artifact.
func New(artifact *index.Artifact, completer llm.Completer, embedder llm.Embedder, cfg Config, log zerolog.Logger) (*Router, error) {
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to route over invalid artifact: %w", err)
	}
	return &Router{
		artifact:  artifact,
		completer: completer,
		embedder:  embedder,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "router").Logger(),
	}, nil
}

// Query retrieves passages for the question and generates an answer.
// Answer generation failure is non-fatal: the response degrades to the
// retrieved passages and trace.
func (r *Router) Query(ctx context.Context, question string) (*Response, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", llm.ErrInvalidInput)
	}

	queryVector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	visited := make(map[string]bool)
	var collected []Passage
	r.descend(r.artifact.Top, queryVector, 0, visited, &collected)

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].Distance < collected[j].Distance
	})

	resp := &Response{
		Trace:    extractTrace(collected),
		Passages: literalPassages(collected),
	}

	answer, err := r.answer(ctx, question, resp.Passages)
	if err != nil {
		r.log.Warn().Err(err).Msg("answer generation failed, returning passages only")
		resp.Degraded = true
	} else {
		resp.Answer = answer
	}
	return resp, nil
}

// descend searches one index and follows reference entries through the
// engine map. Every entry encountered is collected; trace extraction
// wants the summaries too, not just the literal leaves.
func (r *Router) descend(ix *index.VectorIndex, queryVector []float32, depth int, visited map[string]bool, collected *[]Passage) {
	if depth > r.cfg.MaxDepth {
		r.log.Warn().Int("depth", depth).Msg("descent depth limit reached")
		return
	}

	for _, hit := range ix.Search(queryVector, r.cfg.TopK) {
		e := hit.Entry
		*collected = append(*collected, Passage{
			Title:    e.Title,
			Text:     e.Text,
			Level:    e.Level,
			NodeID:   e.NodeID,
			Distance: hit.Distance,
		})

		if !e.IsRef() || visited[e.Ref] {
			continue
		}
		visited[e.Ref] = true

		engine, ok := r.artifact.Engines[e.Ref]
		if !ok {
			r.log.Warn().Str("ref", e.Ref).Str("title", e.Title).Msg("dangling engine reference, skipping")
			continue
		}
		r.descend(engine, queryVector, depth+1, visited, collected)
	}
}

// answer prompts the completer over the top passages.
func (r *Router) answer(ctx context.Context, question string, passages []Passage) (string, error) {
	if len(passages) == 0 {
		return "Không tìm thấy nội dung liên quan trong văn bản.", nil
	}

	limit := r.cfg.MaxPassages
	if limit > len(passages) {
		limit = len(passages)
	}
	var b strings.Builder
	for _, p := range passages[:limit] {
		b.WriteString(p.Text)
		b.WriteString("\n\n")
	}

	prompt := fmt.Sprintf(`Dựa trên các trích dẫn pháp luật sau:

%s
Hãy trả lời câu hỏi: %s

Yêu cầu:
- Trả lời chính xác theo nội dung trích dẫn
- Nêu rõ điều, khoản liên quan
- Sử dụng ngôn ngữ pháp lý chính xác

Trả lời:`, b.String(), question)

	return r.completer.Complete(ctx, prompt)
}

// literalPassages keeps only non-summary entries, already sorted.
func literalPassages(all []Passage) []Passage {
	var out []Passage
	seen := make(map[string]bool)
	for _, p := range all {
		level, ok := lawtree.ClassifyTitle(p.Title)
		if ok && !level.IsLeaf() {
			continue // summary of a part/chapter/section/article
		}
		if seen[p.Text] {
			continue
		}
		seen[p.Text] = true
		out = append(out, p)
	}
	return out
}

// extractTrace picks the trace tiers by title marker: parts and chapters
// carry the global context (top 1), articles bridge (top 1), clauses and
// points are the local evidence (top 2). Entries whose titles match no
// marker stay out of the trace; a missing tier is normal, never an error.
func extractTrace(all []Passage) Trace {
	var trace Trace
	take := func(dst *[]Passage, p Passage, max int) {
		if len(*dst) >= max {
			return
		}
		for _, existing := range *dst {
			if existing.Text == p.Text {
				return
			}
		}
		*dst = append(*dst, p)
	}

	for _, p := range all {
		level, ok := lawtree.ClassifyTitle(p.Title)
		if !ok {
			continue
		}
		switch level {
		case lawtree.LevelPart, lawtree.LevelChapter:
			take(&trace.Global, p, 1)
		case lawtree.LevelArticle:
			take(&trace.Bridge, p, 1)
		case lawtree.LevelClause:
			take(&trace.Local, p, 2)
		}
	}
	return trace
}

// MultiQuery runs a set of related questions and merges their results:
// traces are combined tier by tier, passages deduplicated, and the
// answers concatenated in question order.
func (r *Router) MultiQuery(ctx context.Context, questions []string) (*Response, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", llm.ErrInvalidInput)
	}

	merged := &Response{}
	var answers []string
	seen := make(map[string]bool)

	for _, q := range questions {
		resp, err := r.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q, err)
		}
		if resp.Degraded {
			merged.Degraded = true
		}
		if resp.Answer != "" {
			answers = append(answers, fmt.Sprintf("%s\n%s", q, resp.Answer))
		}
		for _, p := range resp.Passages {
			if !seen[p.Text] {
				seen[p.Text] = true
				merged.Passages = append(merged.Passages, p)
			}
		}
		mergeTier(&merged.Trace.Global, resp.Trace.Global)
		mergeTier(&merged.Trace.Bridge, resp.Trace.Bridge)
		mergeTier(&merged.Trace.Local, resp.Trace.Local)
	}

	sort.SliceStable(merged.Passages, func(i, j int) bool {
		return merged.Passages[i].Distance < merged.Passages[j].Distance
	})
	merged.Answer = strings.Join(answers, "\n\n")
	return merged, nil
}

func mergeTier(dst *[]Passage, src []Passage) {
	for _, p := range src {
		dup := false
		for _, existing := range *dst {
			if existing.Text == p.Text {
				dup = true
				break
			}
		}
		if !dup {
			*dst = append(*dst, p)
		}
	}
}
