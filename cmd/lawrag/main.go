// Command lawrag manages the hierarchical law document cache: it indexes
// plain-text Vietnamese law documents, answers questions against them,
// and serves the same operations over MCP on stdio.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/cache"
	"github.com/vqhuy/lawrag-mcp/internal/config"
	"github.com/vqhuy/lawrag-mcp/internal/llm"
	"github.com/vqhuy/lawrag-mcp/internal/mcp"
	"github.com/vqhuy/lawrag-mcp/internal/objectstore"
	"github.com/vqhuy/lawrag-mcp/internal/parser"
	"github.com/vqhuy/lawrag-mcp/internal/registry"
	"github.com/vqhuy/lawrag-mcp/internal/router"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `lawrag - hierarchical Vietnamese law document cache

Usage:
  lawrag [--config path] <command> [arguments]

Commands:
  serve                       serve the MCP tools on stdio
  index <file>                register and index a law document
  query <id> <question> [related...]
                              answer a question against a document
  search <id> <query>         raw vector similarity search
  validate <file>             parse a document and check it against the cache
  list                        list registered documents
  inspect <id>                show one document's hierarchy and cache state
  info                        store-wide statistics
  rebuild <id>                force a full rebuild
  clear [--id N] [--force]    remove one document or the whole cache
  vacuum                      reclaim database space
  --version                   print version information
`

func main() {
	// Version goes first, before any flag parsing or wiring
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Printf("lawrag %s (built %s)\n", version, buildTime)
		fmt.Printf("SQLite driver: %s (%s build)\n", storage.DriverName, storage.BuildMode)
		return
	}

	// .env is optional; missing file is not an error
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := a.run(args[0], args[1:]); err != nil {
		a.log.Error().Err(err).Str("command", args[0]).Msg("command failed")
		os.Exit(1)
	}
}

// app holds the wired application. Everything is constructed once here
// and shared by every subcommand.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	meta      storage.Store
	vectors   *vectorstore.Store
	objects   *objectstore.Store
	coord     *cache.Coordinator
	pipe      *cache.Pipeline
	completer llm.Completer
	embedder  llm.Embedder
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	// stdout is reserved for command output and the MCP protocol
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger().Level(level)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	meta, err := storage.NewSQLiteStore(cfg.Storage.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	vectors, err := vectorstore.New(cfg.Storage.VectorPath(), log)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	objects, err := objectstore.New(cfg.Storage.ObjectsPath(), log)
	if err != nil {
		_ = meta.Close()
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	completer, err := llm.NewCompleter(cfg.LLMOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create completer: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg.LLMOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	log.Debug().
		Str("completion", completer.Provider()).
		Str("embedding", embedder.Provider()).
		Msg("llm providers ready")

	coord := cache.New(meta, vectors, objects, log)
	b := builder.New(completer, embedder, cfg.BuilderConfig(), log)
	reg := registry.New(meta, log)
	pipe := cache.NewPipeline(reg, parser.New(), b, coord, meta,
		completer, embedder, cfg.RouterConfig(), log)

	return &app{
		cfg:       cfg,
		log:       log,
		meta:      meta,
		vectors:   vectors,
		objects:   objects,
		coord:     coord,
		pipe:      pipe,
		completer: completer,
		embedder:  embedder,
	}, nil
}

func (a *app) close() {
	_ = a.completer.Close()
	_ = a.embedder.Close()
	_ = a.vectors.Close()
	_ = a.meta.Close()
}

func (a *app) run(command string, args []string) error {
	ctx := context.Background()

	switch command {
	case "serve":
		return a.cmdServe()
	case "index":
		return a.cmdIndex(ctx, args)
	case "query":
		return a.cmdQuery(ctx, args)
	case "search":
		return a.cmdSearch(ctx, args)
	case "validate":
		return a.cmdValidate(ctx, args)
	case "list":
		return a.cmdList(ctx)
	case "inspect":
		return a.cmdInspect(ctx, args)
	case "info":
		return a.cmdInfo(ctx)
	case "rebuild":
		return a.cmdRebuild(ctx, args)
	case "clear":
		return a.cmdClear(ctx, args)
	case "vacuum":
		return a.coord.Vacuum(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) cmdServe() error {
	server := mcp.NewServer(a.pipe, a.meta, a.vectors, a.embedder, a.log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		return nil
	case err := <-errChan:
		return err
	}
}

func (a *app) cmdIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	title := fs.String("title", "", "document title override")
	force := fs.Bool("force", false, "rebuild even when the cache is complete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lawrag index [--title t] [--force] <file>")
	}

	path, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	report, err := a.pipe.IndexDocument(ctx, path, *title, *force)
	if err != nil {
		return err
	}

	if !report.Rebuilt {
		fmt.Printf("Document %d (%s): cache complete, nothing to do\n", report.DocID, report.Title)
		return nil
	}
	fmt.Printf("Document %d (%s): %s, rebuilt\n", report.DocID, report.Title, report.State)
	if report.Parse != nil {
		fmt.Printf("  parsed: %d parts, %d chapters, %d sections, %d articles, %d clauses\n",
			report.Parse.Parts, report.Parse.Chapters, report.Parse.Sections,
			report.Parse.Articles, report.Parse.Clauses)
	}
	if report.Build != nil {
		fmt.Printf("  indexed: %d entries, %d summary fallbacks\n",
			report.Build.Entries, report.Build.Fallbacks)
	}
	return nil
}

func (a *app) cmdQuery(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: lawrag query <id> <question> [related...]")
	}
	docID, err := parseDocID(args[0])
	if err != nil {
		return err
	}

	r, err := a.pipe.Router(ctx, docID)
	if err != nil {
		return err
	}

	questions := args[1:]
	var resp *router.Response
	if len(questions) > 1 {
		resp, err = r.MultiQuery(ctx, questions)
	} else {
		resp, err = r.Query(ctx, questions[0])
	}
	if err != nil {
		return err
	}

	fmt.Println(resp.Render())
	if resp.Degraded {
		fmt.Println("\n(answer generation unavailable, showing retrieved passages)")
		for _, p := range resp.Passages {
			fmt.Printf("  [%.3f] %s\n", p.Distance, p.Text)
		}
	}
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "maximum number of results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: lawrag search [--limit n] <id> <query>")
	}
	docID, err := parseDocID(fs.Arg(0))
	if err != nil {
		return err
	}
	query := strings.Join(fs.Args()[1:], " ")

	queryVector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return err
	}
	results := a.vectors.Search(ctx, vectorstore.CollectionName(docID), queryVector, *limit)
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%2d. [%.4f] %s (%s)\n    %s\n", i+1, r.Distance, r.Title, r.Level, r.Text)
	}
	return nil
}

func (a *app) cmdValidate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lawrag validate <file>")
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	tree, stats, err := parser.New().ParseFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", tree.Title)
	fmt.Printf("  %d lines, %d parts, %d chapters, %d sections, %d articles, %d clauses\n",
		stats.Lines, stats.Parts, stats.Chapters, stats.Sections, stats.Articles, stats.Clauses)

	// Compare against the registered copy when one exists
	doc, err := a.meta.GetDocumentByPath(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("  cache: not registered")
		return nil
	}
	if err != nil {
		return err
	}
	hash, err := registry.HashFile(path)
	if err != nil {
		return err
	}
	if hash != doc.FileHash {
		fmt.Printf("  cache: stale (content changed since registration, doc %d)\n", doc.ID)
		return nil
	}
	complete, err := a.coord.IsComplete(ctx, doc.ID)
	if err != nil {
		return err
	}
	if complete {
		fmt.Printf("  cache: fresh and complete (doc %d)\n", doc.ID)
	} else {
		fmt.Printf("  cache: registered but incomplete (doc %d)\n", doc.ID)
	}
	return nil
}

func (a *app) cmdList(ctx context.Context) error {
	docs, err := a.meta.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no documents registered")
		return nil
	}
	for _, doc := range docs {
		complete, err := a.coord.IsComplete(ctx, doc.ID)
		if err != nil {
			return err
		}
		state := "incomplete"
		if complete {
			state = "complete"
		}
		fmt.Printf("%4d  %-10s  %-40s  %s\n", doc.ID, state, doc.Title, doc.FilePath)
	}
	return nil
}

func (a *app) cmdInspect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lawrag inspect <id>")
	}
	docID, err := parseDocID(args[0])
	if err != nil {
		return err
	}

	doc, err := a.meta.GetDocumentByID(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Printf("Document %d: %s\n", doc.ID, doc.Title)
	fmt.Printf("  path: %s\n  hash: %s\n  updated: %s\n",
		doc.FilePath, doc.FileHash, doc.UpdatedAt.Format("2006-01-02 15:04:05"))

	tree, err := a.meta.LoadTree(ctx, docID)
	if err != nil {
		fmt.Println("  hierarchy: none")
		return nil
	}
	counts := tree.CountByLevel()
	fmt.Print("  hierarchy:")
	for level, n := range counts {
		fmt.Printf(" %d %ss", n, level)
	}
	fmt.Println()

	count, err := a.vectors.Count(ctx, vectorstore.CollectionName(docID))
	if err == nil {
		fmt.Printf("  vectors: %d\n", count)
	}
	fmt.Printf("  artifacts: %v\n", a.objects.Exists(docID))

	if status, err := a.meta.GetCacheStatus(ctx, docID); err == nil {
		fmt.Printf("  flags: parsed=%v indexed=%v embedded=%v\n",
			status.Parsed, status.Indexed, status.Embedded)
		if !status.LastBuild.IsZero() {
			fmt.Printf("  last build: %s\n", status.LastBuild.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func (a *app) cmdInfo(ctx context.Context) error {
	stats, err := a.coord.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("documents: %d (%d complete)\n", stats.Meta.Documents, stats.Meta.Complete)
	fmt.Printf("hierarchy nodes: %d\n", stats.Meta.Nodes)
	for level, n := range stats.Meta.NodesByLevel {
		fmt.Printf("  %s: %d\n", level, n)
	}
	fmt.Printf("vector collections: %d (%d vectors)\n", stats.Collections, stats.Vectors)
	fmt.Printf("artifacts: %d\n", stats.Artifacts)
	return nil
}

func (a *app) cmdRebuild(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lawrag rebuild <id>")
	}
	docID, err := parseDocID(args[0])
	if err != nil {
		return err
	}
	report, err := a.pipe.Rebuild(ctx, docID)
	if err != nil {
		return err
	}
	fmt.Printf("Document %d (%s): rebuilt", report.DocID, report.Title)
	if report.Build != nil {
		fmt.Printf(", %d entries", report.Build.Entries)
	}
	fmt.Println()
	return nil
}

func (a *app) cmdClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	docID := fs.Int64("id", 0, "document id to remove (all documents when 0)")
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	target := "the whole cache"
	if *docID > 0 {
		doc, err := a.meta.GetDocumentByID(ctx, *docID)
		if err != nil {
			return err
		}
		target = fmt.Sprintf("document %d (%s)", doc.ID, doc.Title)
	}

	if !*force && !confirm(fmt.Sprintf("Remove %s?", target)) {
		fmt.Println("aborted")
		return nil
	}

	if *docID > 0 {
		if err := a.coord.Clear(ctx, *docID); err != nil {
			return err
		}
	} else if err := a.coord.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", target)
	return nil
}

func parseDocID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", s)
	}
	return id, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
