// Package cache coordinates the three persistence layers so they stay
// mutually consistent: the metadata store (documents, hierarchy, status
// flags), the vector store, and the artifact object store. Nothing else
// in the module writes to more than one layer.
//
// Ordering carries the consistency guarantee. Invalidation clears the
// status flags first and the data layers after, so no reader ever sees
// flags that promise layers which are already gone. Commit runs the
// other way around: data layers first, flags last.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/builder"
	"github.com/vqhuy/lawrag-mcp/internal/index"
	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
	"github.com/vqhuy/lawrag-mcp/internal/objectstore"
	"github.com/vqhuy/lawrag-mcp/internal/storage"
	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

// ErrNotBuilt means the document has no usable cached index and must be
// rebuilt before it can be queried.
var ErrNotBuilt = errors.New("document index not built")

// Coordinator is the single writer across the metadata store, the vector
// store, and the object store.
type Coordinator struct {
	meta    storage.Store
	vectors *vectorstore.Store
	objects *objectstore.Store
	log     zerolog.Logger
}

// New creates a coordinator over the three layers.
func New(meta storage.Store, vectors *vectorstore.Store, objects *objectstore.Store, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		meta:    meta,
		vectors: vectors,
		objects: objects,
		log:     log.With().Str("component", "cache").Logger(),
	}
}

// IsComplete reports whether every derived layer for the document is
// present: status flags all set, hierarchy rows stored, embeddings in the
// vector store, and the artifact pair on disk. A document with no status
// row is simply incomplete, not an error.
func (c *Coordinator) IsComplete(ctx context.Context, docID int64) (bool, error) {
	status, err := c.meta.GetCacheStatus(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache status: %w", err)
	}
	if !status.Complete() {
		return false, nil
	}

	nodes, err := c.meta.LoadNodes(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("failed to load hierarchy: %w", err)
	}
	if len(nodes) == 0 {
		return false, nil
	}

	// Count surfaces vector store errors on purpose: a broken store must
	// not be mistaken for an empty one here.
	count, err := c.vectors.Count(ctx, vectorstore.CollectionName(docID))
	if err != nil {
		return false, fmt.Errorf("failed to count vectors: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	return c.objects.Exists(docID), nil
}

// Invalidate removes every derived layer for the document while keeping
// the document record itself. Flags go first so the document reads as
// incomplete for the whole teardown.
func (c *Coordinator) Invalidate(ctx context.Context, docID int64) error {
	if err := c.meta.DeleteCacheStatus(ctx, docID); err != nil {
		return fmt.Errorf("failed to clear cache status: %w", err)
	}
	if err := c.objects.Delete(docID); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	if err := c.vectors.DropCollection(ctx, vectorstore.CollectionName(docID)); err != nil {
		return fmt.Errorf("failed to drop vector collection: %w", err)
	}
	if err := c.meta.DeleteTree(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete hierarchy: %w", err)
	}
	c.log.Info().Int64("doc_id", docID).Msg("cache invalidated")
	return nil
}

// CommitParse persists the parsed tree and marks the parse layer present.
func (c *Coordinator) CommitParse(ctx context.Context, docID int64, tree *lawtree.Tree) error {
	if err := c.meta.SaveTree(ctx, docID, tree); err != nil {
		return fmt.Errorf("failed to save tree: %w", err)
	}
	if err := c.meta.SetParsed(ctx, docID); err != nil {
		return fmt.Errorf("failed to mark parsed: %w", err)
	}
	return nil
}

// CommitBuild lands a finished build: embeddings into the vector store,
// node back-references, the artifact pair, and finally the status flags.
// An error partway leaves the flags unset, so the document still reads as
// incomplete and the next build starts from Invalidate.
func (c *Coordinator) CommitBuild(ctx context.Context, docID int64, result *builder.Result) error {
	collection := vectorstore.CollectionName(docID)

	if err := c.vectors.ReplaceCollection(ctx, collection, result.Records); err != nil {
		return fmt.Errorf("failed to store vectors: %w", err)
	}

	for _, rec := range result.Records {
		if rec.NodeID == 0 {
			continue
		}
		if err := c.meta.SetNodeVectorRef(ctx, rec.NodeID, collection, rec.ID); err != nil {
			return fmt.Errorf("failed to set vector back-reference for node %d: %w", rec.NodeID, err)
		}
	}

	if err := c.objects.Save(result.Artifact); err != nil {
		return fmt.Errorf("failed to save artifacts: %w", err)
	}

	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("failed to encode build stats: %w", err)
	}
	if err := c.meta.SetBuilt(ctx, docID, string(statsJSON)); err != nil {
		return fmt.Errorf("failed to mark built: %w", err)
	}

	c.log.Info().Int64("doc_id", docID).
		Int("records", len(result.Records)).
		Int("engines", len(result.Artifact.Engines)).
		Msg("build committed")
	return nil
}

// Artifact loads the cached index for a complete document. Absent or
// corrupt artifacts both come back as ErrNotBuilt; corruption is logged
// separately inside the object store.
func (c *Coordinator) Artifact(ctx context.Context, docID int64) (*index.Artifact, error) {
	complete, err := c.IsComplete(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("%w: document %d", ErrNotBuilt, docID)
	}
	artifact := c.objects.LoadOrNil(docID)
	if artifact == nil {
		return nil, fmt.Errorf("%w: document %d", ErrNotBuilt, docID)
	}
	return artifact, nil
}

// Stats is a read-only projection across all three layers. Empty layers
// produce zero counts, never errors.
type Stats struct {
	Meta        storage.Stats `json:"meta"`
	Collections int           `json:"collections"`
	Vectors     int           `json:"vectors"`
	Artifacts   int           `json:"artifacts"`
}

// Stats aggregates counts from the metadata store, the vector store, and
// the object store.
func (c *Coordinator) Stats(ctx context.Context) (*Stats, error) {
	meta, err := c.meta.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata stats: %w", err)
	}

	collections, err := c.vectors.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector collections: %w", err)
	}
	totalVectors := 0
	for _, name := range collections {
		n, err := c.vectors.Count(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to count collection %s: %w", name, err)
		}
		totalVectors += n
	}

	docs, err := c.meta.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	artifacts := 0
	for _, doc := range docs {
		if c.objects.Exists(doc.ID) {
			artifacts++
		}
	}

	return &Stats{
		Meta:        *meta,
		Collections: len(collections),
		Vectors:     totalVectors,
		Artifacts:   artifacts,
	}, nil
}

// Clear invalidates one document and removes its registration.
func (c *Coordinator) Clear(ctx context.Context, docID int64) error {
	if err := c.Invalidate(ctx, docID); err != nil {
		return err
	}
	if err := c.meta.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// ClearAll removes every document and all derived layers.
func (c *Coordinator) ClearAll(ctx context.Context) error {
	docs, err := c.meta.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	for _, doc := range docs {
		if err := c.Clear(ctx, doc.ID); err != nil {
			return err
		}
	}
	c.log.Info().Int("documents", len(docs)).Msg("cache cleared")
	return nil
}

// Vacuum reclaims space in the metadata store.
func (c *Coordinator) Vacuum(ctx context.Context) error {
	return c.meta.Vacuum(ctx)
}
