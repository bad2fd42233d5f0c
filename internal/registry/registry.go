// Package registry implements content-hash change detection for source
// documents. It answers one question: has this file been seen before, and
// if so, did its content change since the last registration.
package registry

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/storage"
)

// State classifies the outcome of a registration.
type State int

const (
	// StateNew means the path was never registered before.
	StateNew State = iota
	// StateUnchanged means the stored hash matches the current content.
	StateUnchanged
	// StateChanged means the content differs; the stored hash has been
	// updated and every cached layer for the document is stale.
	StateChanged
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateUnchanged:
		return "unchanged"
	case StateChanged:
		return "changed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Registry registers documents against the metadata store.
type Registry struct {
	store storage.Store
	log   zerolog.Logger
}

// New creates a Registry.
func New(store storage.Store, log zerolog.Logger) *Registry {
	return &Registry{store: store, log: log.With().Str("component", "registry").Logger()}
}

// HashFile computes the content hash used for change detection. MD5 is
// deliberate: this is change detection over trusted local files, not an
// integrity check against an adversary.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return HashContent(data), nil
}

// HashContent hashes raw content.
func HashContent(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Register records the document at path. For a known path with identical
// content it reports StateUnchanged and touches nothing. For changed
// content it updates the stored hash and timestamp and reports
// StateChanged; deleting the stale derived layers is the coordinator's
// job, not the registry's.
func (r *Registry) Register(ctx context.Context, path, title string) (*storage.Document, State, error) {
	hash, err := HashFile(path)
	if err != nil {
		return nil, StateNew, err
	}

	doc, err := r.store.GetDocumentByPath(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		doc = &storage.Document{FilePath: path, FileHash: hash, Title: title}
		if err := r.store.CreateDocument(ctx, doc); err != nil {
			return nil, StateNew, err
		}
		r.log.Info().Int64("doc_id", doc.ID).Str("path", path).Msg("registered new document")
		return doc, StateNew, nil
	}
	if err != nil {
		return nil, StateNew, err
	}

	if doc.FileHash == hash {
		return doc, StateUnchanged, nil
	}

	if err := r.store.UpdateDocumentHash(ctx, doc.ID, hash); err != nil {
		return nil, StateChanged, err
	}
	doc.FileHash = hash
	r.log.Info().Int64("doc_id", doc.ID).Str("path", path).Msg("document content changed")
	return doc, StateChanged, nil
}
