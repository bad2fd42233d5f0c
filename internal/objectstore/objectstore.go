// Package objectstore persists built index artifacts as paired JSON files
// on the filesystem: one file for the top-level index, one for the engine
// map. The pair is versioned through the index schema tag, and loading
// distinguishes an absent pair (rebuild silently) from a corrupt one
// (surface loudly, then rebuild).
package objectstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/index"
)

var (
	// ErrAbsent is returned when either artifact file is missing. Callers
	// rebuild without noise.
	ErrAbsent = errors.New("artifact absent")
	// ErrCorrupt is returned when an artifact file exists but cannot be
	// decoded or carries the wrong schema. Callers rebuild, but the event
	// is worth a distinct log line.
	ErrCorrupt = errors.New("artifact corrupt")
)

// Store writes artifacts under a single objects directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// New creates the objects directory if needed.
func New(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}
	return &Store{dir: dir, log: log.With().Str("component", "objectstore").Logger()}, nil
}

// topEnvelope is the on-disk shape of the top-index file.
type topEnvelope struct {
	Schema     string             `json:"schema"`
	DocumentID int64              `json:"document_id"`
	Top        *index.VectorIndex `json:"top"`
}

// enginesEnvelope is the on-disk shape of the engines file.
type enginesEnvelope struct {
	Schema     string                        `json:"schema"`
	DocumentID int64                         `json:"document_id"`
	Engines    map[string]*index.VectorIndex `json:"engines"`
}

func (s *Store) topPath(docID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("doc_%d_top_index.json", docID))
}

func (s *Store) enginesPath(docID int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("doc_%d_engines.json", docID))
}

// Save writes both artifact files. Each file lands via temp-file + rename;
// if the second write fails the first is removed so the pair is never
// half-present.
func (s *Store) Save(artifact *index.Artifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid artifact: %w", err)
	}

	top := topEnvelope{Schema: artifact.Schema, DocumentID: artifact.DocumentID, Top: artifact.Top}
	engines := enginesEnvelope{Schema: artifact.Schema, DocumentID: artifact.DocumentID, Engines: artifact.Engines}

	topPath := s.topPath(artifact.DocumentID)
	if err := writeJSON(topPath, top); err != nil {
		return fmt.Errorf("failed to save top index: %w", err)
	}
	if err := writeJSON(s.enginesPath(artifact.DocumentID), engines); err != nil {
		_ = os.Remove(topPath)
		return fmt.Errorf("failed to save engines: %w", err)
	}
	return nil
}

// Load reads the artifact pair for a document. Returns ErrAbsent when
// either file is missing and ErrCorrupt when a file exists but cannot be
// decoded, fails validation, or belongs to a different document.
func (s *Store) Load(docID int64) (*index.Artifact, error) {
	topData, err := os.ReadFile(s.topPath(docID))
	if err != nil {
		return nil, classifyReadError(err)
	}
	enginesData, err := os.ReadFile(s.enginesPath(docID))
	if err != nil {
		return nil, classifyReadError(err)
	}

	var top topEnvelope
	if err := json.Unmarshal(topData, &top); err != nil {
		return nil, fmt.Errorf("%w: top index: %v", ErrCorrupt, err)
	}
	var engines enginesEnvelope
	if err := json.Unmarshal(enginesData, &engines); err != nil {
		return nil, fmt.Errorf("%w: engines: %v", ErrCorrupt, err)
	}

	artifact := &index.Artifact{
		Schema:     top.Schema,
		DocumentID: top.DocumentID,
		Top:        top.Top,
		Engines:    engines.Engines,
	}
	if artifact.Engines == nil {
		artifact.Engines = make(map[string]*index.VectorIndex)
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if engines.Schema != top.Schema || top.DocumentID != docID || engines.DocumentID != docID {
		return nil, fmt.Errorf("%w: artifact pair mismatch for document %d", ErrCorrupt, docID)
	}
	return artifact, nil
}

// LoadOrNil loads the artifact, mapping both absence and corruption to nil.
// Corruption still gets its own warn line so it never passes silently.
func (s *Store) LoadOrNil(docID int64) *index.Artifact {
	artifact, err := s.Load(docID)
	if errors.Is(err, ErrAbsent) {
		return nil
	}
	if errors.Is(err, ErrCorrupt) {
		s.log.Warn().Err(err).Int64("doc_id", docID).Msg("corrupt artifact treated as absent")
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).Int64("doc_id", docID).Msg("failed to load artifact")
		return nil
	}
	return artifact
}

// Exists reports whether both artifact files are present. It does not
// decode them.
func (s *Store) Exists(docID int64) bool {
	for _, path := range []string{s.topPath(docID), s.enginesPath(docID)} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

// Delete removes both artifact files. Missing files are not an error.
func (s *Store) Delete(docID int64) error {
	for _, path := range []string{s.topPath(docID), s.enginesPath(docID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func classifyReadError(err error) error {
	if os.IsNotExist(err) {
		return ErrAbsent
	}
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

// writeJSON writes data atomically: marshal, write to a temp file in the
// same directory, then rename over the target.
func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
