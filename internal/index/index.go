// Package index defines the in-memory searchable structure built per
// document: flat vector indexes over summarized entries, plus the artifact
// envelope that makes them serializable. The serialization contract is
// explicit JSON with a schema tag, so a version bump is detected as
// corruption instead of being misread.
package index

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vqhuy/lawrag-mcp/internal/vectorstore"
)

// Schema is the artifact contract version. Bump it when Entry or
// VectorIndex change shape.
const Schema = "lawrag.index.v1"

// Entry is one indexed unit. A non-empty Ref marks a subtree reference:
// search hits on it descend into the engine named by Ref instead of
// terminating. Literal entries have an empty Ref and their Text is a
// passage candidate.
type Entry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Level  string `json:"level"`
	NodeID int64  `json:"node_id,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// IsRef reports whether the entry points at a sub-engine.
func (e *Entry) IsRef() bool {
	return e.Ref != ""
}

// VectorIndex is a flat index: entries and their vectors, position-aligned.
type VectorIndex struct {
	Entries []Entry     `json:"entries"`
	Vectors [][]float32 `json:"vectors"`
}

// Add appends an entry with its vector.
func (ix *VectorIndex) Add(e Entry, vector []float32) {
	ix.Entries = append(ix.Entries, e)
	ix.Vectors = append(ix.Vectors, vector)
}

// Len returns the number of entries.
func (ix *VectorIndex) Len() int {
	return len(ix.Entries)
}

// Validate checks the entry/vector alignment.
func (ix *VectorIndex) Validate() error {
	if len(ix.Entries) != len(ix.Vectors) {
		return fmt.Errorf("index misaligned: %d entries, %d vectors", len(ix.Entries), len(ix.Vectors))
	}
	return nil
}

// Hit is one search result from a VectorIndex.
type Hit struct {
	Entry    Entry
	Distance float64
}

// Search returns the k nearest entries by cosine distance, ties broken by
// insertion order so results are deterministic.
func (ix *VectorIndex) Search(queryVector []float32, k int) []Hit {
	if k <= 0 || len(queryVector) == 0 {
		return nil
	}

	type candidate struct {
		pos      int
		distance float64
	}
	var candidates []candidate
	for i, v := range ix.Vectors {
		if len(v) != len(queryVector) {
			continue
		}
		candidates = append(candidates, candidate{
			pos:      i,
			distance: vectorstore.CosineDistance(queryVector, v),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].pos < candidates[j].pos
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		hits[i] = Hit{Entry: ix.Entries[candidates[i].pos], Distance: candidates[i].distance}
	}
	return hits
}

// Artifact bundles everything the query router needs for one document: the
// top-level index plus the engine map keyed by node handle.
type Artifact struct {
	Schema     string                  `json:"schema"`
	DocumentID int64                   `json:"document_id"`
	Top        *VectorIndex            `json:"top"`
	Engines    map[string]*VectorIndex `json:"engines"`
}

// NewArtifact creates an artifact with the current schema tag.
func NewArtifact(docID int64) *Artifact {
	return &Artifact{
		Schema:     Schema,
		DocumentID: docID,
		Top:        &VectorIndex{},
		Engines:    make(map[string]*VectorIndex),
	}
}

// Validate checks the schema tag and index alignment.
func (a *Artifact) Validate() error {
	if a.Schema != Schema {
		return fmt.Errorf("unknown artifact schema %q, want %q", a.Schema, Schema)
	}
	if a.Top == nil {
		return fmt.Errorf("artifact has no top index")
	}
	if err := a.Top.Validate(); err != nil {
		return fmt.Errorf("top index: %w", err)
	}
	for name, engine := range a.Engines {
		if engine == nil {
			return fmt.Errorf("engine %q is nil", name)
		}
		if err := engine.Validate(); err != nil {
			return fmt.Errorf("engine %q: %w", name, err)
		}
	}
	return nil
}

// Encode serializes the artifact to JSON.
func (a *Artifact) Encode() ([]byte, error) {
	return json.Marshal(a)
}

// Decode deserializes and validates an artifact.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
