package storage

import (
	"context"
	"time"

	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
)

// Store defines the interface for persisting document metadata, the
// hierarchy tree, and cache status rows.
type Store interface {
	// Document operations
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocumentByPath(ctx context.Context, filePath string) (*Document, error)
	GetDocumentByID(ctx context.Context, docID int64) (*Document, error)
	UpdateDocumentHash(ctx context.Context, docID int64, fileHash string) error
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, docID int64) error

	// Hierarchy operations
	SaveTree(ctx context.Context, docID int64, tree *lawtree.Tree) error
	LoadTree(ctx context.Context, docID int64) (*lawtree.Tree, error)
	LoadNodes(ctx context.Context, docID int64) ([]*Node, error)
	DeleteTree(ctx context.Context, docID int64) error
	SetNodeVectorRef(ctx context.Context, nodeID int64, collection, vectorID string) error

	// Cache status operations
	SetParsed(ctx context.Context, docID int64) error
	SetBuilt(ctx context.Context, docID int64, buildStats string) error
	GetCacheStatus(ctx context.Context, docID int64) (*CacheStatus, error)
	DeleteCacheStatus(ctx context.Context, docID int64) error

	// Database operations
	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context) error
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
}

// Document represents a registered law document
type Document struct {
	ID        int64
	FilePath  string
	FileHash  string
	Title     string
	Metadata  string // JSON blob, free-form
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Node is one stored hierarchy row. ParentID is nil for part-level roots.
// VectorCollection and VectorID are back-references patched in after the
// node's embedding lands in the vector store.
type Node struct {
	ID               int64
	DocID            int64
	ParentID         *int64
	Level            lawtree.Level
	Title            string
	Content          string
	OrderIndex       int
	VectorCollection string
	VectorID         string
}

// IsLeaf reports whether the row carries literal clause content.
func (n *Node) IsLeaf() bool {
	return n.Level.IsLeaf()
}

// CacheStatus tracks which derived layers exist for a document. The flags
// only move forward; invalidation deletes the whole row.
type CacheStatus struct {
	DocID      int64
	Parsed     bool
	Indexed    bool
	Embedded   bool
	LastBuild  time.Time
	BuildStats string // JSON blob
}

// Complete reports whether every derived layer is marked present.
func (c *CacheStatus) Complete() bool {
	return c.Parsed && c.Indexed && c.Embedded
}

// Stats is a read-only projection over the metadata store. All counts are
// zero on an empty store, never an error.
type Stats struct {
	Documents    int
	Nodes        int
	NodesByLevel map[string]int
	Parsed       int
	Indexed      int
	Embedded     int
	Complete     int
}
