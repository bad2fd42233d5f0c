// Package vectorstore persists embedding vectors in their own SQLite file,
// one logical collection per document. Vectors are derived data: every
// write replaces a whole collection, and read failures degrade to empty
// results instead of failing the query path.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vqhuy/lawrag-mcp/internal/storage"
)

// Record is one embedded entry queued for insertion.
type Record struct {
	ID     string // assigned a UUID when empty
	Vector []float32
	Text   string
	Title  string
	Level  string
	NodeID int64 // hierarchy row id, 0 when the entry has no single node
}

// Result is one search hit. Distance is cosine distance, lower is closer.
type Result struct {
	ID       string
	Text     string
	Title    string
	Level    string
	NodeID   int64
	Distance float64
}

// CollectionName returns the canonical collection name for a document.
func CollectionName(docID int64) string {
	return fmt.Sprintf("doc_%d_embeddings", docID)
}

// Store holds vector collections in a dedicated SQLite database.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS vectors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    vector_id TEXT NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    text TEXT NOT NULL,
    title TEXT,
    level TEXT,
    node_id INTEGER,
    UNIQUE(collection, vector_id),
    FOREIGN KEY (collection) REFERENCES collections(name) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection);
`

// New opens (or creates) the vector database at dbPath.
func New(dbPath string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open(storage.DriverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "vectorstore").Logger()}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceCollection atomically replaces the collection's content: existing
// records are deleted and the new ones inserted in a single transaction.
// Records without an ID are assigned a fresh UUID in place.
func (s *Store) ReplaceCollection(ctx context.Context, name string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, created_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET created_at = excluded.created_at`,
		name, time.Now()); err != nil {
		return fmt.Errorf("failed to register collection %s: %w", name, err)
	}

	insert := `
		INSERT INTO vectors (collection, vector_id, vector, dimension, text, title, level, node_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("record %s has an empty vector", r.ID)
		}
		var nodeID interface{}
		if r.NodeID != 0 {
			nodeID = r.NodeID
		}
		if _, err := tx.ExecContext(ctx, insert,
			name, r.ID, serializeVector(r.Vector), len(r.Vector),
			r.Text, r.Title, r.Level, nodeID); err != nil {
			return fmt.Errorf("failed to insert vector %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collection %s: %w", name, err)
	}
	return nil
}

// Search returns the k nearest records by cosine distance, ties broken by
// insertion order. Failures are non-fatal: the error is logged and an empty
// result set returned, because vectors can always be rebuilt from source.
func (s *Store) Search(ctx context.Context, name string, queryVector []float32, k int) []Result {
	if k <= 0 || len(queryVector) == 0 {
		return nil
	}

	results, err := s.search(ctx, name, queryVector, k)
	if err != nil {
		s.log.Warn().Err(err).Str("collection", name).Msg("vector search failed, returning empty results")
		return nil
	}
	return results
}

func (s *Store) search(ctx context.Context, name string, queryVector []float32, k int) ([]Result, error) {
	query := `
		SELECT id, vector_id, vector, text, title, level, node_id
		FROM vectors
		WHERE collection = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type candidate struct {
		rowID    int64
		result   Result
		distance float64
	}
	var candidates []candidate
	for rows.Next() {
		var rowID int64
		var blob []byte
		var r Result
		var title, level sql.NullString
		var nodeID sql.NullInt64
		if err := rows.Scan(&rowID, &r.ID, &blob, &r.Text, &title, &level, &nodeID); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // dimension mismatch, skip
		}
		r.Title = title.String
		r.Level = level.String
		r.NodeID = nodeID.Int64
		r.Distance = cosineDistance(queryVector, vector)
		candidates = append(candidates, candidate{rowID: rowID, result: r, distance: r.Distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].rowID < candidates[j].rowID
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = candidates[i].result
	}
	return results, nil
}

// DropCollection removes the collection and all of its records. Dropping an
// absent collection is not an error.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

// Count returns the number of records in the collection. Unlike Search this
// surfaces errors: completeness checks must not mistake a broken store for
// an empty one.
func (s *Store) Count(ctx context.Context, name string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection = ?`, name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", name, err)
	}
	return count, nil
}

// HasCollection reports whether the collection exists.
func (s *Store) HasCollection(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM collections WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListCollections returns all collection names in creation order.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM collections ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
