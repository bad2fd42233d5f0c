package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore creates a new SQLite store instance and applies pending
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the DB querier
func (s *SQLiteStore) querier() querier {
	return s.db
}

// Document operations

func (s *SQLiteStore) createDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	query := `
		INSERT INTO documents (file_path, file_hash, title, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query,
		doc.FilePath, doc.FileHash, doc.Title, doc.Metadata, now, now)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	doc.ID = id
	doc.CreatedAt = now
	doc.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	return s.createDocumentWithQuerier(ctx, s.querier(), doc)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var title, metadata sql.NullString
	err := row.Scan(&doc.ID, &doc.FilePath, &doc.FileHash, &title, &metadata,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.Metadata = metadata.String
	return &doc, nil
}

func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, filePath string) (*Document, error) {
	query := `
		SELECT id, file_path, file_hash, title, metadata, created_at, updated_at
		FROM documents
		WHERE file_path = ?
	`
	return scanDocument(s.querier().QueryRowContext(ctx, query, filePath))
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, docID int64) (*Document, error) {
	query := `
		SELECT id, file_path, file_hash, title, metadata, created_at, updated_at
		FROM documents
		WHERE id = ?
	`
	return scanDocument(s.querier().QueryRowContext(ctx, query, docID))
}

func (s *SQLiteStore) UpdateDocumentHash(ctx context.Context, docID int64, fileHash string) error {
	query := `UPDATE documents SET file_hash = ?, updated_at = ? WHERE id = ?`
	result, err := s.querier().ExecContext(ctx, query, fileHash, time.Now(), docID)
	if err != nil {
		return fmt.Errorf("failed to update document hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	query := `
		SELECT id, file_path, file_hash, title, metadata, created_at, updated_at
		FROM documents
		ORDER BY id
	`
	rows, err := s.querier().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var title, metadata sql.NullString
		if err := rows.Scan(&doc.ID, &doc.FilePath, &doc.FileHash, &title, &metadata,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Title = title.String
		doc.Metadata = metadata.String
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID int64) error {
	// Hierarchy and cache_status rows follow via ON DELETE CASCADE.
	result, err := s.querier().ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cache status operations

// SetParsed marks the hierarchy layer present, creating the status row if
// needed. Existing indexed/embedded flags are preserved.
func (s *SQLiteStore) SetParsed(ctx context.Context, docID int64) error {
	query := `
		INSERT INTO cache_status (doc_id, parsed) VALUES (?, 1)
		ON CONFLICT(doc_id) DO UPDATE SET parsed = 1
	`
	if _, err := s.querier().ExecContext(ctx, query, docID); err != nil {
		return fmt.Errorf("failed to set parsed flag: %w", err)
	}
	return nil
}

// SetBuilt marks the indexed and embedded layers present together and
// records the build timestamp and stats.
func (s *SQLiteStore) SetBuilt(ctx context.Context, docID int64, buildStats string) error {
	query := `
		INSERT INTO cache_status (doc_id, parsed, indexed, embedded, last_build, build_stats)
		VALUES (?, 1, 1, 1, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			indexed = 1,
			embedded = 1,
			last_build = excluded.last_build,
			build_stats = excluded.build_stats
	`
	if _, err := s.querier().ExecContext(ctx, query, docID, time.Now(), buildStats); err != nil {
		return fmt.Errorf("failed to set built flags: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCacheStatus(ctx context.Context, docID int64) (*CacheStatus, error) {
	query := `
		SELECT doc_id, parsed, indexed, embedded, last_build, build_stats
		FROM cache_status
		WHERE doc_id = ?
	`
	var status CacheStatus
	var lastBuild sql.NullTime
	var buildStats sql.NullString
	err := s.querier().QueryRowContext(ctx, query, docID).Scan(
		&status.DocID, &status.Parsed, &status.Indexed, &status.Embedded,
		&lastBuild, &buildStats,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastBuild.Valid {
		status.LastBuild = lastBuild.Time
	}
	status.BuildStats = buildStats.String
	return &status, nil
}

func (s *SQLiteStore) DeleteCacheStatus(ctx context.Context, docID int64) error {
	if _, err := s.querier().ExecContext(ctx, `DELETE FROM cache_status WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete cache status: %w", err)
	}
	return nil
}

// Stats returns a projection over the whole store. Empty stores yield zero
// counts, not errors.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{NodesByLevel: make(map[string]int)}

	if err := s.querier().QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if err := s.querier().QueryRowContext(ctx, `SELECT COUNT(*) FROM hierarchy`).Scan(&stats.Nodes); err != nil {
		return nil, fmt.Errorf("failed to count hierarchy rows: %w", err)
	}

	rows, err := s.querier().QueryContext(ctx, `SELECT level, COUNT(*) FROM hierarchy GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("failed to count levels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		stats.NodesByLevel[level] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	query := `
		SELECT
			COALESCE(SUM(parsed), 0),
			COALESCE(SUM(indexed), 0),
			COALESCE(SUM(embedded), 0),
			COALESCE(SUM(parsed AND indexed AND embedded), 0)
		FROM cache_status
	`
	if err := s.querier().QueryRowContext(ctx, query).Scan(
		&stats.Parsed, &stats.Indexed, &stats.Embedded, &stats.Complete); err != nil {
		return nil, fmt.Errorf("failed to count cache status: %w", err)
	}

	return stats, nil
}

// Vacuum reclaims space after large deletions.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
