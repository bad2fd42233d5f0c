// Package storage provides SQLite-based persistence for law document
// metadata, the parsed hierarchy, and per-document cache status.
//
// # Database Schema
//
// Tables:
//   - documents: registered files (path, MD5 content hash, title, metadata)
//   - hierarchy: one row per tree node, parent links + sibling order index
//   - cache_status: parsed/indexed/embedded flags and build stats per document
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore("lawrag.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	doc := &storage.Document{FilePath: "data/bo_luat_dan_su.txt", FileHash: hash}
//	if err := store.CreateDocument(ctx, doc); err != nil {
//	    return err
//	}
//	if err := store.SaveTree(ctx, doc.ID, tree); err != nil {
//	    return err
//	}
//
// SaveTree and LoadTree are exact inverses: sibling order, the optional
// section tier, and clause content all survive a round trip.
//
// # Build Tags
//
// Two driver configurations are supported:
//
//   - default / purego tag: modernc.org/sqlite, no C compiler needed
//   - cgo_sqlite tag: github.com/mattn/go-sqlite3, CGO_ENABLED=1
package storage
