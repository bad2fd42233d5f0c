package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
)

// SaveTree persists a parsed tree for the document, replacing any previous
// hierarchy rows. Nodes are written depth-first in document order; each row
// records its parent id and its position among siblings, so LoadTree is an
// exact structural inverse. Intermediate levels store empty content, clause
// leaves store the literal text.
func (s *SQLiteStore) SaveTree(ctx context.Context, docID int64, tree *lawtree.Tree) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hierarchy WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to clear hierarchy: %w", err)
	}

	insert := `
		INSERT INTO hierarchy (doc_id, parent_id, level, title, content, order_index)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	var save func(n *lawtree.Node, parentID *int64, order int) error
	save = func(n *lawtree.Node, parentID *int64, order int) error {
		var parent interface{}
		if parentID != nil {
			parent = *parentID
		}
		result, err := tx.ExecContext(ctx, insert,
			docID, parent, n.Level.String(), n.Title, n.Content, order)
		if err != nil {
			return fmt.Errorf("failed to insert node %q: %w", n.Title, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		for i, child := range n.Children {
			if err := save(child, &id, i); err != nil {
				return err
			}
		}
		return nil
	}

	for i, part := range tree.Parts {
		if err := save(part, nil, i); err != nil {
			return err
		}
	}

	if tree.Title != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET title = ? WHERE id = ?`, tree.Title, docID); err != nil {
			return fmt.Errorf("failed to update document title: %w", err)
		}
	}

	return tx.Commit()
}

// LoadNodes returns every hierarchy row for the document in document order
// (parents before children, siblings by order index).
func (s *SQLiteStore) LoadNodes(ctx context.Context, docID int64) ([]*Node, error) {
	query := `
		SELECT id, doc_id, parent_id, level, title, content, order_index,
		       vector_collection, vector_id
		FROM hierarchy
		WHERE doc_id = ?
		ORDER BY id
	`
	rows, err := s.querier().QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var nodes []*Node
	for rows.Next() {
		var node Node
		var parentID sql.NullInt64
		var levelName string
		var collection, vectorID sql.NullString
		if err := rows.Scan(&node.ID, &node.DocID, &parentID, &levelName,
			&node.Title, &node.Content, &node.OrderIndex, &collection, &vectorID); err != nil {
			return nil, err
		}
		if parentID.Valid {
			v := parentID.Int64
			node.ParentID = &v
		}
		node.Level, err = lawtree.ParseLevel(levelName)
		if err != nil {
			return nil, fmt.Errorf("corrupt hierarchy row %d: %w", node.ID, err)
		}
		node.VectorCollection = collection.String
		node.VectorID = vectorID.String
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// LoadTree reconstructs the parsed tree from the hierarchy rows. Returns
// ErrNotFound when the document has no hierarchy.
func (s *SQLiteStore) LoadTree(ctx context.Context, docID int64) (*lawtree.Tree, error) {
	nodes, err := s.LoadNodes(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}

	doc, err := s.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}

	built := make(map[int64]*lawtree.Node, len(nodes))
	for _, n := range nodes {
		built[n.ID] = &lawtree.Node{Title: n.Title, Level: n.Level, Content: n.Content}
	}

	type slot struct {
		order int
		node  *lawtree.Node
	}
	children := make(map[int64][]slot)
	var roots []slot
	for _, n := range nodes {
		s := slot{order: n.OrderIndex, node: built[n.ID]}
		if n.ParentID == nil {
			roots = append(roots, s)
		} else {
			children[*n.ParentID] = append(children[*n.ParentID], s)
		}
	}

	attach := func(slots []slot) []*lawtree.Node {
		sort.Slice(slots, func(i, j int) bool { return slots[i].order < slots[j].order })
		out := make([]*lawtree.Node, len(slots))
		for i, s := range slots {
			out[i] = s.node
		}
		return out
	}

	for _, n := range nodes {
		if slots, ok := children[n.ID]; ok {
			built[n.ID].Children = attach(slots)
		}
	}

	return &lawtree.Tree{Title: doc.Title, Parts: attach(roots)}, nil
}

// DeleteTree removes every hierarchy row for the document.
func (s *SQLiteStore) DeleteTree(ctx context.Context, docID int64) error {
	if _, err := s.querier().ExecContext(ctx, `DELETE FROM hierarchy WHERE doc_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete hierarchy: %w", err)
	}
	return nil
}

// SetNodeVectorRef patches a node's back-reference to its embedding after
// the vector store insert succeeds.
func (s *SQLiteStore) SetNodeVectorRef(ctx context.Context, nodeID int64, collection, vectorID string) error {
	query := `UPDATE hierarchy SET vector_collection = ?, vector_id = ? WHERE id = ?`
	result, err := s.querier().ExecContext(ctx, query, collection, vectorID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to set vector ref: %w", err)
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
