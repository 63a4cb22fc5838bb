package store

import (
	"context"
	"fmt"
	"time"

	"nodebulkdelete/internal/node"
)

// NodeRecord is one row inserted by the fixtures API
type NodeRecord struct {
	ID        int64
	Type      string
	Title     string
	Published bool
	Created   time.Time
	Revisions int
}

// AddContentType registers a node type
func (s *SQLiteStore) AddContentType(ctx context.Context, ct node.ContentType) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO node_type (type, label) VALUES (?, ?) ON CONFLICT(type) DO UPDATE SET label = excluded.label",
		ct.ID, ct.Label)
	return err
}

// AddReferenceField defines a field and creates its data tables.
// withRevisionTable=false leaves the revision table absent.
func (s *SQLiteStore) AddReferenceField(ctx context.Context, name, fieldType string, withRevisionTable bool) error {
	if err := checkIdent(name); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO field_storage (field_name, field_type) VALUES (?, ?) ON CONFLICT(field_name) DO UPDATE SET field_type = excluded.field_type",
		name, fieldType)
	if err != nil {
		return fmt.Errorf("failed to define field %s: %w", name, err)
	}

	tables := []string{node.FieldDataTable(name)}
	if withRevisionTable {
		tables = append(tables, node.FieldRevisionTable(name))
	}
	for _, table := range tables {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			entity_id INTEGER NOT NULL,
			delta INTEGER NOT NULL DEFAULT 0,
			target_id INTEGER NOT NULL,
			PRIMARY KEY (entity_id, delta)
		)`, table)
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create %s: %w", table, err)
		}
	}
	return nil
}

// InsertNode writes a node, its revisions and an optional alias
func (s *SQLiteStore) InsertNode(ctx context.Context, rec NodeRecord, alias string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	status := 0
	if rec.Published {
		status = 1
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO node (nid, type, title, status, created) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Type, rec.Title, status, rec.Created.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert node %d: %w", rec.ID, err)
	}

	revisions := rec.Revisions
	if revisions < 1 {
		revisions = 1
	}
	for i := 0; i < revisions; i++ {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO node_revision (nid, created) VALUES (?, ?)", rec.ID, rec.Created.Unix()); err != nil {
			return fmt.Errorf("failed to insert revision for node %d: %w", rec.ID, err)
		}
	}

	if alias != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO path_alias (path, alias) VALUES (?, ?)", node.SystemPath(rec.ID), alias); err != nil {
			return fmt.Errorf("failed to insert alias for node %d: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// SetFieldValue stores a reference value in the field data (and revision) tables
func (s *SQLiteStore) SetFieldValue(ctx context.Context, field string, nid, targetID int64) error {
	if err := checkIdent(field); err != nil {
		return err
	}

	for _, table := range []string{node.FieldDataTable(field), node.FieldRevisionTable(field)} {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			continue
		}
		query := fmt.Sprintf("INSERT OR REPLACE INTO %s (entity_id, delta, target_id) VALUES (?, 0, ?)", table)
		if _, err := s.db.ExecContext(ctx, query, nid, targetID); err != nil {
			return err
		}
	}
	return nil
}

// CountRows returns the number of rows in table with column = id
func (s *SQLiteStore) CountRows(ctx context.Context, table, column string, id int64) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if err := checkIdent(column); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, column), id).Scan(&count)
	return count, err
}
