package store

import (
	"context"
	"database/sql"
	"fmt"

	"nodebulkdelete/internal/node"
)

// ReferenceFieldTypes are the field types whose tables reference node ids
var ReferenceFieldTypes = []string{"entity_reference", "file", "image"}

// ReferenceFields lists reference-type fields defined on the node schema
func (s *SQLiteStore) ReferenceFields(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT field_name FROM field_storage WHERE field_type IN (%s) ORDER BY field_name ASC",
		placeholders(len(ReferenceFieldTypes)))
	args := make([]interface{}, len(ReferenceFieldTypes))
	for i, t := range ReferenceFieldTypes {
		args[i] = t
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reference fields: %w", err)
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		fields = append(fields, name)
	}
	return fields, rows.Err()
}

// InTx runs fn inside one write transaction. fn may be invoked again when
// SQLite reports the database as busy, so it must not leak partial results.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx node.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	// Serialize writers to avoid SQLITE_BUSY from concurrent chunk transactions
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return RetryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() // ignored after Commit

		if err := fn(&sqlTx{tx: tx}); err != nil {
			return err
		}
		return tx.Commit()
	})
}

type sqlTx struct {
	tx *sql.Tx
}

// DeleteByIDs deletes rows of table whose column is in ids
func (t *sqlTx) DeleteByIDs(ctx context.Context, table, column string, ids []int64) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	if err := checkIdent(column); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, column, placeholders(len(ids)))
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// TableExists reports whether table is present in the schema
func (t *sqlTx) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return count > 0, nil
}
