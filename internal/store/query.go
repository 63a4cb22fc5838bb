package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nodebulkdelete/internal/node"
)

var queryColumns = map[string]bool{
	"nid":     true,
	"type":    true,
	"status":  true,
	"created": true,
}

// buildWhere renders the predicates of q as a WHERE clause with bound args
func (s *SQLiteStore) buildWhere(q node.Query) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}

	for _, cond := range q.Conditions() {
		if !queryColumns[cond.Column] {
			return "", nil, fmt.Errorf("unsupported query column %q", cond.Column)
		}

		switch cond.Op {
		case node.OpEq, node.OpGte, node.OpLte:
			clauses = append(clauses, fmt.Sprintf("%s %s ?", cond.Column, cond.Op))
			args = append(args, cond.Value)
		case node.OpIn:
			values, err := inValues(cond.Value)
			if err != nil {
				return "", nil, fmt.Errorf("condition %s: %w", cond, err)
			}
			if len(values) == 0 {
				clauses = append(clauses, "0 = 1")
				continue
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", cond.Column, placeholders(len(values))))
			args = append(args, values...)
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}

	if q.AccessChecked() && !s.opts.BypassAccess {
		clauses = append(clauses, "status = 1")
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func inValues(v interface{}) ([]interface{}, error) {
	switch vals := v.(type) {
	case []int64:
		out := make([]interface{}, len(vals))
		for i, id := range vals {
			out[i] = id
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out, nil
	case []interface{}:
		return vals, nil
	default:
		return nil, fmt.Errorf("IN expects a slice, got %T", v)
	}
}

// Count returns the number of nodes matching q
func (s *SQLiteStore) Count(ctx context.Context, q node.Query) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	where, args, err := s.buildWhere(q)
	if err != nil {
		return 0, err
	}

	var count int64
	err = RetryOnBusy(func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM node"+where, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// IDs returns the ids of nodes matching q in ascending order
func (s *SQLiteStore) IDs(ctx context.Context, q node.Query) ([]int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	where, args, err := s.buildWhere(q)
	if err != nil {
		return nil, err
	}

	var ids []int64
	err = RetryOnBusy(func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, "SELECT nid FROM node"+where+" ORDER BY nid ASC", args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list node ids: %w", err)
	}
	return ids, nil
}

// ContentTypes lists the defined node types ordered by label
func (s *SQLiteStore) ContentTypes(ctx context.Context) ([]node.ContentType, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, label FROM node_type ORDER BY label ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list content types: %w", err)
	}
	defer rows.Close()

	var types []node.ContentType
	for rows.Next() {
		var ct node.ContentType
		if err := rows.Scan(&ct.ID, &ct.Label); err != nil {
			return nil, err
		}
		types = append(types, ct)
	}
	return types, rows.Err()
}

// AliasByPath returns the alias registered for path, or path itself
func (s *SQLiteStore) AliasByPath(ctx context.Context, path string) (string, error) {
	var alias string
	err := s.db.QueryRowContext(ctx, "SELECT alias FROM path_alias WHERE path = ?", path).Scan(&alias)
	if err == sql.ErrNoRows {
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve alias for %s: %w", path, err)
	}
	return alias, nil
}
