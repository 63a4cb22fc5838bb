package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/node"
	"nodebulkdelete/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite checkpoint store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", store.DSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		content_type TEXT NOT NULL,
		range_start INTEGER NOT NULL,
		range_end INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		total_chunks INTEGER NOT NULL,
		total_expected INTEGER NOT NULL,
		processed_chunks INTEGER NOT NULL DEFAULT 0,
		processed_count INTEGER NOT NULL DEFAULT 0,
		deleted_count INTEGER NOT NULL DEFAULT 0,
		failed_chunks INTEGER NOT NULL DEFAULT 0,
		export_path TEXT,
		last_error TEXT,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS run_items (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		nid INTEGER NOT NULL,
		path TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE TABLE IF NOT EXISTS run_chunks (
		run_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		revisions INTEGER NOT NULL DEFAULT 0,
		field_rows INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_run_chunks_status ON run_chunks(run_id, status);
	`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}
	return nil
}

// write serializes writers and runs fn in a transaction, retrying while busy
func (s *SQLiteStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return store.RetryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() // This will be ignored if Commit() succeeds

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// CreateRun stores the run header and its frozen plan
func (s *SQLiteStore) CreateRun(ctx context.Context, st batch.State, chunks []node.Chunk) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, mode, status, content_type, range_start, range_end, chunk_size,
		 total_chunks, total_expected, export_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.RunID, st.Mode, st.Status, st.ContentType,
			unixMilli(st.RangeStart), unixMilli(st.RangeEnd), st.ChunkSize,
			st.TotalChunks, st.TotalExpected, st.ExportPath, unixMilli(time.Now()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_items (run_id, position, chunk_index, nid, path) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		position := 0
		for _, c := range chunks {
			for _, ref := range c.Refs {
				if _, err := stmt.ExecContext(ctx, st.RunID, position, c.Index, ref.ID, ref.Path); err != nil {
					return fmt.Errorf("failed to insert plan item: %w", err)
				}
				position++
			}
		}
		return nil
	})
}

// SaveChunk records one chunk outcome together with the state it produced.
// Deleted rows accumulate across attempts of the same chunk.
func (s *SQLiteStore) SaveChunk(ctx context.Context, st batch.State, res batch.ChunkResult) error {
	rec := recordFor(st.RunID, res)

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO run_chunks
		(run_id, chunk_index, size, status, deleted, revisions, field_rows, attempts, duration_ms, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, chunk_index) DO UPDATE SET
			status = excluded.status,
			deleted = run_chunks.deleted + excluded.deleted,
			revisions = run_chunks.revisions + excluded.revisions,
			field_rows = run_chunks.field_rows + excluded.field_rows,
			attempts = run_chunks.attempts + excluded.attempts,
			duration_ms = excluded.duration_ms,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
			rec.RunID, rec.Index, rec.Size, rec.Status, rec.Deleted, rec.Revisions, rec.FieldRows,
			rec.Attempts, rec.Duration.Milliseconds(), rec.LastError, unixMilli(rec.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save chunk: %w", err)
		}
		return updateRun(ctx, tx, st)
	})
}

// SaveState stores the run state
func (s *SQLiteStore) SaveState(ctx context.Context, st batch.State) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		return updateRun(ctx, tx, st)
	})
}

func updateRun(ctx context.Context, tx *sql.Tx, st batch.State) error {
	res, err := tx.ExecContext(ctx, `
	UPDATE runs SET
		status = ?, processed_chunks = ?, processed_count = ?, deleted_count = ?,
		failed_chunks = ?, export_path = ?, last_error = ?, elapsed_ms = ?,
		started_at = ?, updated_at = ?
	WHERE run_id = ?`,
		st.Status, st.ProcessedChunks, st.ProcessedCount, st.DeletedCount,
		st.FailedChunks, st.ExportPath, st.LastError, st.Elapsed.Milliseconds(),
		unixMilli(st.StartedAt), unixMilli(st.UpdatedAt), st.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, st.RunID)
	}
	return nil
}

const runColumns = `run_id, mode, status, content_type, range_start, range_end, chunk_size,
	total_chunks, total_expected, processed_chunks, processed_count, deleted_count,
	failed_chunks, export_path, last_error, elapsed_ms, started_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (batch.State, error) {
	var st batch.State
	var exportPath, lastError sql.NullString
	var rangeStart, rangeEnd, elapsed, startedAt, updatedAt int64

	err := row.Scan(
		&st.RunID, &st.Mode, &st.Status, &st.ContentType, &rangeStart, &rangeEnd, &st.ChunkSize,
		&st.TotalChunks, &st.TotalExpected, &st.ProcessedChunks, &st.ProcessedCount, &st.DeletedCount,
		&st.FailedChunks, &exportPath, &lastError, &elapsed, &startedAt, &updatedAt,
	)
	if err != nil {
		return st, err
	}

	st.RangeStart = fromUnixMilli(rangeStart)
	st.RangeEnd = fromUnixMilli(rangeEnd)
	st.Elapsed = time.Duration(elapsed) * time.Millisecond
	st.StartedAt = fromUnixMilli(startedAt)
	st.UpdatedAt = fromUnixMilli(updatedAt)
	if exportPath.Valid {
		st.ExportPath = exportPath.String
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}
	return st, nil
}

// GetRun loads a run with its plan and chunk records
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	st, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	chunks, err := s.loadPlan(ctx, runID, st.TotalChunks)
	if err != nil {
		return nil, err
	}
	records, err := s.loadChunks(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &Run{State: st, Chunks: chunks, Records: records}, nil
}

func (s *SQLiteStore) loadPlan(ctx context.Context, runID string, totalChunks int) ([]node.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT chunk_index, nid, path FROM run_items WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	defer rows.Close()

	chunks := make([]node.Chunk, 0, totalChunks)
	for rows.Next() {
		var idx int
		var ref node.Ref
		if err := rows.Scan(&idx, &ref.ID, &ref.Path); err != nil {
			return nil, err
		}
		if n := len(chunks); n == 0 || chunks[n-1].Index != idx {
			chunks = append(chunks, node.Chunk{Index: idx})
		}
		last := &chunks[len(chunks)-1]
		last.Refs = append(last.Refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(chunks) != totalChunks {
		return nil, fmt.Errorf("stored plan of run %s has %d chunks, expected %d", runID, len(chunks), totalChunks)
	}
	return chunks, nil
}

func (s *SQLiteStore) loadChunks(ctx context.Context, runID string) (map[int]ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT chunk_index, size, status, deleted, revisions, field_rows, attempts, duration_ms, last_error, updated_at
	FROM run_chunks WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk records: %w", err)
	}
	defer rows.Close()

	records := make(map[int]ChunkRecord)
	for rows.Next() {
		rec := ChunkRecord{RunID: runID}
		var lastError sql.NullString
		var duration, updatedAt int64

		err := rows.Scan(
			&rec.Index, &rec.Size, &rec.Status, &rec.Deleted, &rec.Revisions, &rec.FieldRows,
			&rec.Attempts, &duration, &lastError, &updatedAt,
		)
		if err != nil {
			return nil, err
		}

		rec.Duration = time.Duration(duration) * time.Millisecond
		rec.UpdatedAt = fromUnixMilli(updatedAt)
		if lastError.Valid {
			rec.LastError = lastError.String
		}
		records[rec.Index] = rec
	}

	return records, rows.Err()
}

// ListRuns returns the stored run states, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]batch.State, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []batch.State
	for rows.Next() {
		st, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, st)
	}

	return runs, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}

// Zero times are stored as 0
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
