package checkpoint

import (
	"context"
	"errors"
	"sort"
	"time"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/node"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run id has no stored header
var ErrRunNotFound = errors.New("run not found")

// ChunkStatus represents the stored outcome of one chunk
type ChunkStatus string

const (
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

// ChunkRecord represents a chunk outcome in the checkpoint store
type ChunkRecord struct {
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	Size      int           `json:"size"`
	Status    ChunkStatus   `json:"status"`
	Deleted   int64         `json:"deleted"`
	Revisions int64         `json:"revisions"`
	FieldRows int64         `json:"field_rows"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	LastError string        `json:"last_error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Run is a stored run: its last saved state, the frozen plan and the chunk outcomes
type Run struct {
	State   batch.State
	Chunks  []node.Chunk
	Records map[int]ChunkRecord
}

// Pending returns the planned chunks without a completed record, in plan order
func (r *Run) Pending() []node.Chunk {
	var pending []node.Chunk
	for _, c := range r.Chunks {
		if rec, ok := r.Records[c.Index]; ok && rec.Status == ChunkCompleted {
			continue
		}
		pending = append(pending, c)
	}
	return pending
}

// ResumeState rebuilds the state from the stored plan and the completed chunk
// records. Failed chunks are left out so they run again. Rows a failed chunk
// did commit stay counted.
func (r *Run) ResumeState() batch.State {
	st := batch.NewState(r.State.RunID, r.State.Mode, r.State.Filter(), r.Chunks, r.State.ChunkSize)
	st.ExportPath = r.State.ExportPath

	indexes := make([]int, 0, len(r.Records))
	for idx := range r.Records {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		rec := r.Records[idx]
		st.DeletedCount += rec.Deleted
		if rec.Status != ChunkCompleted {
			continue
		}
		st.ProcessedChunks++
		st.ProcessedCount += int64(rec.Size)
		st.Elapsed += rec.Duration
	}

	if st.ProcessedChunks > 0 || st.DeletedCount > 0 {
		st.Status = batch.StatusRunning
		st.StartedAt = r.State.StartedAt
		st.UpdatedAt = r.State.UpdatedAt
	}
	return st
}

// Store defines the interface for run persistence
type Store interface {
	batch.Checkpointer

	CreateRun(ctx context.Context, st batch.State, chunks []node.Chunk) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]batch.State, error)

	Close() error
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.NewString()
}

// recordFor converts an applied chunk result into its stored form
func recordFor(runID string, res batch.ChunkResult) ChunkRecord {
	rec := ChunkRecord{
		RunID:     runID,
		Index:     res.Index,
		Size:      res.Size,
		Status:    ChunkCompleted,
		Deleted:   res.Deleted,
		Revisions: res.Details.Revisions,
		FieldRows: res.Details.FieldRows,
		Attempts:  res.Attempts,
		Duration:  res.Duration,
		UpdatedAt: time.Now(),
	}
	if res.Err != nil {
		rec.Status = ChunkFailed
		rec.LastError = res.Err.Error()
	}
	return rec
}
