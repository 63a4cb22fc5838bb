package batch

import (
	"fmt"
	"time"

	"nodebulkdelete/internal/node"
)

// Mode selects between simulation and real deletion
type Mode string

const (
	ModeSimulate Mode = "simulate"
	ModeDelete   Mode = "delete"
)

// Status is the lifecycle position of a run
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further chunks may be applied
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// ChunkResult is the outcome of processing one chunk
type ChunkResult struct {
	Index    int           `json:"index"`
	Size     int           `json:"size"`
	Deleted  int64         `json:"deleted"`
	Details  DeleteDetails `json:"details"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// DeleteDetails counts dependent rows removed alongside the core rows
type DeleteDetails struct {
	Revisions int64 `json:"revisions"`
	FieldRows int64 `json:"field_rows"`
}

// Failed reports whether the chunk hit an error
func (r ChunkResult) Failed() bool {
	return r.Err != nil
}

// State is the progress accumulator carried between chunk invocations.
// It is a plain value: every step returns the next state.
type State struct {
	RunID           string        `json:"run_id"`
	Mode            Mode          `json:"mode"`
	Status          Status        `json:"status"`
	ContentType     string        `json:"content_type"`
	RangeStart      time.Time     `json:"range_start"`
	RangeEnd        time.Time     `json:"range_end"`
	ChunkSize       int           `json:"chunk_size"`
	TotalChunks     int           `json:"total_chunks"`
	TotalExpected   int64         `json:"total_expected"`
	ProcessedChunks int           `json:"processed_chunks"`
	ProcessedCount  int64         `json:"processed_count"`
	DeletedCount    int64         `json:"deleted_count"`
	FailedChunks    int           `json:"failed_chunks"`
	ExportPath      string        `json:"export_path,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewState fixes the expected totals at plan time
func NewState(runID string, mode Mode, filter node.Filter, chunks []node.Chunk, chunkSize int) State {
	var total int64
	for _, c := range chunks {
		total += int64(c.Len())
	}

	return State{
		RunID:         runID,
		Mode:          mode,
		Status:        StatusNotStarted,
		ContentType:   filter.ContentType,
		RangeStart:    filter.Start,
		RangeEnd:      filter.End,
		ChunkSize:     chunkSize,
		TotalChunks:   len(chunks),
		TotalExpected: total,
	}
}

// Filter rebuilds the filter the run was planned with
func (s State) Filter() node.Filter {
	return node.Filter{ContentType: s.ContentType, Start: s.RangeStart, End: s.RangeEnd}
}

// Apply folds one chunk result into the state
func (s State) Apply(res ChunkResult) State {
	now := time.Now()
	if s.Status == StatusNotStarted {
		s.Status = StatusRunning
		s.StartedAt = now
	}

	s.ProcessedChunks++
	s.ProcessedCount += int64(res.Size)
	s.DeletedCount += res.Deleted
	s.Elapsed += res.Duration
	s.UpdatedAt = now

	if res.Err != nil {
		s.FailedChunks++
		s.LastError = fmt.Sprintf("chunk %d: %v", res.Index, res.Err)
	}
	return s
}

// Finish moves the state to its terminal status. ok=false means the
// scheduler aborted the run; committed chunks stay deleted.
func (s State) Finish(ok bool) State {
	s.UpdatedAt = time.Now()
	if s.StartedAt.IsZero() {
		s.StartedAt = s.UpdatedAt
	}

	switch {
	case !ok:
		s.Status = StatusFailed
	case s.DeletedCount == s.TotalExpected:
		s.Status = StatusCompleted
	default:
		s.Status = StatusPartial
	}
	return s
}

// Done reports whether every planned chunk has been applied
func (s State) Done() bool {
	return s.ProcessedChunks >= s.TotalChunks
}
