package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current run progress
type Status struct {
	TotalChunks     int64         // chunks in the plan
	ProcessedChunks int64         // chunks applied, failed ones included
	FailedChunks    int64         // chunks that hit an error
	TotalNodes      int64         // nodes expected at plan time
	ProcessedNodes  int64         // nodes in applied chunks
	DeletedNodes    int64         // core rows actually removed
	StartTime       time.Time     // start of this attempt
	LastUpdateTime  time.Time
	CurrentSpeed    float64       // nodes/second over the last 5s
	AverageSpeed    float64       // nodes/second since start
	ETA             time.Duration
}

// Tracker tracks run progress
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
	// nodes processed since StartTime, restored ones excluded
	sessionNodes int64
}

type speedSample struct {
	timestamp time.Time
	nodes     int64
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		status: Status{
			StartTime:      time.Now(),
			LastUpdateTime: time.Now(),
		},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
	}
}

// SetTotal sets the number of planned chunks and nodes
func (t *Tracker) SetTotal(chunks, nodes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.TotalChunks = chunks
	t.status.TotalNodes = nodes
}

// Restore seeds counters carried over from an earlier attempt of the run.
// Restored nodes do not count towards the speed.
func (t *Tracker) Restore(chunks, nodes, deleted int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ProcessedChunks = chunks
	t.status.ProcessedNodes = nodes
	t.status.DeletedNodes = deleted
}

// AddChunk records one applied chunk of size nodes
func (t *Tracker) AddChunk(size, deleted int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.ProcessedChunks++
	t.status.ProcessedNodes += size
	t.status.DeletedNodes += deleted
	t.sessionNodes += size
	if failed {
		t.status.FailedChunks++
	}
	t.updateSpeed(size)
}

// updateSpeed updates the speed calculation (must be called with lock held)
func (t *Tracker) updateSpeed(nodes int64) {
	now := time.Now()

	t.speedSamples = append(t.speedSamples, speedSample{
		timestamp: now,
		nodes:     nodes,
	})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
	t.calculateETA()

	t.status.LastUpdateTime = now
}

// calculateCurrentSpeed calculates current speed based on recent samples
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recentNodes int64
	var firstSample *speedSample

	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentNodes += sample.nodes
		firstSample = sample
	}

	if firstSample != nil {
		if d := now.Sub(firstSample.timestamp); d > 0 {
			t.status.CurrentSpeed = float64(recentNodes) / d.Seconds()
		}
	}
}

// calculateAverageSpeed calculates average speed since start
func (t *Tracker) calculateAverageSpeed(now time.Time) {
	if elapsed := now.Sub(t.status.StartTime); elapsed > 0 {
		t.status.AverageSpeed = float64(t.sessionNodes) / elapsed.Seconds()
	}
}

// calculateETA calculates estimated time to completion
func (t *Tracker) calculateETA() {
	if t.status.TotalNodes == 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}

	remaining := t.status.TotalNodes - t.status.ProcessedNodes
	if remaining <= 0 {
		t.status.ETA = 0
		return
	}

	t.status.ETA = time.Duration(float64(remaining)/t.status.AverageSpeed) * time.Second
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

// GetProgressPercent returns the chunk progress percentage
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalChunks == 0 {
		return 0
	}
	return float64(t.status.ProcessedChunks) / float64(t.status.TotalChunks) * 100
}

// GetNodesProgressPercent returns the node progress percentage
func (t *Tracker) GetNodesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalNodes == 0 {
		return 0
	}
	return float64(t.status.ProcessedNodes) / float64(t.status.TotalNodes) * 100
}

// FormatSpeed formats a node rate
func FormatSpeed(nodesPerSecond float64) string {
	return fmt.Sprintf("%.1f nodos/s", nodesPerSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "calculando..."
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
