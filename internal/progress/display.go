package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display handles the progress display
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	title    string
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer, title string) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		title:    title,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the progress display and waits for the final frame
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.tracker.GetStatus()), "\n"))
			return
		}
	}
}

func (d *Display) generateDisplay(status Status) []string {
	lines := []string{
		"",
		d.title,
		strings.Repeat("=", 51),
		fmt.Sprintf("Lotes: %d/%d (%.1f%%)", status.ProcessedChunks, status.TotalChunks, d.tracker.GetProgressPercent()),
		"    " + generateProgressBar(d.tracker.GetProgressPercent(), 40),
		fmt.Sprintf("Nodos: %d/%d (%.1f%%)", status.ProcessedNodes, status.TotalNodes, d.tracker.GetNodesProgressPercent()),
		"    " + generateProgressBar(d.tracker.GetNodesProgressPercent(), 40),
		fmt.Sprintf("  Eliminados: %d", status.DeletedNodes),
		fmt.Sprintf("  Lotes fallidos: %d", status.FailedChunks),
		fmt.Sprintf("  Velocidad actual: %s", FormatSpeed(status.CurrentSpeed)),
		fmt.Sprintf("  Velocidad media: %s", FormatSpeed(status.AverageSpeed)),
		fmt.Sprintf("  Tiempo transcurrido: %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("  Tiempo restante: %s", FormatDuration(status.ETA)),
	}
	if status.ETA > 0 {
		lines = append(lines, fmt.Sprintf("  Fin estimado: %s", time.Now().Add(status.ETA).Format("15:04:05")))
	}
	return lines
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		d.title + " - finalizado",
		strings.Repeat("=", 51),
		fmt.Sprintf("Lotes procesados: %d/%d", status.ProcessedChunks, status.TotalChunks),
		fmt.Sprintf("Nodos procesados: %d/%d", status.ProcessedNodes, status.TotalNodes),
		fmt.Sprintf("Eliminados: %d", status.DeletedNodes),
		fmt.Sprintf("Lotes fallidos: %d", status.FailedChunks),
		fmt.Sprintf("Tiempo total: %s", FormatDuration(time.Since(status.StartTime))),
		fmt.Sprintf("Velocidad media: %s", FormatSpeed(status.AverageSpeed)),
		"",
	}
}

func generateProgressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %.1f%%", bar, percent)
}

// IsTerminalSupported reports whether stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
