package batch

import (
	"fmt"

	"nodebulkdelete/internal/node"
)

const (
	// DefaultSimulateChunkSize favours reporting throughput
	DefaultSimulateChunkSize = 100
	// DefaultDeleteChunkSize bounds the rows committed per chunk
	DefaultDeleteChunkSize = 20
)

// Plan partitions refs into consecutive chunks of size, preserving order.
// The last chunk may be shorter; no refs yields no chunks.
func Plan(refs []node.Ref, size int) ([]node.Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	chunks := make([]node.Chunk, 0, (len(refs)+size-1)/size)
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		part := make([]node.Ref, end-start)
		copy(part, refs[start:end])
		chunks = append(chunks, node.Chunk{Index: len(chunks), Refs: part})
	}
	return chunks, nil
}

// ChunkSize returns the configured chunk size for mode
func ChunkSize(mode Mode, simulateSize, deleteSize int) int {
	if mode == ModeSimulate {
		if simulateSize > 0 {
			return simulateSize
		}
		return DefaultSimulateChunkSize
	}
	if deleteSize > 0 {
		return deleteSize
	}
	return DefaultDeleteChunkSize
}
