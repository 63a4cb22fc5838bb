package node

import (
	"fmt"
	"time"
)

// Ref identifies one node selected for action
type Ref struct {
	ID   int64  `json:"nid"`
	Path string `json:"path"`
}

// Chunk is an ordered slice of refs processed as one unit of work
type Chunk struct {
	Index int   `json:"index"`
	Refs  []Ref `json:"refs"`
}

// IDs returns the node ids of the chunk in order
func (c Chunk) IDs() []int64 {
	ids := make([]int64, len(c.Refs))
	for i, ref := range c.Refs {
		ids[i] = ref.ID
	}
	return ids
}

// Len returns the number of refs in the chunk
func (c Chunk) Len() int {
	return len(c.Refs)
}

// ContentType is a selectable node bundle
type ContentType struct {
	ID    string `json:"type" yaml:"type"`
	Label string `json:"label" yaml:"label"`
}

// Counts is the result of a count query
type Counts struct {
	Total    int64 `json:"total"`
	ToDelete int64 `json:"to_delete"`
}

// SystemPath returns the unaliased path of a node
func SystemPath(id int64) string {
	return fmt.Sprintf("/node/%d", id)
}

// Filter selects nodes of one content type created inside an inclusive UTC range.
// The zero time marks an absent bound.
type Filter struct {
	ContentType string
	Start       time.Time
	End         time.Time
}

// HasRange reports whether both bounds are present
func (f Filter) HasRange() bool {
	return !f.Start.IsZero() && !f.End.IsZero()
}

const (
	// TableNode holds the core node rows keyed by nid
	TableNode = "node"
	// TableRevision holds node revisions keyed by nid
	TableRevision = "node_revision"
	ColumnID       = "nid"
	ColumnEntityID = "entity_id"
)

// FieldDataTable is the primary data table of a field
func FieldDataTable(field string) string {
	return "node__" + field
}

// FieldRevisionTable is the revision data table of a field
func FieldRevisionTable(field string) string {
	return "node_revision__" + field
}
