package node

import "fmt"

// Op is a query predicate operator
type Op string

const (
	OpEq  Op = "="
	OpGte Op = ">="
	OpLte Op = "<="
	OpIn  Op = "IN"
)

// Condition is one predicate on a node column
type Condition struct {
	Column string
	Op     Op
	Value  interface{}
}

// Query is an immutable description of a filtered node query
type Query struct {
	conditions  []Condition
	accessCheck bool
}

// NewQuery returns an empty query
func NewQuery() Query {
	return Query{}
}

// Condition returns a copy of q with the predicate appended
func (q Query) Condition(column string, value interface{}, op Op) Query {
	conds := make([]Condition, len(q.conditions), len(q.conditions)+1)
	copy(conds, q.conditions)
	q.conditions = append(conds, Condition{Column: column, Op: op, Value: value})
	return q
}

// AccessCheck returns a copy of q with access checking toggled
func (q Query) AccessCheck(enabled bool) Query {
	q.accessCheck = enabled
	return q
}

// Conditions returns the predicates in insertion order
func (q Query) Conditions() []Condition {
	out := make([]Condition, len(q.conditions))
	copy(out, q.conditions)
	return out
}

// AccessChecked reports whether access checking is enabled
func (q Query) AccessChecked() bool {
	return q.accessCheck
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Column, c.Op, c.Value)
}

// ForType builds the type-only query used for the total count
func ForType(contentType string) Query {
	return NewQuery().Condition("type", contentType, OpEq).AccessCheck(true)
}

// ForFilter builds the type + inclusive created range query
func ForFilter(f Filter) Query {
	return ForType(f.ContentType).
		Condition("created", f.Start.Unix(), OpGte).
		Condition("created", f.End.Unix(), OpLte)
}
