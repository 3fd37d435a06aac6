package domain

import "time"

type NodeStatus string

const (
	NodeStatusActive     NodeStatus = "active"
	NodeStatusDeprecated NodeStatus = "deprecated"
)

// TaxonomyNode is one concept in the taxonomy DAG. The ID is immutable
// once created; the only legal status transition is active -> deprecated.
type TaxonomyNode struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	Status       NodeStatus        `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	IntroducedIn int64             `json:"introduced_in"`
	RemovedIn    *int64            `json:"removed_in,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// TaxonomyEdge is a parent->child relation. Edges are never physically
// deleted; removal sets RemovedIn to the first version the edge is
// absent from.
type TaxonomyEdge struct {
	ID           string    `json:"id"`
	ParentID     string    `json:"parent_id"`
	ChildID      string    `json:"child_id"`
	IntroducedIn int64     `json:"introduced_in"`
	RemovedIn    *int64    `json:"removed_in,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TaxonomyVersion is an immutable snapshot label. IDs are monotonic and
// the ParentID chain forms a linear history; a rollback appends a new
// version, it never rewrites older ones.
type TaxonomyVersion struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionHead selects the current working state (all rows not yet
// version-bounded) instead of a committed snapshot.
const VersionHead int64 = 0
