package domain

import "time"

// Assignment is a subject's membership on a taxonomy node. At most one
// active assignment may exist per (subject, node) pair; superseded rows
// keep their SupersededAt timestamp and are never deleted.
type Assignment struct {
	ID           string           `json:"id"`
	SubjectID    string           `json:"subject_id"`
	NodeID       string           `json:"node_id"`
	Confidence   float64          `json:"confidence"`
	Method       AssignmentMethod `json:"method"`
	Version      int64            `json:"version"`
	AssignedAt   time.Time        `json:"assigned_at"`
	SupersededAt *time.Time       `json:"superseded_at,omitempty"`
}
