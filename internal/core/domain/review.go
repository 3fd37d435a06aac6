package domain

import "time"

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusResolved ReviewStatus = "resolved"
	ReviewStatusExpired  ReviewStatus = "expired"
)

// ReviewDecision is the human verdict for a pending item: either a
// final node id or an outright reject.
type ReviewDecision struct {
	NodeID   string `json:"node_id,omitempty"`
	Reject   bool   `json:"reject"`
	Reviewer string `json:"reviewer"`
}

// Resolution is the recorded outcome. Once set it is immutable.
type Resolution struct {
	NodeID    string    `json:"node_id,omitempty"`
	Rejected  bool      `json:"rejected"`
	Reviewer  string    `json:"reviewer"`
	DecidedAt time.Time `json:"decided_at"`
}

// ReviewItem is one pending adjudication. Status moves monotonically
// pending -> resolved or pending -> expired.
type ReviewItem struct {
	ID          string              `json:"id"`
	Candidate   AssignmentCandidate `json:"candidate"`
	SLADeadline time.Time           `json:"sla_deadline"`
	Status      ReviewStatus        `json:"status"`
	Resolution  *Resolution         `json:"resolution,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ReviewFilter pages pending items in ascending deadline order so the
// earliest-due item surfaces first. AfterID restarts a listing from a
// previous page's last item.
type ReviewFilter struct {
	Status  ReviewStatus
	NodeID  string
	Limit   int
	AfterID string
}

type FeedbackDecision string

const (
	FeedbackAccepted   FeedbackDecision = "accepted"
	FeedbackOverridden FeedbackDecision = "overridden"
	FeedbackRejected   FeedbackDecision = "rejected"
)

// FeedbackRecord ties a human verdict back to the automated candidate
// it judged, for later threshold calibration.
type FeedbackRecord struct {
	ID                  string           `json:"id"`
	ItemID              string           `json:"item_id"`
	SubjectID           string           `json:"subject_id"`
	CandidateNodeID     string           `json:"candidate_node_id"`
	CandidateConfidence float64          `json:"candidate_confidence"`
	CandidateMethod     AssignmentMethod `json:"candidate_method"`
	Decision            FeedbackDecision `json:"decision"`
	FinalNodeID         string           `json:"final_node_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}
