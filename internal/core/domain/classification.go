package domain

type AssignmentMethod string

const (
	MethodRule  AssignmentMethod = "rule"
	MethodModel AssignmentMethod = "model"
	MethodHuman AssignmentMethod = "human"
)

// Subject is the unit being classified: a document or a chunk.
type Subject struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// AssignmentCandidate is a proposed node membership before the
// confidence gate has decided its fate.
type AssignmentCandidate struct {
	SubjectID  string           `json:"subject_id"`
	NodeID     string           `json:"node_id"`
	NodeLabel  string           `json:"node_label,omitempty"`
	Confidence float64          `json:"confidence"`
	Method     AssignmentMethod `json:"method"`
	Version    int64            `json:"version"`
}

type CandidateOutcome string

const (
	OutcomeCommitted  CandidateOutcome = "committed"
	OutcomeQueued     CandidateOutcome = "queued"
	OutcomeUnassigned CandidateOutcome = "unassigned"
)

// CandidateDecision records what the confidence gate did with one
// candidate. ReviewItemID is set only for queued candidates.
type CandidateDecision struct {
	Candidate    AssignmentCandidate `json:"candidate"`
	Outcome      CandidateOutcome    `json:"outcome"`
	ReviewItemID string              `json:"review_item_id,omitempty"`
}

type ClassifyResult struct {
	SubjectID string              `json:"subject_id"`
	Version   int64               `json:"version"`
	Decisions []CandidateDecision `json:"decisions"`
}

// LabelOption is one allowed choice handed to the model classifier.
type LabelOption struct {
	NodeID string `json:"node_id"`
	Label  string `json:"label"`
}

// ModelChoice is the model classifier's answer: a label from the
// allowed set plus a self-reported confidence in [0,1].
type ModelChoice struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
