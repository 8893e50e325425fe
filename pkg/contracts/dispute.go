package contracts

import "time"

// DisputeStatus is the monotonic lifecycle state of a dispute.
// Transitions only move forward: open → in_review → resolved → closed.
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeInReview DisputeStatus = "in_review"
	DisputeResolved DisputeStatus = "resolved"
	DisputeClosed   DisputeStatus = "closed"
)

// rank orders statuses for monotonicity checks.
func (s DisputeStatus) rank() int {
	switch s {
	case DisputeOpen:
		return 0
	case DisputeInReview:
		return 1
	case DisputeResolved:
		return 2
	case DisputeClosed:
		return 3
	}
	return -1
}

// After reports whether s is strictly later in the lifecycle than other.
func (s DisputeStatus) After(other DisputeStatus) bool {
	return s.rank() > other.rank()
}

// Valid reports whether s is a recognized status.
func (s DisputeStatus) Valid() bool {
	return s.rank() >= 0
}

// DisputeCategory classifies why a decision is being challenged.
type DisputeCategory string

const (
	CategoryBias     DisputeCategory = "bias"
	CategoryAccuracy DisputeCategory = "accuracy"
	CategoryFairness DisputeCategory = "fairness"
	CategoryOther    DisputeCategory = "other"
)

// Valid reports whether c is a recognized category.
func (c DisputeCategory) Valid() bool {
	switch c {
	case CategoryBias, CategoryAccuracy, CategoryFairness, CategoryOther:
		return true
	}
	return false
}

// VoteChoice is a reviewer's position on a dispute.
type VoteChoice string

const (
	VoteSupportAI  VoteChoice = "support_ai"
	VoteOverturnAI VoteChoice = "overturn_ai"
	VoteAbstain    VoteChoice = "abstain"
)

// Valid reports whether v is a recognized choice.
func (v VoteChoice) Valid() bool {
	switch v {
	case VoteSupportAI, VoteOverturnAI, VoteAbstain:
		return true
	}
	return false
}

// Dispute is a structured challenge against a recorded decision,
// adjudicated by a fixed reviewer set via majority vote. Reviewers is
// ordered and frozen at assignment; Votes maps reviewer id to their
// latest choice (re-votes overwrite while in review). Resolution is the
// majority of support_ai/overturn_ai votes with ties favoring
// support_ai. ResolutionNotes is machine-written, never user input.
type Dispute struct {
	DisputeID            string                `json:"dispute_id"`
	DecisionID           string                `json:"decision_id"`
	Reason               string                `json:"reason"`
	Category             DisputeCategory       `json:"category"`
	SubmitterID          string                `json:"submitter_id,omitempty"`
	SubmittedAt          time.Time             `json:"submitted_at"`
	Status               DisputeStatus         `json:"status"`
	Reviewers            []string              `json:"reviewers,omitempty"`
	Votes                map[string]VoteChoice `json:"votes,omitempty"`
	Resolution           *VoteChoice           `json:"resolution,omitempty"`
	ResolvedAt           *time.Time            `json:"resolved_at,omitempty"`
	ResolutionNotes      string                `json:"resolution_notes,omitempty"`
	ModelUpdateRequired  bool                  `json:"model_update_required,omitempty"`
	PolicyChangeRequired bool                  `json:"policy_change_required,omitempty"`
}
