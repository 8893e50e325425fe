package contracts

import "time"

// Evidence kinds the policy engine weighs explicitly. Unknown kinds are
// accepted and scored at the default weight, not rejected.
const (
	EvidenceLearning        = "learning"
	EvidenceRenewableEnergy = "renewable_energy"
	EvidenceHealthcare      = "healthcare"
	EvidenceCivicWork       = "civic_work"
)

// ActivityEvidence is one typed item of supporting material inside a
// claim. Proofs are opaque URIs or attestation tokens; the core never
// dereferences them. GeoHint is a coarse region label only; exact
// coordinates are forbidden upstream.
type ActivityEvidence struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Proofs      []string `json:"proofs,omitempty"`
	EnergyKWH   *float64 `json:"energy_kwh,omitempty"`
	GeoHint     string   `json:"geo_hint,omitempty"`
}

// ActivityClaim is an actor's assertion of rights-bearing activity.
// ActorID is an opaque identifier, never PII.
type ActivityClaim struct {
	ActorID   string             `json:"actor_id"`
	Timestamp time.Time          `json:"timestamp"`
	Evidences []ActivityEvidence `json:"evidences"`
}

// VerdictKind buckets a policy score.
type VerdictKind string

const (
	VerdictApprove VerdictKind = "approve"
	VerdictReview  VerdictKind = "review"
	VerdictReject  VerdictKind = "reject"
)

// Verdict is the policy engine's deterministic output for a claim.
// Score is rounded to three decimals before it leaves the engine;
// PolicyTags are emitted sorted so equal inputs yield equal bytes.
type Verdict struct {
	Score       float64     `json:"score"`
	Verdict     VerdictKind `json:"verdict"`
	Rationale   string      `json:"rationale"`
	Obligations []string    `json:"obligations"`
	PolicyTags  []string    `json:"policy_tags"`
}
