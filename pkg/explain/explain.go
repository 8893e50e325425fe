// Package explain produces the evidence blobs attached to decision
// records: a feature-importance explanation document, a rendered bar
// chart of the top factors, and the confidence-threshold proof stub.
// Everything here is pure computation; persistence belongs to the
// artifact store and the ledger wires the two together.
package explain

import (
	"sort"
	"time"
)

// ConfidenceThreshold is the bar a decision's confidence is checked
// against in the proof stub.
const ConfidenceThreshold = 0.8

// MethodFeatureImportance is the only explanation method produced.
const MethodFeatureImportance = "feature_importance"

// maxTopFactors bounds the explanation to the strongest signals.
const maxTopFactors = 5

// Factor is one feature with its signed contribution to the outcome.
type Factor struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// Explanation is the stored explanation document.
type Explanation struct {
	Method       string   `json:"method"`
	ModelID      string   `json:"model_id"`
	ModelVersion string   `json:"model_version"`
	DecisionID   string   `json:"decision_id"`
	Outcome      string   `json:"outcome"`
	Confidence   float64  `json:"confidence"`
	TopFactors   []Factor `json:"top_factors"`
	GeneratedAt  string   `json:"generated_at"`
}

// Build ranks features by absolute contribution (ties break on the
// feature name, so output is deterministic) and keeps the top five.
// Nil or empty features yield an explanation with no factors.
func Build(decisionID, modelID, modelVersion, outcome string, confidence float64, features map[string]float64, now time.Time) Explanation {
	factors := make([]Factor, 0, len(features))
	for name, contribution := range features {
		factors = append(factors, Factor{Feature: name, Contribution: contribution})
	}
	sort.Slice(factors, func(i, j int) bool {
		ai, aj := abs(factors[i].Contribution), abs(factors[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return factors[i].Feature < factors[j].Feature
	})
	if len(factors) > maxTopFactors {
		factors = factors[:maxTopFactors]
	}

	return Explanation{
		Method:       MethodFeatureImportance,
		ModelID:      modelID,
		ModelVersion: modelVersion,
		DecisionID:   decisionID,
		Outcome:      outcome,
		Confidence:   confidence,
		TopFactors:   factors,
		GeneratedAt:  now.UTC().Format(time.RFC3339),
	}
}

// ProofStub is the confidence-threshold attestation attached to each
// decision. It is a stated placeholder, not a cryptographic proof.
type ProofStub struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Valid      bool    `json:"valid"`
	DecisionID string  `json:"decision_id"`
	TS         string  `json:"ts"`
}

// BuildProofStub attests whether confidence clears the threshold.
func BuildProofStub(decisionID string, confidence float64, now time.Time) ProofStub {
	return ProofStub{
		Type:       "confidence_threshold",
		Confidence: confidence,
		Threshold:  ConfidenceThreshold,
		Valid:      confidence >= ConfidenceThreshold,
		DecisionID: decisionID,
		TS:         now.UTC().Format(time.RFC3339),
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
