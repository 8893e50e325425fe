// Package policy maps activity claims to verdicts. Assess is a pure
// function of the claim and the injected clock: no I/O, no state, and
// bit-identical output for identical inputs at the same server time.
// Policy failures (no evidence, unknown kinds) are verdicts, never
// errors.
package policy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
)

// Authoritative per-kind weights. Operators may override via a profile;
// the builtin table is the default.
const (
	weightLearning  = 0.25
	weightRenewable = 0.40
	weightHealth    = 0.20
	weightCivic     = 0.15
	weightDefault   = 0.05

	energyBonusCap = 0.3
	proofBonus     = 0.10

	recencyPenalty = 0.1
	recencyWindow  = 90 * 24 * time.Hour

	approveThreshold = 0.60
	reviewThreshold  = 0.35
)

// Policy tags attached to verdicts.
const (
	TagEnergyBonus          = "energy_bonus"
	TagHasProof             = "has_proof"
	TagInsufficientEvidence = "insufficient_evidence"
)

// Obligation strings the engine emits verbatim.
const (
	obligationProvideProof    = "provide at least one verifiable proof"
	obligationStrongerProofs  = "submit stronger or more recent proofs"
	obligationRegionalContext = "add regional sustainability context if possible"
)

// Engine scores claims. Construct once with New and share freely; the
// engine is immutable after construction.
type Engine struct {
	weights       map[string]float64
	defaultWeight float64
	clock         func() time.Time
	rules         []compiledRule
}

// Option configures an Engine.
type Option func(*Engine) error

// WithClock fixes the engine's notion of server time. Tests pin this;
// production uses time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}

// WithProfile replaces the builtin weight table with a loaded profile
// and installs any obligation rules it declares.
func WithProfile(p *Profile) Option {
	return func(e *Engine) error {
		if err := p.validate(); err != nil {
			return err
		}
		weights := make(map[string]float64, len(p.Weights))
		for kind, w := range p.Weights {
			weights[kind] = w
		}
		e.weights = weights
		if p.DefaultWeight != nil {
			e.defaultWeight = *p.DefaultWeight
		}
		if len(p.Rules) > 0 {
			return WithRules(p.Rules...)(e)
		}
		return nil
	}
}

// New builds an engine with the builtin weight table and wall clock.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		weights: map[string]float64{
			contracts.EvidenceLearning:        weightLearning,
			contracts.EvidenceRenewableEnergy: weightRenewable,
			contracts.EvidenceHealthcare:      weightHealth,
			contracts.EvidenceCivicWork:       weightCivic,
		},
		defaultWeight: weightDefault,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Assess computes the verdict for a claim at the engine's current
// server time.
func (e *Engine) Assess(claim contracts.ActivityClaim) contracts.Verdict {
	if len(claim.Evidences) == 0 {
		return contracts.Verdict{
			Score:       0.0,
			Verdict:     contracts.VerdictReject,
			Rationale:   "no evidence",
			Obligations: []string{obligationProvideProof},
			PolicyTags:  []string{TagInsufficientEvidence},
		}
	}

	now := e.clock()
	penalty := 0.0
	if now.Sub(claim.Timestamp) > recencyWindow {
		penalty = recencyPenalty
	}

	score := 0.0
	tags := map[string]struct{}{}
	hasGeoHint := false

	for _, ev := range claim.Evidences {
		score += e.weightOf(ev.Kind)

		if ev.Kind == contracts.EvidenceRenewableEnergy && ev.EnergyKWH != nil && *ev.EnergyKWH >= 0 {
			score += math.Min(*ev.EnergyKWH/100.0, energyBonusCap)
			tags[TagEnergyBonus] = struct{}{}
		}
		if len(ev.Proofs) > 0 {
			score += proofBonus
			tags[TagHasProof] = struct{}{}
		}
		if ev.GeoHint != "" {
			hasGeoHint = true
		}
	}

	score = clamp(score-penalty, 0.0, 1.0)
	score = roundScore(score)

	verdict := contracts.VerdictReject
	switch {
	case score >= approveThreshold:
		verdict = contracts.VerdictApprove
	case score >= reviewThreshold:
		verdict = contracts.VerdictReview
	}

	var obligations []string
	if verdict != contracts.VerdictApprove {
		obligations = append(obligations, obligationStrongerProofs)
	}
	if hasGeoHint {
		obligations = append(obligations, obligationRegionalContext)
	}

	v := contracts.Verdict{
		Score:       score,
		Verdict:     verdict,
		Rationale:   rationale(score, verdict, len(claim.Evidences)),
		Obligations: obligations,
		PolicyTags:  sortedTags(tags),
	}

	return e.applyRules(claim, v)
}

func (e *Engine) weightOf(kind string) float64 {
	if w, ok := e.weights[kind]; ok {
		return w
	}
	return e.defaultWeight
}

func rationale(score float64, verdict contracts.VerdictKind, evidences int) string {
	noun := "evidences"
	if evidences == 1 {
		noun = "evidence"
	}
	switch verdict {
	case contracts.VerdictApprove:
		return fmt.Sprintf("score %.3f from %d %s meets the approval threshold", score, evidences, noun)
	case contracts.VerdictReview:
		return fmt.Sprintf("score %.3f from %d %s falls in the review band", score, evidences, noun)
	default:
		return fmt.Sprintf("score %.3f from %d %s is below the review threshold", score, evidences, noun)
	}
}

// roundScore rounds half away from zero to three decimals. A single
// final rounding keeps outputs identical across platforms.
func roundScore(s float64) float64 {
	return math.Round(s*1000) / 1000
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortedTags(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
