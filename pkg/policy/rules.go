package policy

import (
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/contracts"
	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Rule is an operator-defined obligation overlay evaluated after
// scoring. A rule can append an obligation and a tag when its CEL
// expression holds; it can never change the score or the verdict, so
// the protocol arithmetic stays authoritative.
//
// The expression environment exposes score (double), verdict (string),
// kinds (list of evidence kinds), evidence_count and proof_count
// (ints). No time, random or uuid functions are declared, which keeps
// rule evaluation deterministic by construction.
type Rule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Obligation string `yaml:"obligation,omitempty"`
	Tag        string `yaml:"tag,omitempty"`
}

type compiledRule struct {
	rule Rule
	prg  cel.Program
}

// WithRules compiles and installs the obligation overlay. Compilation
// failures surface at construction, not per-claim.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) error {
		env, err := cel.NewEnv(
			cel.Variable("score", cel.DoubleType),
			cel.Variable("verdict", cel.StringType),
			cel.Variable("kinds", cel.ListType(cel.StringType)),
			cel.Variable("evidence_count", cel.IntType),
			cel.Variable("proof_count", cel.IntType),
		)
		if err != nil {
			return fault.Invalidf("bad-rule", "building rule environment: %v", err)
		}

		for _, r := range rules {
			ast, issues := env.Compile(r.Expression)
			if issues != nil && issues.Err() != nil {
				return fault.Invalidf("bad-rule", "rule %q: %v", r.Name, issues.Err())
			}
			prg, err := env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				return fault.Invalidf("bad-rule", "rule %q: %v", r.Name, err)
			}
			e.rules = append(e.rules, compiledRule{rule: r, prg: prg})
		}
		return nil
	}
}

// applyRules runs the overlay against a finished verdict. Rules that
// fail to evaluate are skipped; the base verdict is already final.
func (e *Engine) applyRules(claim contracts.ActivityClaim, v contracts.Verdict) contracts.Verdict {
	if len(e.rules) == 0 {
		return v
	}

	kinds := make([]string, 0, len(claim.Evidences))
	proofCount := 0
	for _, ev := range claim.Evidences {
		kinds = append(kinds, ev.Kind)
		proofCount += len(ev.Proofs)
	}

	input := map[string]any{
		"score":          v.Score,
		"verdict":        string(v.Verdict),
		"kinds":          kinds,
		"evidence_count": len(claim.Evidences),
		"proof_count":    proofCount,
	}

	tagSet := map[string]struct{}{}
	for _, t := range v.PolicyTags {
		tagSet[t] = struct{}{}
	}

	changedTags := false
	for _, cr := range e.rules {
		out, _, err := cr.prg.Eval(input)
		if err != nil {
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok || !matched {
			continue
		}
		if cr.rule.Obligation != "" && !containsString(v.Obligations, cr.rule.Obligation) {
			v.Obligations = append(v.Obligations, cr.rule.Obligation)
		}
		if cr.rule.Tag != "" {
			if _, exists := tagSet[cr.rule.Tag]; !exists {
				tagSet[cr.rule.Tag] = struct{}{}
				changedTags = true
			}
		}
	}

	if changedTags {
		tags := make([]string, 0, len(tagSet))
		for t := range tagSet {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		v.PolicyTags = tags
	}
	return v
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
