package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Profile is an operator-supplied weight table override. Weights apply
// per evidence kind; DefaultWeight, when set, replaces the fallback
// weight for unlisted kinds. Rules are an optional obligation overlay
// compiled at engine construction. Thresholds and bonuses are not
// overridable; they are protocol constants.
type Profile struct {
	Name          string             `yaml:"name"`
	Weights       map[string]float64 `yaml:"weights"`
	DefaultWeight *float64           `yaml:"default_weight,omitempty"`
	Rules         []Rule             `yaml:"rules,omitempty"`
}

// LoadProfile reads and validates a profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Unavailable(fault.CodeStoreUnavailable, err, "loading policy profile %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fault.Invalidf("bad-profile", "parsing policy profile %s: %v", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) validate() error {
	if len(p.Weights) == 0 {
		return fault.Invalidf("bad-profile", "profile %q declares no weights", p.Name)
	}
	for kind, w := range p.Weights {
		if w < 0 || w > 1 {
			return fault.Invalidf("bad-profile", "weight for %q is %v, must be in [0,1]", kind, w)
		}
	}
	if p.DefaultWeight != nil && (*p.DefaultWeight < 0 || *p.DefaultWeight > 1) {
		return fault.Invalidf("bad-profile", "default weight %v must be in [0,1]", *p.DefaultWeight)
	}
	return nil
}

// String implements fmt.Stringer for log lines.
func (p *Profile) String() string {
	return fmt.Sprintf("profile %q (%d weights)", p.Name, len(p.Weights))
}
