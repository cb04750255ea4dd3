package domain

import (
	"fmt"
)

// Flag represents a feature flag definition as served by the flag service.
type Flag struct {
	Key           string             `json:"key" yaml:"key"`
	Version       int                `json:"version" yaml:"version"`
	On            bool               `json:"on" yaml:"on"`
	Prerequisites []Prerequisite     `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Targets       []Target           `json:"targets,omitempty" yaml:"targets,omitempty"`
	Rules         []Rule             `json:"rules,omitempty" yaml:"rules,omitempty"`
	Fallthrough   VariationOrRollout `json:"fallthrough" yaml:"fallthrough"`
	OffVariation  *int               `json:"offVariation,omitempty" yaml:"offVariation,omitempty"`
	Variations    []any              `json:"variations" yaml:"variations"`
	Salt          string             `json:"salt,omitempty" yaml:"salt,omitempty"`
	Deleted       bool               `json:"deleted,omitempty" yaml:"deleted,omitempty"`
}

// Prerequisite requires another flag to evaluate to a given variation
// before this flag is considered on.
type Prerequisite struct {
	Key       string `json:"key" yaml:"key"`
	Variation int    `json:"variation" yaml:"variation"`
}

// Target pins a list of user keys to a variation.
type Target struct {
	Values    []string `json:"values" yaml:"values"`
	Variation int      `json:"variation" yaml:"variation"`
}

// Rule is a set of clauses that must all match. The first matching rule wins.
type Rule struct {
	ID                 string   `json:"id,omitempty" yaml:"id,omitempty"`
	Clauses            []Clause `json:"clauses" yaml:"clauses"`
	VariationOrRollout `yaml:",inline"`
}

// Clause tests a single user attribute.
type Clause struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Op        Operator `json:"op" yaml:"op"`
	Values    []any    `json:"values" yaml:"values"`
	Negate    bool     `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// VariationOrRollout selects either a fixed variation or a percentage rollout.
type VariationOrRollout struct {
	Variation *int     `json:"variation,omitempty" yaml:"variation,omitempty"`
	Rollout   *Rollout `json:"rollout,omitempty" yaml:"rollout,omitempty"`
}

// Rollout distributes users across variations by weight.
type Rollout struct {
	Variations []WeightedVariation `json:"variations" yaml:"variations"`
	BucketBy   string              `json:"bucketBy,omitempty" yaml:"bucketBy,omitempty"`
}

// WeightedVariation weights are expressed in thousandths of a percent (0-100000).
type WeightedVariation struct {
	Variation int `json:"variation" yaml:"variation"`
	Weight    int `json:"weight" yaml:"weight"`
}

// RolloutScale is the total weight of a complete rollout.
const RolloutScale = 100000

// Operator represents clause operators
type Operator string

const (
	OperatorIn                 Operator = "in"
	OperatorStartsWith         Operator = "startsWith"
	OperatorEndsWith           Operator = "endsWith"
	OperatorContains           Operator = "contains"
	OperatorMatches            Operator = "matches"
	OperatorLessThan           Operator = "lessThan"
	OperatorLessThanOrEqual    Operator = "lessThanOrEqual"
	OperatorGreaterThan        Operator = "greaterThan"
	OperatorGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OperatorExpr               Operator = "expr"
)

// Validate validates the flag configuration
func (f *Flag) Validate() error {
	if f.Key == "" {
		return NewValidationError("flag key cannot be empty")
	}

	n := len(f.Variations)
	check := func(where string, idx int) error {
		if idx < 0 || idx >= n {
			return NewValidationError(fmt.Sprintf("%s references unknown variation %d", where, idx))
		}
		return nil
	}

	if f.OffVariation != nil {
		if err := check("offVariation", *f.OffVariation); err != nil {
			return err
		}
	}

	for i, t := range f.Targets {
		if err := check(fmt.Sprintf("target %d", i), t.Variation); err != nil {
			return err
		}
	}

	for i, r := range f.Rules {
		if err := r.VariationOrRollout.validate(fmt.Sprintf("rule %d", i), check); err != nil {
			return err
		}
	}

	return f.Fallthrough.validate("fallthrough", check)
}

func (vr VariationOrRollout) validate(where string, check func(string, int) error) error {
	if vr.Variation != nil {
		return check(where, *vr.Variation)
	}
	if vr.Rollout == nil {
		return nil
	}

	total := 0
	for _, wv := range vr.Rollout.Variations {
		if err := check(where, wv.Variation); err != nil {
			return err
		}
		if wv.Weight < 0 {
			return NewValidationError(fmt.Sprintf("%s has a negative rollout weight", where))
		}
		total += wv.Weight
	}
	if total > RolloutScale {
		return NewValidationError(fmt.Sprintf("%s rollout weights sum to %d (max %d)", where, total, RolloutScale))
	}

	return nil
}

// VariationValue returns the value at index, or false when out of range.
func (f *Flag) VariationValue(index int) (any, bool) {
	if index < 0 || index >= len(f.Variations) {
		return nil, false
	}
	return f.Variations[index], true
}

// Clone returns a copy that shares no slices with f.
func (f Flag) Clone() Flag {
	out := f
	out.Prerequisites = append([]Prerequisite(nil), f.Prerequisites...)
	out.Targets = append([]Target(nil), f.Targets...)
	out.Rules = append([]Rule(nil), f.Rules...)
	out.Variations = append([]any(nil), f.Variations...)
	return out
}
