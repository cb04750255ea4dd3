package evaluator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/expr-lang/expr/vm"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// Evaluation reasons reported in domain.Detail.
const (
	ReasonOff                = "OFF"
	ReasonTargetMatch        = "TARGET_MATCH"
	ReasonRuleMatch          = "RULE_MATCH"
	ReasonFallthrough        = "FALLTHROUGH"
	ReasonPrerequisiteFailed = "PREREQUISITE_FAILED"
)

// FlagGetter resolves prerequisite flags.
type FlagGetter interface {
	Get(ctx context.Context, key string) (*domain.Flag, bool, error)
}

// Evaluator defines the interface for flag evaluation
type Evaluator interface {
	// Evaluate resolves flag for user. It returns the sub-events produced
	// along the way (prerequisite evaluations) even when it fails.
	Evaluate(ctx context.Context, flag domain.Flag, user domain.User, getter FlagGetter) (domain.Detail, []domain.Event, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, flag domain.Flag, user domain.User, getter FlagGetter) (domain.Detail, []domain.Event, error)

func (f Func) Evaluate(ctx context.Context, flag domain.Flag, user domain.User, getter FlagGetter) (domain.Detail, []domain.Event, error) {
	return f(ctx, flag, user, getter)
}

// LocalEvaluator implements flag evaluation in process. Expression clauses
// are compiled once and cached.
type LocalEvaluator struct {
	mu           sync.RWMutex
	programCache map[string]*vm.Program
}

// New creates a new local evaluator
func New() *LocalEvaluator {
	return &LocalEvaluator{
		programCache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates a flag locally
func (e *LocalEvaluator) Evaluate(ctx context.Context, flag domain.Flag, user domain.User, getter FlagGetter) (domain.Detail, []domain.Event, error) {
	return e.evaluate(ctx, flag, user, getter, []string{flag.Key})
}

func (e *LocalEvaluator) evaluate(ctx context.Context, flag domain.Flag, user domain.User, getter FlagGetter, stack []string) (domain.Detail, []domain.Event, error) {
	var events []domain.Event

	if !flag.On {
		d, err := e.offDetail(flag, ReasonOff)
		return d, events, err
	}

	for _, prereq := range flag.Prerequisites {
		if slices.Contains(stack, prereq.Key) {
			return domain.Detail{}, events, domain.NewEvaluationError(flag.Key,
				fmt.Sprintf("prerequisite cycle through %s", prereq.Key), nil)
		}
		if getter == nil {
			return domain.Detail{}, events, domain.NewEvaluationError(flag.Key, "no flag source for prerequisites", nil)
		}

		pf, found, err := getter.Get(ctx, prereq.Key)
		if err != nil {
			return domain.Detail{}, events, domain.NewEvaluationError(flag.Key, "prerequisite lookup failed", err)
		}
		if !found {
			d, err := e.offDetail(flag, ReasonPrerequisiteFailed)
			return d, events, err
		}

		pd, sub, err := e.evaluate(ctx, *pf, user, getter, append(stack, pf.Key))
		events = append(events, sub...)
		if err != nil {
			return domain.Detail{}, events, err
		}

		ev := domain.NewFeatureEvent(pf.Key, user, pd.Value, nil, domain.IntPtr(pf.Version))
		ev.PrereqOf = flag.Key
		events = append(events, ev)

		if !pf.On || pd.VariationIndex == nil || *pd.VariationIndex != prereq.Variation {
			d, err := e.offDetail(flag, ReasonPrerequisiteFailed)
			return d, events, err
		}
	}

	for _, target := range flag.Targets {
		if slices.Contains(target.Values, user.Key) {
			d, err := e.variationDetail(flag, target.Variation, ReasonTargetMatch)
			return d, events, err
		}
	}

	for i, rule := range flag.Rules {
		matched, err := e.ruleMatches(rule, user)
		if err != nil {
			return domain.Detail{}, events, domain.NewEvaluationError(flag.Key, fmt.Sprintf("rule %d evaluation failed", i), err)
		}
		if matched {
			d, err := e.resolve(flag, rule.VariationOrRollout, user, ReasonRuleMatch)
			return d, events, err
		}
	}

	d, err := e.resolve(flag, flag.Fallthrough, user, ReasonFallthrough)
	return d, events, err
}

// offDetail returns the off variation, or an empty detail when none is set.
func (e *LocalEvaluator) offDetail(flag domain.Flag, reason string) (domain.Detail, error) {
	if flag.OffVariation == nil {
		return domain.Detail{Reason: reason}, nil
	}
	return e.variationDetail(flag, *flag.OffVariation, reason)
}

func (e *LocalEvaluator) variationDetail(flag domain.Flag, index int, reason string) (domain.Detail, error) {
	value, ok := flag.VariationValue(index)
	if !ok {
		return domain.Detail{}, domain.NewEvaluationError(flag.Key, fmt.Sprintf("variation %d not found", index), nil)
	}
	return domain.Detail{
		Value:          value,
		VariationIndex: domain.IntPtr(index),
		Reason:         reason,
	}, nil
}

func (e *LocalEvaluator) resolve(flag domain.Flag, vr domain.VariationOrRollout, user domain.User, reason string) (domain.Detail, error) {
	if vr.Variation != nil {
		return e.variationDetail(flag, *vr.Variation, reason)
	}

	if vr.Rollout != nil && len(vr.Rollout.Variations) > 0 {
		index := variationForBucket(vr.Rollout, Bucket(user, flag.Key, flag.Salt, vr.Rollout.BucketBy))
		return e.variationDetail(flag, index, reason)
	}

	return domain.Detail{}, domain.NewEvaluationError(flag.Key, "malformed flag: no variation or rollout", nil)
}
