package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

const matchesProgram = "value matches pattern"

// ruleMatches requires every clause to match (AND logic)
func (e *LocalEvaluator) ruleMatches(rule domain.Rule, user domain.User) (bool, error) {
	for _, clause := range rule.Clauses {
		matched, err := e.clauseMatches(clause, user)
		if err != nil {
			return false, err
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func (e *LocalEvaluator) clauseMatches(clause domain.Clause, user domain.User) (bool, error) {
	if clause.Op == domain.OperatorExpr {
		matched, err := e.evaluateExpr(clause, user)
		if err != nil {
			return false, err
		}
		return matched != clause.Negate, nil
	}

	value, ok := user.Attribute(clause.Attribute)
	if !ok || value == nil {
		// missing attributes never match, negated or not
		return false, nil
	}

	var matched bool
	var err error

	if items, isList := value.([]any); isList {
		for _, item := range items {
			matched, err = e.matchAny(clause, item)
			if err != nil || matched {
				break
			}
		}
	} else {
		matched, err = e.matchAny(clause, value)
	}
	if err != nil {
		return false, err
	}

	return matched != clause.Negate, nil
}

func (e *LocalEvaluator) matchAny(clause domain.Clause, value any) (bool, error) {
	for _, candidate := range clause.Values {
		matched, err := e.match(clause.Op, value, candidate)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func (e *LocalEvaluator) match(op domain.Operator, value, candidate any) (bool, error) {
	switch op {
	case domain.OperatorIn:
		return evaluateEquals(value, candidate), nil

	case domain.OperatorStartsWith:
		return stringOp(value, candidate, strings.HasPrefix), nil

	case domain.OperatorEndsWith:
		return stringOp(value, candidate, strings.HasSuffix), nil

	case domain.OperatorContains:
		return stringOp(value, candidate, strings.Contains), nil

	case domain.OperatorMatches:
		return e.evaluateMatches(value, candidate)

	case domain.OperatorLessThan:
		return compare(value, candidate, func(a, b float64) bool { return a < b }), nil

	case domain.OperatorLessThanOrEqual:
		return compare(value, candidate, func(a, b float64) bool { return a <= b }), nil

	case domain.OperatorGreaterThan:
		return compare(value, candidate, func(a, b float64) bool { return a > b }), nil

	case domain.OperatorGreaterThanOrEqual:
		return compare(value, candidate, func(a, b float64) bool { return a >= b }), nil

	default:
		return false, fmt.Errorf("unsupported operator: %s", op)
	}
}

// evaluateEquals checks equality
func evaluateEquals(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func stringOp(value, candidate any, fn func(s, sub string) bool) bool {
	s, ok1 := value.(string)
	sub, ok2 := candidate.(string)
	return ok1 && ok2 && fn(s, sub)
}

func compare(a, b any, fn func(a, b float64) bool) bool {
	af, aOk := toFloat64(a)
	bf, bOk := toFloat64(b)
	return aOk && bOk && fn(af, bf)
}

// evaluateMatches checks a regular expression through expr's matches operator.
func (e *LocalEvaluator) evaluateMatches(value, pattern any) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	p, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("matches pattern must be a string, got %T", pattern)
	}

	program, err := e.program(matchesProgram)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, map[string]any{"value": s, "pattern": p})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate regex: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("regex evaluation returned non-boolean: %T", result)
	}
	return matched, nil
}

// evaluateExpr runs clause.Values[0] as a boolean expression over the user's attributes.
func (e *LocalEvaluator) evaluateExpr(clause domain.Clause, user domain.User) (bool, error) {
	if len(clause.Values) == 0 {
		return false, fmt.Errorf("expr clause has no expression")
	}
	src, ok := clause.Values[0].(string)
	if !ok {
		return false, fmt.Errorf("expr clause value must be a string, got %T", clause.Values[0])
	}

	program, err := e.program(src)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, exprEnv(user))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned non-boolean: %T", result)
	}
	return matched, nil
}

func (e *LocalEvaluator) program(src string) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.programCache[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", src, err)
	}

	e.mu.Lock()
	e.programCache[src] = p
	e.mu.Unlock()

	return p, nil
}

// exprEnv exposes built-in attributes and custom attributes at the top level.
func exprEnv(user domain.User) map[string]any {
	env := make(map[string]any, len(user.Custom)+8)
	for k, v := range user.Custom {
		env[k] = v
	}
	env["key"] = user.Key
	env["secondary"] = user.Secondary
	env["ip"] = user.IP
	env["country"] = user.Country
	env["email"] = user.Email
	env["name"] = user.Name
	env["anonymous"] = user.Anonymous
	env["custom"] = user.Custom
	return env
}

// toFloat64 converts various numeric types to float64
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
