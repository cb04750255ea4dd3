package domain

// OutcomeStatus classifies how a variation call was resolved.
type OutcomeStatus int

const (
	// OutcomeEvaluated means the flag was found and evaluated successfully.
	OutcomeEvaluated OutcomeStatus = iota
	// OutcomeEvaluationFailed means the flag (or its lookup) failed and the default was returned.
	OutcomeEvaluationFailed
	// OutcomeNotFound means the flag key is not in the store.
	OutcomeNotFound
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeEvaluated:
		return "evaluated"
	case OutcomeEvaluationFailed:
		return "evaluation_failed"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Detail is what an evaluator returns for a single flag.
// A nil Value means the flag produced no value and the caller's default applies.
type Detail struct {
	Value          any
	VariationIndex *int
	Reason         string
}

// Outcome is the result of a variation call.
type Outcome struct {
	FlagKey        string
	Status         OutcomeStatus
	Value          any
	Version        *int
	VariationIndex *int
	Reason         string
	Err            error
}

// IsDefault reports whether the caller's default was returned.
func (o Outcome) IsDefault() bool {
	return o.Status != OutcomeEvaluated || o.VariationIndex == nil
}
