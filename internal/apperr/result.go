package apperr

// Outcome distinguishes the four terminal states a pipeline stage can reach,
// replacing the exception-driven control flow of the original implementation.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRejected
	OutcomeTransientError
	OutcomeFatal
)

// Result is the explicit sum type returned by guards and pipeline stages.
// Exactly one of Value/Err is meaningful depending on Outcome.
type Result struct {
	Outcome Outcome
	Value   interface{}
	Err     *Error
}

func OK(value interface{}) Result {
	return Result{Outcome: OutcomeOK, Value: value}
}

func Rejected(reason string, details map[string]interface{}) Result {
	return Result{
		Outcome: OutcomeRejected,
		Err:     Validation("pipeline", reason, details),
	}
}

func TransientErr(component, code string, cause error) Result {
	return Result{
		Outcome: OutcomeTransientError,
		Err:     Transient(component, code, cause),
	}
}

func FatalErr(component, code string, cause error) Result {
	return Result{
		Outcome: OutcomeFatal,
		Err:     Fatal(component, code, cause),
	}
}

func (r Result) IsOK() bool {
	return r.Outcome == OutcomeOK
}
