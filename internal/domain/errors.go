package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Configuration errors: fatal, abort the whole scoring run.
	ErrRulesVersionNotFound = errors.New("scoring rules version not found")
	ErrRulesVersionExists   = errors.New("scoring rules version already exists")
	ErrMalformedRules       = errors.New("malformed scoring rules")

	// Empty-result errors: nothing to score.
	ErrNoResults   = errors.New("no recorded results for race")
	ErrNoFinishers = errors.New("no finisher in either gender cohort")

	ErrResultNotFound = errors.New("race result not found")
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInternalError is returned to API clients in place of internal detail.
	ErrInternalError = errors.New("internal server error")
)

// IsNotFoundError reports whether err names a missing entity.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrResultNotFound) || errors.Is(err, ErrRulesVersionNotFound)
}

// InputError marks a single malformed input row. The offending record is
// skipped with a reported reason; it is never fatal to the batch.
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// StateError marks an illegal record bonus transition. Nothing is mutated.
type StateError struct {
	Op     string
	From   RecordStatus
	Reason string
}

func (e *StateError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("cannot %s record bonus in status %q: %s", e.Op, e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s record bonus: %s", e.Op, e.Reason)
}

// IsConfigError reports whether err aborts a scoring run outright.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrRulesVersionNotFound) || errors.Is(err, ErrMalformedRules)
}

// IsInputError reports whether err is a per-row input problem.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsStateError reports whether err is an illegal record transition.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
