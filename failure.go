package storefront

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed facade operation.
type FailureKind string

const (
	FailureValidation FailureKind = "Validation"
	FailureNotFound   FailureKind = "NotFound"
	FailureConflict   FailureKind = "Conflict"
	FailureExhausted  FailureKind = "Exhausted"
)

// Failure is the typed error returned by the core. Callers branch on Kind
// rather than on messages.
type Failure struct {
	Kind     FailureKind
	Message  string
	Attempts []Attempt
	Err      error
	// Unanswered is set when every configured access path ran and none
	// produced an answer. Only then may a read be served synthesized data.
	Unanswered bool
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure creates a failure of the given kind.
func NewFailure(kind FailureKind, err error, attempts []Attempt) *Failure {
	f := &Failure{Kind: kind, Err: err, Attempts: attempts}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

// Exhausted creates a failure for an operation that ran out of attempts.
func Exhausted(lastErr error, attempts []Attempt) *Failure {
	return &Failure{
		Kind:     FailureExhausted,
		Message:  fmt.Sprintf("attempts exhausted: %v", lastErr),
		Attempts: attempts,
		Err:      lastErr,
	}
}

// AsFailure maps err onto a Failure. Existing failures are returned as is;
// typed storage errors map to their kind; anything else is Exhausted.
func AsFailure(err error, attempts []Attempt) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		if len(f.Attempts) == 0 && len(attempts) > 0 {
			f.Attempts = attempts
		}
		return f
	}
	switch {
	case IsValidationError(err), IsSchemaError(err), errors.Is(err, ErrUnknownKind):
		return NewFailure(FailureValidation, err, attempts)
	case IsRecordNotFoundError(err):
		return NewFailure(FailureNotFound, err, attempts)
	case IsDuplicateError(err), IsVersionConflict(err):
		return NewFailure(FailureConflict, err, attempts)
	default:
		return Exhausted(err, attempts)
	}
}

// IsUnanswered reports whether err is a Failure raised after every access
// path was tried without an answer.
func IsUnanswered(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Unanswered
}

// FailureKindOf returns the failure kind of err, or "" if err is not a Failure.
func FailureKindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsFailureKind reports whether err is a Failure of the given kind.
func IsFailureKind(err error, kind FailureKind) bool {
	return FailureKindOf(err) == kind
}
