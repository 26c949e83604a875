package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies run failures
type ErrorKind string

const (
	KindGenerationFailure           ErrorKind = "generation_failure"
	KindRenderInvocationFailure     ErrorKind = "render_invocation_failure"
	KindValidationInvocationFailure ErrorKind = "validation_invocation_failure"
	KindUnexpectedState             ErrorKind = "unexpected_state"
	KindCancelled                   ErrorKind = "cancelled"
)

// StageError is the single structured failure a run surfaces
type StageError struct {
	Kind    ErrorKind
	Stage   Stage
	Message string
	Trace   string
	Err     error
}

func newStageError(kind ErrorKind, stage Stage, msg string, err error) *StageError {
	return &StageError{
		Kind:    kind,
		Stage:   stage,
		Message: msg,
		Trace:   traceOf(err),
		Err:     err,
	}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Stage, e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Info converts the error into its event form
func (e *StageError) Info() *ErrorInfo {
	return &ErrorInfo{Kind: e.Kind, Stage: e.Stage, Message: e.Message, Trace: e.Trace}
}

// KindOf returns the kind of a *StageError in err's chain, or "" when there is none
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// traceOf renders the wrap chain one error per line, outermost first.
func traceOf(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%s%T: %v\n", strings.Repeat("  ", depth), err, err)
		err = errors.Unwrap(err)
	}
	return strings.TrimRight(b.String(), "\n")
}
