package cmdgate

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by Load, NewDispatcher and Dispatch
// matches exactly one of these with errors.Is.
var (
	ErrMalformedCatalogue  = errors.New("malformed catalogue")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrMissingParameter    = errors.New("missing parameter")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrValidationFailed    = errors.New("validation failed")
	ErrUnexpectedParameter = errors.New("unexpected parameter")
	ErrExecutionFailed     = errors.New("execution failed")
	ErrSpawnFailed         = errors.New("spawn failed")
)

// Error describes a failed load or dispatch with enough context for the
// caller to correct the request and resubmit it.
type Error struct {
	Kind      error  // one of the Err* sentinels
	Command   string // command name, empty for catalogue-level problems
	Parameter string
	Pattern   string
	Type      ParamType
	ExitCode  int // set when a process exited non-zero
	Message   string
	Err       error // underlying cause, if any
}

func (e *Error) Error() string {
	var parts []string
	if e.Command != "" {
		parts = append(parts, e.Command)
	}
	parts = append(parts, e.Kind.Error())
	msg := strings.Join(parts, ": ")

	var details []string
	if e.Parameter != "" {
		details = append(details, fmt.Sprintf("parameter %q", e.Parameter))
	}
	if e.Type != "" {
		details = append(details, fmt.Sprintf("expected %s", e.Type))
	}
	if e.Pattern != "" {
		details = append(details, fmt.Sprintf("must match %s", e.Pattern))
	}
	if e.ExitCode > 0 {
		details = append(details, fmt.Sprintf("exit code %d", e.ExitCode))
	}
	if len(details) > 0 {
		msg += " (" + strings.Join(details, ", ") + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns the short taxonomy name for err, e.g. "ValidationFailed",
// or "" when err is not a dispatch error.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedCatalogue):
		return "MalformedCatalogue"
	case errors.Is(err, ErrUnknownCommand):
		return "UnknownCommand"
	case errors.Is(err, ErrMissingParameter):
		return "MissingParameter"
	case errors.Is(err, ErrTypeMismatch):
		return "TypeMismatch"
	case errors.Is(err, ErrValidationFailed):
		return "ValidationFailed"
	case errors.Is(err, ErrUnexpectedParameter):
		return "UnexpectedParameter"
	case errors.Is(err, ErrSpawnFailed):
		return "SpawnFailed"
	case errors.Is(err, ErrExecutionFailed):
		return "ExecutionFailed"
	}
	return ""
}

func malformed(command, format string, args ...any) *Error {
	return &Error{Kind: ErrMalformedCatalogue, Command: command, Message: fmt.Sprintf(format, args...)}
}
