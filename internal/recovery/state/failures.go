package state

import (
	"errors"
	"fmt"
)

// InputValidationError reports bad paths, bad option combinations, or
// unparsable documents. Always raised before any destructive action.
type InputValidationError struct {
	Code    string
	Message string
	Cause   error
}

func (e *InputValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *InputValidationError) Unwrap() error { return e.Cause }

// Invalidf builds an InputValidationError.
func Invalidf(code, format string, args ...any) error {
	return &InputValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ResourceError reports a directory or file that cannot be created or
// written.
type ResourceError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ResourceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("cannot write to %s", e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Path)
}

func (e *ResourceError) Unwrap() error { return e.Cause }

// ExternalProcessError reports a launched step that exited non-zero or could
// not be started.
type ExternalProcessError struct {
	Step     string
	ExitCode int
	LogPath  string
	Cause    error
}

func (e *ExternalProcessError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Cause)
	}
	return fmt.Sprintf("%s failed with exit status %d", e.Step, e.ExitCode)
}

func (e *ExternalProcessError) Unwrap() error { return e.Cause }

// ErrDeadlockSuspected is joined into the engine's error when the engine
// fails after the liveness monitor suspected a stall.
var ErrDeadlockSuspected = errors.New("deadlock suspected")

// FailureFromError classifies err into the failure taxonomy. stage is the
// orchestrator stage active when err was raised.
func FailureFromError(stage string, err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	// A process that failed after the monitor suspected a deadlock is
	// classified as a deadlock, keeping the process's log pointer.
	if errors.Is(err, ErrDeadlockSuspected) {
		f := Failure{
			FailureClass: FailureClassDeadlock,
			Stage:        stage,
			ErrorCode:    "DeadlockSuspected",
			ErrorMessage: err.Error(),
		}
		var pe *ExternalProcessError
		if errors.As(err, &pe) && pe != nil {
			f.LogPath = pe.LogPath
		}
		return f, nil
	}

	var iv *InputValidationError
	if errors.As(err, &iv) && iv != nil {
		return Failure{
			FailureClass: FailureClassInput,
			Stage:        stage,
			ErrorCode:    nonEmptyOr(iv.Code, "InvalidInput"),
			ErrorMessage: nonEmptyOr(iv.Message, err.Error()),
		}, nil
	}

	var re *ResourceError
	if errors.As(err, &re) && re != nil {
		return Failure{
			FailureClass: FailureClassResource,
			Stage:        stage,
			ErrorCode:    "ResourceUnavailable",
			ErrorMessage: re.Error(),
			Path:         re.Path,
		}, nil
	}

	var pe *ExternalProcessError
	if errors.As(err, &pe) && pe != nil {
		return Failure{
			FailureClass: FailureClassExternalProcess,
			Stage:        stage,
			ErrorCode:    nonEmptyOr(pe.Step, "ExternalProcess"),
			ErrorMessage: pe.Error(),
			LogPath:      pe.LogPath,
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		Stage:        stage,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
	}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
