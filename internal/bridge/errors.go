package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrToolUnavailable  = errors.New("tool unavailable")
	ErrExecutionTimeout = errors.New("execution timeout")
	ErrExecutionFailure = errors.New("execution failure")
	ErrParseFailure     = errors.New("parse failure")
)

// ToolError is the only error type a Bridge returns from Run.
type ToolError struct {
	Tool string
	Kind error
	Err  error
}

func (e *ToolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Tool, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newToolError(tool string, kind, err error) *ToolError {
	return &ToolError{Tool: tool, Kind: kind, Err: err}
}

// KindName returns the taxonomy name for err, or "InternalError" when err is
// not one of the bridge sentinels.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrToolUnavailable):
		return "ToolUnavailable"
	case errors.Is(err, ErrExecutionTimeout):
		return "ExecutionTimeout"
	case errors.Is(err, ErrExecutionFailure):
		return "ExecutionFailure"
	case errors.Is(err, ErrParseFailure):
		return "ParseFailure"
	default:
		return "InternalError"
	}
}
