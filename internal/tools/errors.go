package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTool is matched by every UnknownToolError.
var ErrUnknownTool = errors.New("unknown tool")

// UnknownToolError reports a call to a name that is not registered.
// It is returned to the model as an observation, not raised to the user.
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// ParamError reports arguments that failed schema validation. No side effect
// has happened when it is returned.
type ParamError struct {
	Tool     string
	Problems []string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ToolExecutionError wraps a failure raised while a tool ran.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
