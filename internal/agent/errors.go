package agent

import (
	"errors"
	"fmt"
)

// ErrParse is matched by every ParseError.
var ErrParse = errors.New("unparseable model action")

// ParseError reports model output that looked like an action but could not
// be recovered, even after repair. The loop feeds it back as an observation.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// IterationLimitExceeded reports a turn that hit the iteration ceiling. It is
// recorded, never returned to the caller: the user receives FallbackMessage.
type IterationLimitExceeded struct {
	Limit int
}

func (e *IterationLimitExceeded) Error() string {
	return fmt.Sprintf("iteration limit of %d exceeded", e.Limit)
}
