package failover

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/ranya-engine/pkg/llm"
)

// ErrEmptyChain is returned when a session is created without models
var ErrEmptyChain = errors.New("model chain is empty")

// ModelFailure records why one chain entry was given up on
type ModelFailure struct {
	Model    string
	Class    llm.ErrorClass
	Attempts int
	Err      error
}

func (f ModelFailure) String() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", f.Model, f.Class, f.Attempts, f.Err)
}

// TerminalError reports an exhausted chain with a per-model breakdown
type TerminalError struct {
	Failures []ModelFailure
}

func (e *TerminalError) Error() string {
	if len(e.Failures) == 0 {
		return "model chain exhausted"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.String())
	}
	return "model chain exhausted: " + strings.Join(parts, "; ")
}

// Unwrap exposes the failure of each model
func (e *TerminalError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// OverflowError tells the caller to compact and retry the same model.
// No chain slot is consumed.
type OverflowError struct {
	Model string
	Err   error
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("context overflow on %s: %v", e.Model, e.Err)
}

func (e *OverflowError) Unwrap() error {
	return e.Err
}
