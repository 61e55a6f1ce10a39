package agent

import (
	"errors"

	"github.com/harun/ranya-engine/pkg/abort"
	"github.com/harun/ranya-engine/pkg/events"
	"github.com/harun/ranya-engine/pkg/failover"
	"github.com/harun/ranya-engine/pkg/resolver"
)

var (
	// ErrDepthLimitExceeded is returned when a spawn would nest deeper than allowed
	ErrDepthLimitExceeded = errors.New("subagent depth limit exceeded")
	// ErrModelNotAllowed is returned when a spawn requests a model outside the allow-list
	ErrModelNotAllowed = errors.New("model not allowed for subagent")
	// ErrBudgetExhausted is returned when a run tree has spent its token budget
	ErrBudgetExhausted = errors.New("token budget exhausted")
	// ErrMaxTurns is returned when a run exceeds its turn limit
	ErrMaxTurns = errors.New("max turns exceeded")
	// ErrAborted marks a run stopped through its abort token
	ErrAborted = abort.ErrAborted
)

// isFatal reports whether err ends the run instead of being fed back to
// the model as a tool result.
func isFatal(err error) bool {
	return errors.Is(err, ErrDepthLimitExceeded) ||
		errors.Is(err, ErrModelNotAllowed) ||
		errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, resolver.ErrAgentNotFound) ||
		errors.Is(err, resolver.ErrNoModelsConfigured)
}

// errorKind maps a terminal error to the kind carried by its Error event
func errorKind(err error) events.ErrorKind {
	var terminal *failover.TerminalError
	var overflow *failover.OverflowError
	switch {
	case errors.Is(err, ErrAborted):
		return events.ErrorAborted
	case errors.As(err, &terminal):
		return events.ErrorChainExhausted
	case errors.As(err, &overflow):
		return events.ErrorProvider
	case errors.Is(err, ErrDepthLimitExceeded):
		return events.ErrorDepthLimitExceeded
	case errors.Is(err, ErrModelNotAllowed):
		return events.ErrorModelNotAllowed
	case errors.Is(err, ErrBudgetExhausted):
		return events.ErrorBudgetExhausted
	case errors.Is(err, ErrMaxTurns):
		return events.ErrorMaxTurns
	default:
		return events.ErrorInternal
	}
}
