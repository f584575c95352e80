package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound is returned when a mutating conversation
	// operation targets an id that was never created.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrConversationExists is returned by a second Create for the same id.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrNoTurns is returned when a turn-scoped operation runs before the
	// first user turn was recorded.
	ErrNoTurns = errors.New("conversation has no turns")
	// ErrNoResolvableAgents is wrapped by ConfigurationError when none of a
	// plan's agents can be resolved.
	ErrNoResolvableAgents = errors.New("no resolvable agents")
	// ErrTaskNotFound is returned by transports when a task id is unknown.
	ErrTaskNotFound = errors.New("task not found")
)

// ConfigurationError reports a plan that cannot be executed at all. It is
// terminal and never retried.
type ConfigurationError struct {
	Requested []string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: agents %v: %v", e.Requested, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DispatchError reports a transport failure opening one agent's stream. It
// is isolated to that agent and never fails the batch.
type DispatchError struct {
	AgentName string
	SubTaskID string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to agent %s (sub-task %s) failed: %v", e.AgentName, e.SubTaskID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Oracle names used in OracleError.
const (
	OraclePlanner     = "planner"
	OracleInstruction = "instruction"
	OracleIntegrator  = "integrator"
)

// OracleError reports a failed reasoning oracle call. Callers always degrade
// to a deterministic fallback.
type OracleError struct {
	Oracle string
	Err    error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("%s oracle failed: %v", e.Oracle, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }
