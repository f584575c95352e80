package core

import (
	"time"

	"github.com/google/uuid"
)

// OrchestratorName tags events synthesized by the orchestrator itself rather
// than relayed from a remote agent (e.g. cancellation or configuration errors).
const OrchestratorName = "orchestrator"

// AgentEvent is the primary unit of output of an orchestration run: a task
// event tagged with the name of the agent it came from. After emission it
// should be treated as immutable.
type AgentEvent struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	SubTaskID string    `json:"sub_task_id,omitempty"`
	Event     TaskEvent `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAgentEvent tags ev with its source agent.
func NewAgentEvent(agentName, subTaskID string, ev TaskEvent) AgentEvent {
	return AgentEvent{
		ID:        uuid.NewString(),
		AgentName: agentName,
		SubTaskID: subTaskID,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	}
}

// State returns the task state carried by the event ("" for artifact updates).
func (e AgentEvent) State() TaskState { return StateOf(e.Event) }

// Text returns the human readable text carried by the event.
func (e AgentEvent) Text() string { return EventText(e.Event) }

// IsInputRequired reports whether the event suspends its sub-task.
func (e AgentEvent) IsInputRequired() bool { return e.State().IsInputRequired() }

// IsTerminal reports whether the event ends its sub-task.
func (e AgentEvent) IsTerminal() bool { return e.State().IsTerminal() }
