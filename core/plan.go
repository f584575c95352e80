package core

import "context"

// ExecutionOrder is the planner's ordering hint. It is informational only:
// the engine always runs every dispatched sub-task concurrently.
type ExecutionOrder string

const (
	OrderParallel   ExecutionOrder = "parallel"
	OrderSequential ExecutionOrder = "sequential"
)

// Resumption marks a plan that continues a suspended sub-task.
type Resumption struct {
	WaitingSubTaskID string `json:"waiting_sub_task_id"`
	AgentName        string `json:"agent_name"`
}

// TaskPlan is the structured agent selection produced by a Planner.
// An empty Agents list means planning failed to select anything.
type TaskPlan struct {
	Request      string            `json:"request"`
	Agents       []string          `json:"agents"`
	Instructions map[string]string `json:"instructions,omitempty"`
	Order        ExecutionOrder    `json:"order"`
	MultiAgent   bool              `json:"multi_agent"`
	Reasoning    string            `json:"reasoning,omitempty"`
	Resumption   *Resumption       `json:"resumption,omitempty"`
}

// IsResumption reports whether the plan carries a waiting sub-task id.
func (p TaskPlan) IsResumption() bool {
	return p.Resumption != nil && p.Resumption.WaitingSubTaskID != ""
}

// Instruction returns the plan's base instruction for agentName, falling
// back to the raw request.
func (p TaskPlan) Instruction(agentName string) string {
	if s, ok := p.Instructions[agentName]; ok && s != "" {
		return s
	}
	return p.Request
}

// PlanRequest is the input to a Planner.
type PlanRequest struct {
	Request    string
	Candidates []ManagedAgent
	History    string
	Pending    *PendingSuspension
}

// Planner selects agents for a request. Implementations must not retry
// internally; callers degrade to a default plan on error.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (TaskPlan, error)
}

// InstructionRequest is the input to an InstructionGenerator.
type InstructionRequest struct {
	Request          string
	AgentName        string
	AgentDescription string
	Plan             TaskPlan
	History          string
}

// InstructionGenerator writes the per-agent sub-task prompt.
type InstructionGenerator interface {
	Instruction(ctx context.Context, req InstructionRequest) (string, error)
}

// AgentResponse is the text one agent contributed to a run.
type AgentResponse struct {
	AgentName string    `json:"agent_name"`
	SubTaskID string    `json:"sub_task_id"`
	State     TaskState `json:"state"`
	Text      string    `json:"text"`
}

// Integrator composes per-agent texts into one reply.
type Integrator interface {
	Compose(ctx context.Context, request string, responses []AgentResponse, plan TaskPlan) (string, error)
}
