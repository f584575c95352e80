package oracle

import "github.com/hupe1980/agentrelay/internal/util"

// DefaultPlannerTemplate is the prompt used by LLMPlanner.
//
// Available fields: .Request, .Agents ([]agentView), .History, .Pending
// (nil or {AgentName, SubTaskID}), .Schema.
var DefaultPlannerTemplate = util.MustParse("planner", `You route user requests to specialized agents.

Available agents:
{{range .Agents}}- {{.Name}}: {{.Description}}{{if .Capabilities}} (capabilities: {{join ", " .Capabilities}}){{end}}
{{end}}
{{- if .History}}
Conversation so far:
{{.History}}
{{end}}
{{- if .Pending}}
The agent "{{.Pending.AgentName}}" is waiting for the user's answer to a question it asked.
Set "resume" to true if the new message answers that question.
{{end}}
User request:
{{.Request}}

Select the agents that should handle the request and write one instruction per agent.
Answer with a single JSON object matching this schema and nothing else:
{{.Schema}}`)

// DefaultInstructionTemplate is the prompt used by LLMInstructor.
var DefaultInstructionTemplate = util.MustParse("instruction", `You write the task description for the agent "{{.AgentName}}".
{{- if .AgentDescription}}
Agent description: {{.AgentDescription}}
{{- end}}
{{- if .Hint}}
Planner note: {{.Hint}}
{{- end}}
{{- if .History}}

Conversation so far:
{{.History}}
{{- end}}

User request:
{{.Request}}

Write a short, self-contained instruction for this agent covering only the part of the request it is responsible for.
Answer with the instruction text only.`)

// DefaultIntegratorTemplate is the prompt used by LLMIntegrator.
var DefaultIntegratorTemplate = util.MustParse("integrator", `Several agents worked on the user's request.

User request:
{{.Request}}

Agent answers:
{{range .Responses}}
[{{.AgentName}}]
{{.Text}}
{{end}}
Combine the answers into one coherent reply to the user. Keep every fact, drop repetition and do not mention the agents unless it helps the user.`)

const (
	plannerSystem     = "You are the planning component of a multi-agent orchestrator. You only answer in JSON."
	instructionSystem = "You are the instruction writer of a multi-agent orchestrator."
	integratorSystem  = "You are the response integrator of a multi-agent orchestrator."
)
