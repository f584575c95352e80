package agent

import "github.com/hupe1980/agentrelay/internal/util"

// Provider supplies the system instruction of a task at runtime.
type Provider interface {
	Instruction(*TaskContext) (string, error)
}

// Func adapts an ordinary function to the Provider interface.
type Func func(*TaskContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(tc *TaskContext) (string, error) { return f(tc) }

// Instruction is either a text template or a dynamic provider.
//
// Text instructions may reference the task through template fields:
//
//	{{.Agent}}     name of the agent
//	{{.TaskID}}    id of the task
//	{{.SessionID}} conversation the task belongs to
//	{{.Resumed}}   true when the user answered a question of this task
//	{{.Exchanges}} number of earlier messages in the task
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a text template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*TaskContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

type instructionData struct {
	Agent     string
	TaskID    string
	SessionID string
	Resumed   bool
	Exchanges int
}

// Resolve returns the instruction text for tc, invoking the provider or
// rendering the template.
func (i Instruction) Resolve(tc *TaskContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(tc)
	}

	data := instructionData{}
	if tc != nil {
		data = instructionData{
			TaskID:    tc.TaskID,
			SessionID: tc.SessionID,
			Resumed:   tc.Resumed(),
			Exchanges: len(tc.History),
		}
		if tc.local != nil {
			data.Agent = tc.local.Name()
		}
	}
	return util.RenderTemplate(i.text, data)
}
