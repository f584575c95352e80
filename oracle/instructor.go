package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
)

// PassthroughInstructor returns the plan's own instruction for the agent,
// or the raw request when the plan has none.
type PassthroughInstructor struct{}

// Instruction implements core.InstructionGenerator.
func (PassthroughInstructor) Instruction(_ context.Context, req core.InstructionRequest) (string, error) {
	return req.Plan.Instruction(req.AgentName), nil
}

// LLMInstructorOptions configures an LLMInstructor.
type LLMInstructorOptions struct {
	// Template overrides DefaultInstructionTemplate.
	Template string

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// LLMInstructor asks a model to write each agent's sub-task prompt. The
// planner's instruction for the agent is passed along as a hint.
type LLMInstructor struct {
	model    model.Model
	template string
	logger   *logging.RelayLogger
}

// NewLLMInstructor creates a model-backed instruction generator.
func NewLLMInstructor(m model.Model, optFns ...func(o *LLMInstructorOptions)) *LLMInstructor {
	opts := LLMInstructorOptions{
		Template: DefaultInstructionTemplate,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LLMInstructor{
		model:    m,
		template: opts.Template,
		logger:   logging.NewRelayLogger(opts.Logger).WithComponent("instructor"),
	}
}

// Instruction implements core.InstructionGenerator.
func (i *LLMInstructor) Instruction(ctx context.Context, req core.InstructionRequest) (instruction string, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			err = &core.OracleError{Oracle: core.OracleInstruction, Err: err}
		}
		i.logger.LogOracleCall(core.OracleInstruction, time.Since(start), err)
	}()

	hint := ""
	if s, ok := req.Plan.Instructions[req.AgentName]; ok && s != req.Request {
		hint = s
	}
	prompt, err := util.RenderTemplate(i.template, map[string]any{
		"Request":          req.Request,
		"AgentName":        req.AgentName,
		"AgentDescription": req.AgentDescription,
		"Hint":             hint,
		"History":          req.History,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	text, err := model.GenerateText(ctx, i.model, model.UserPrompt(instructionSystem, prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
