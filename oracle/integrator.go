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

// AttributedConcat joins per-agent texts, each under a bracketed agent
// name, separated by blank lines. It is the integration fallback.
func AttributedConcat(responses []core.AgentResponse) string {
	var b strings.Builder
	for _, r := range responses {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", r.AgentName, text)
	}
	return b.String()
}

// ConcatIntegrator composes by attributed concatenation.
type ConcatIntegrator struct{}

// Compose implements core.Integrator.
func (ConcatIntegrator) Compose(_ context.Context, _ string, responses []core.AgentResponse, _ core.TaskPlan) (string, error) {
	return AttributedConcat(responses), nil
}

// LLMIntegratorOptions configures an LLMIntegrator.
type LLMIntegratorOptions struct {
	// Template overrides DefaultIntegratorTemplate.
	Template string

	// Stream asks the model for incremental output.
	Stream bool

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// LLMIntegrator asks a model to merge the agents' answers into one reply.
type LLMIntegrator struct {
	model    model.Model
	template string
	stream   bool
	logger   *logging.RelayLogger
}

// NewLLMIntegrator creates a model-backed integrator.
func NewLLMIntegrator(m model.Model, optFns ...func(o *LLMIntegratorOptions)) *LLMIntegrator {
	opts := LLMIntegratorOptions{
		Template: DefaultIntegratorTemplate,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LLMIntegrator{
		model:    m,
		template: opts.Template,
		stream:   opts.Stream,
		logger:   logging.NewRelayLogger(opts.Logger).WithComponent("integrator"),
	}
}

// Compose implements core.Integrator.
func (i *LLMIntegrator) Compose(ctx context.Context, request string, responses []core.AgentResponse, _ core.TaskPlan) (reply string, err error) {
	start := time.Now()
	defer func() {
		if err != nil {
			err = &core.OracleError{Oracle: core.OracleIntegrator, Err: err}
		}
		i.logger.LogOracleCall(core.OracleIntegrator, time.Since(start), err)
	}()

	prompt, err := util.RenderTemplate(i.template, map[string]any{
		"Request":   request,
		"Responses": responses,
	})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	req := model.UserPrompt(integratorSystem, prompt)
	req.Stream = i.stream
	text, err := model.GenerateText(ctx, i.model, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
