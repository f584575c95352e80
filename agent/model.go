package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// DefaultInputPrefix marks a model answer that asks the user for input.
const DefaultInputPrefix = "NEED_INPUT:"

// ModelHandlerOptions configures a ModelHandler.
type ModelHandlerOptions struct {
	Instruction Instruction
	// EnableStreaming forwards partial model output as working updates.
	EnableStreaming bool
	// MaxHistoryMessages bounds the earlier task messages sent to the model.
	// Zero or less sends all of them.
	MaxHistoryMessages int
	// InputPrefix turns an answer starting with it into a question for the
	// user. Empty disables questions.
	InputPrefix string
}

// ModelHandler answers task messages with a language model.
type ModelHandler struct {
	llm                model.Model
	instruction        Instruction
	enableStreaming    bool
	maxHistoryMessages int
	inputPrefix        string
}

// NewModelHandler creates a handler for an agent named name backed by llm.
//
// The default instruction presents the agent by name and tells the model to
// prefix questions with DefaultInputPrefix.
func NewModelHandler(name string, llm model.Model, optFns ...func(o *ModelHandlerOptions)) *ModelHandler {
	opts := ModelHandlerOptions{
		Instruction: NewInstructionFromText(fmt.Sprintf(
			"You are %s, a helpful AI assistant. If you cannot answer without more details from the user, "+
				"reply with %s followed by a single question.", name, DefaultInputPrefix)),
		MaxHistoryMessages: 20,
		InputPrefix:        DefaultInputPrefix,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &ModelHandler{
		llm:                llm,
		instruction:        opts.Instruction,
		enableStreaming:    opts.EnableStreaming,
		maxHistoryMessages: opts.MaxHistoryMessages,
		inputPrefix:        opts.InputPrefix,
	}
}

// Handle implements Handler.
func (h *ModelHandler) Handle(ctx context.Context, tc *TaskContext) error {
	system, err := h.instruction.Resolve(tc)
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}

	req := model.Request{System: system, Stream: h.enableStreaming}
	history := tc.History
	if h.maxHistoryMessages > 0 && len(history) > h.maxHistoryMessages {
		history = history[len(history)-h.maxHistoryMessages:]
	}
	for _, m := range history {
		req.Messages = append(req.Messages, promptMessage(m))
	}
	req.Messages = append(req.Messages, promptMessage(tc.Message))

	answer, err := h.generate(ctx, tc, req)
	if err != nil {
		return err
	}

	if h.inputPrefix != "" && strings.HasPrefix(answer, h.inputPrefix) {
		return tc.RequireInput(strings.TrimSpace(strings.TrimPrefix(answer, h.inputPrefix)))
	}
	return tc.Complete(answer)
}

func (h *ModelHandler) generate(ctx context.Context, tc *TaskContext, req model.Request) (string, error) {
	if !h.enableStreaming {
		return model.GenerateText(ctx, h.llm, req)
	}

	respCh, errCh := h.llm.Generate(ctx, req)
	var (
		final   string
		partial strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !r.Partial {
				final = r.Text
				continue
			}
			partial.WriteString(r.Text)
			if err := tc.Working(r.Text); err != nil {
				return "", err
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if final == "" {
		final = partial.String()
	}
	if strings.TrimSpace(final) == "" {
		return "", model.ErrEmptyResponse
	}
	return final, nil
}

func promptMessage(m core.Message) model.Message {
	role := model.RoleUser
	if m.Role == core.RoleAgent {
		role = model.RoleAssistant
	}
	return model.Message{Role: role, Text: m.Text()}
}
