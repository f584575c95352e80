package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role values of a Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Request captures the normalized model input produced by the oracles.
type Request struct {
	System   string    `json:"system,omitempty"` // System instructions
	Messages []Message `json:"messages"`         // Prompt turns, oldest first
	Stream   bool      `json:"stream,omitempty"` // Emit partial chunks when supported
}

// UserPrompt builds a request with a system text and one user message.
func UserPrompt(system, prompt string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Text: prompt}}}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", ...
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", ...
}

// Model is the minimal interface the oracles need to drive generation.
//
// Generate returns a response channel and an error channel; both are closed
// when generation ends. The last non-partial Response carries the full text.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrEmptyResponse is returned by GenerateText when the model produced no final text.
var ErrEmptyResponse = errors.New("model returned no text")

// GenerateText runs a request to completion and returns the final text.
func GenerateText(ctx context.Context, m Model, req Request) (string, error) {
	respCh, errCh := m.Generate(ctx, req)
	var (
		final   string
		partial strings.Builder
		gotErr  error
	)
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				partial.WriteString(r.Text)
				continue
			}
			final = r.Text
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && gotErr == nil {
				gotErr = err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if gotErr != nil {
		return "", gotErr
	}
	if final == "" {
		final = partial.String()
	}
	if strings.TrimSpace(final) == "" {
		return "", ErrEmptyResponse
	}
	return final, nil
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	fallback  func(req Request) (string, error)
	err       error
	requests  []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for a prompt containing substring.
func (m *MockModel) AddResponse(substring, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[substring] = response
}

// SetResponder installs a function that answers prompts without a canned match.
func (m *MockModel) SetResponder(fn func(req Request) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// SetError makes every Generate call fail with err.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests seen so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model; emits optional streaming chunks then a final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	failure := m.err
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if failure != nil {
			errCh <- failure
			return
		}
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		full, err := m.answer(req)
		if err != nil {
			errCh <- err
			return
		}
		if req.Stream {
			for _, word := range strings.SplitAfter(full, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: word}:
				}
			}
		}
		respCh <- Response{Text: full, FinishReason: "stop"}
	}()
	return respCh, errCh
}

func (m *MockModel) answer(req Request) (string, error) {
	prompt := req.Messages[len(req.Messages)-1].Text
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub, resp := range m.responses {
		if strings.Contains(prompt, sub) {
			return resp, nil
		}
	}
	if m.fallback != nil {
		return m.fallback(req)
	}
	return fmt.Sprintf("Mock response to: %s", prompt), nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
