package core

import (
	"strings"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Part represents a polymorphic segment of message or artifact content.
// Concrete part types implement the unexported isPart marker enabling a
// closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text     string         // Plain UTF-8 text
	Metadata map[string]any // Optional producer-provided metadata
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// DataPart is a structured data segment (e.g., JSON object map).
type DataPart struct {
	Data     map[string]any // Structured key/value payload
	Metadata map[string]any
}

// isPart implements the Part interface for DataPart.
func (DataPart) isPart() {}

// FilePart is a file attachment segment.
type FilePart struct {
	File     FileContent
	Metadata map[string]any
}

// isPart implements the Part interface for FilePart.
func (FilePart) isPart() {}

// FileContent describes a file either inlined as base64 bytes or referenced by URI.
type FileContent struct {
	Bytes    string // Base64 encoded contents (if inlined)
	MimeType string
	Name     string
	URI      string // External retrieval URI (if not inlined)
}

// Message is a single role-tagged exchange unit carried between the user,
// the orchestrator and remote agents.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	TaskID    string `json:"task_id,omitempty"`
	ContextID string `json:"context_id,omitempty"`
}

// NewTextMessage creates a message with a single text part and a fresh id.
func NewTextMessage(role, text string) Message {
	return Message{ID: uuid.NewString(), Role: role, Parts: []Part{TextPart{Text: text}}}
}

// NewUserMessage is shorthand for NewTextMessage(RoleUser, text).
func NewUserMessage(text string) Message { return NewTextMessage(RoleUser, text) }

// NewAgentMessage is shorthand for NewTextMessage(RoleAgent, text).
func NewAgentMessage(text string) Message { return NewTextMessage(RoleAgent, text) }

// Text concatenates the text parts of the message. Non-text parts are ignored.
func (m Message) Text() string { return PartsText(m.Parts) }

// Clone returns a copy of the message with its own parts slice.
func (m Message) Clone() Message {
	c := m
	c.Parts = append([]Part(nil), m.Parts...)
	return c
}

// PartsText joins the text of every TextPart in order, separated by newlines.
func PartsText(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if tp, ok := p.(TextPart); ok && strings.TrimSpace(tp.Text) != "" {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}
