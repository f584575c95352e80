package testutil

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// EventBuilder provides a fluent helper for constructing task events in tests.
// Example:
//
//	ev := NewEventBuilder("sub-1").State(core.TaskStateCompleted).Text("hello").Build()
//
// Chain only the parts you need; a builder with no state and artifact text
// builds an artifact update, otherwise a status update.
type EventBuilder struct {
	taskID    string
	contextID string
	state     core.TaskState
	texts     []string
	artifact  []string
	final     *bool
	ts        time.Time
}

// NewEventBuilder creates a builder for events of the given task.
func NewEventBuilder(taskID string) *EventBuilder { return &EventBuilder{taskID: taskID} }

// Context sets the context (session) id (chainable).
func (b *EventBuilder) Context(id string) *EventBuilder { b.contextID = id; return b }

// State sets the task state of a status update (chainable).
func (b *EventBuilder) State(s core.TaskState) *EventBuilder { b.state = s; return b }

// Text appends a text part to the status message (chainable).
func (b *EventBuilder) Text(t string) *EventBuilder { b.texts = append(b.texts, t); return b }

// ArtifactText appends a text part to the artifact (chainable).
func (b *EventBuilder) ArtifactText(t string) *EventBuilder {
	b.artifact = append(b.artifact, t)
	return b
}

// Final overrides the final flag, which otherwise follows the state (chainable).
func (b *EventBuilder) Final(f bool) *EventBuilder { b.final = &f; return b }

// At pins the status timestamp (chainable).
func (b *EventBuilder) At(ts time.Time) *EventBuilder { b.ts = ts; return b }

// Build constructs the core.TaskEvent value.
func (b *EventBuilder) Build() core.TaskEvent {
	if b.state == "" && len(b.artifact) > 0 {
		parts := make([]core.Part, 0, len(b.artifact))
		for _, t := range b.artifact {
			parts = append(parts, core.TextPart{Text: t})
		}
		return &core.ArtifactUpdate{
			TaskID:    b.taskID,
			ContextID: b.contextID,
			Artifact:  core.Artifact{ID: b.taskID + "-artifact", Parts: parts},
			LastChunk: true,
		}
	}

	state := b.state
	if state == "" {
		state = core.TaskStateWorking
	}
	ev := core.NewStatusUpdate(b.taskID, state, "")
	ev.ContextID = b.contextID
	if len(b.texts) > 0 {
		msg := core.Message{Role: core.RoleAgent, TaskID: b.taskID, ContextID: b.contextID}
		for _, t := range b.texts {
			msg.Parts = append(msg.Parts, core.TextPart{Text: t})
		}
		ev.Status.Message = &msg
	}
	if b.final != nil {
		ev.Final = *b.final
	}
	if !b.ts.IsZero() {
		ev.Status.Timestamp = b.ts
	}
	return ev
}

// Status is shorthand for NewEventBuilder(taskID).State(state).Text(text).Build().
func Status(taskID string, state core.TaskState, text string) core.TaskEvent {
	b := NewEventBuilder(taskID).State(state)
	if text != "" {
		b.Text(text)
	}
	return b.Build()
}

// Artifact is shorthand for an artifact update carrying text.
func Artifact(taskID, text string) core.TaskEvent {
	return NewEventBuilder(taskID).ArtifactText(text).Build()
}

// CompletedTask builds a terminal task record with a status message and
// optional artifact texts.
func CompletedTask(taskID, text string, artifacts ...string) *core.Task {
	t := &core.Task{ID: taskID, Status: core.TaskStatus{State: core.TaskStateCompleted, Timestamp: time.Now().UTC()}}
	if text != "" {
		msg := core.NewAgentMessage(text)
		msg.TaskID = taskID
		t.Status.Message = &msg
	}
	for i, a := range artifacts {
		t.Artifacts = append(t.Artifacts, core.Artifact{ID: taskID + "-" + string(rune('a'+i)), Parts: []core.Part{core.TextPart{Text: a}}})
	}
	return t
}
