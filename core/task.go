package core

import (
	"strings"
	"time"
)

// TaskState enumerates the mutually exclusive states a remote task may be in.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateUnknown       TaskState = "unknown"
)

// IsTerminal reports whether no further events are expected for a task in
// this state. Rejected tasks count as failed.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	default:
		return false
	}
}

// IsInputRequired reports whether the task halted waiting on the user.
// Auth-required is treated the same way: only the user can unblock it.
func (s TaskState) IsInputRequired() bool {
	return s == TaskStateInputRequired || s == TaskStateAuthRequired
}

// TaskStatus is the state of a task plus an optional agent message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is an output produced by a remote task.
type Artifact struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parts       []Part `json:"parts"`
}

// Task is the terminal (or latest) record of a remote task, as returned by
// a point lookup.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"context_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	History   []Message  `json:"history,omitempty"`
}

// Text extracts the status message text followed by the text of every
// artifact. It returns the empty string when nothing is extractable.
func (t *Task) Text() string {
	if t == nil {
		return ""
	}
	var texts []string
	if t.Status.Message != nil {
		if s := t.Status.Message.Text(); s != "" {
			texts = append(texts, s)
		}
	}
	for _, a := range t.Artifacts {
		if s := PartsText(a.Parts); s != "" {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

// TaskEvent is one element of a remote task stream: either a *StatusUpdate
// or an *ArtifactUpdate. The set is closed by the unexported marker.
type TaskEvent interface {
	GetTaskID() string
	isTaskEvent()
}

// StatusUpdate reports a task status transition.
type StatusUpdate struct {
	TaskID    string     `json:"task_id"`
	ContextID string     `json:"context_id,omitempty"`
	Status    TaskStatus `json:"status"`
	Final     bool       `json:"final,omitempty"`
}

// GetTaskID implements TaskEvent.
func (e *StatusUpdate) GetTaskID() string { return e.TaskID }

func (*StatusUpdate) isTaskEvent() {}

// ArtifactUpdate delivers a (possibly partial) artifact.
type ArtifactUpdate struct {
	TaskID    string   `json:"task_id"`
	ContextID string   `json:"context_id,omitempty"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append,omitempty"`
	LastChunk bool     `json:"last_chunk,omitempty"`
}

// GetTaskID implements TaskEvent.
func (e *ArtifactUpdate) GetTaskID() string { return e.TaskID }

func (*ArtifactUpdate) isTaskEvent() {}

// NewStatusUpdate builds a status update carrying an optional agent text.
// An empty text produces a status without message.
func NewStatusUpdate(taskID string, state TaskState, text string) *StatusUpdate {
	st := TaskStatus{State: state, Timestamp: time.Now().UTC()}
	if text != "" {
		msg := NewAgentMessage(text)
		msg.TaskID = taskID
		st.Message = &msg
	}
	return &StatusUpdate{TaskID: taskID, Status: st, Final: state.IsTerminal()}
}

// StateOf returns the task state signalled by ev, or the empty state for
// artifact updates.
func StateOf(ev TaskEvent) TaskState {
	if su, ok := ev.(*StatusUpdate); ok {
		return su.Status.State
	}
	return ""
}

// EventText returns the human readable text carried by a task event.
func EventText(ev TaskEvent) string {
	switch e := ev.(type) {
	case *StatusUpdate:
		if e.Status.Message != nil {
			return e.Status.Message.Text()
		}
	case *ArtifactUpdate:
		return PartsText(e.Artifact.Parts)
	}
	return ""
}
