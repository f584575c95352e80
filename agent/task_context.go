package agent

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
)

// ErrStreamClosed is returned by TaskContext reports once the consumer
// closed the stream.
var ErrStreamClosed = errors.New("agent: stream closed by consumer")

// TaskContext is handed to a Handler for one message of a task.
//
// Reports are delivered to the stream consumer synchronously: a report
// returns once the event was received, or ErrStreamClosed once the consumer
// went away. RequireInput, Complete and Fail end the handler's turn; later
// reports return ErrTaskClosed.
type TaskContext struct {
	TaskID    string
	SessionID string
	// Message is the incoming message.
	Message core.Message
	// History holds the earlier messages of the same task, oldest first:
	// the user messages and the agent's status messages.
	History []core.Message

	local  *Local
	stream *taskStream
	gen    uint64

	mu    sync.Mutex
	final bool
}

// Text returns the text of the incoming message.
func (tc *TaskContext) Text() string { return tc.Message.Text() }

// Resumed reports whether the task asked for input before this message.
func (tc *TaskContext) Resumed() bool { return len(tc.History) > 0 }

// Working reports progress.
func (tc *TaskContext) Working(text string) error {
	return tc.status(core.TaskStateWorking, text)
}

// RequireInput suspends the task with a question for the user.
func (tc *TaskContext) RequireInput(question string) error {
	return tc.status(core.TaskStateInputRequired, question)
}

// Complete finishes the task with an optional answer.
func (tc *TaskContext) Complete(text string) error {
	return tc.status(core.TaskStateCompleted, text)
}

// Fail finishes the task as failed.
func (tc *TaskContext) Fail(reason string) error {
	return tc.status(core.TaskStateFailed, reason)
}

// Artifact delivers a named text artifact.
func (tc *TaskContext) Artifact(name, text string) error {
	if tc.reported() {
		return ErrTaskClosed
	}

	art := core.Artifact{ID: uuid.NewString(), Name: name, Parts: []core.Part{core.TextPart{Text: text}}}
	tc.local.update(tc.TaskID, func(lt *localTask) {
		lt.task.Artifacts = append(lt.task.Artifacts, art)
	})

	return tc.stream.send(&core.ArtifactUpdate{
		TaskID:    tc.TaskID,
		ContextID: tc.SessionID,
		Artifact:  art,
		LastChunk: true,
	})
}

func (tc *TaskContext) status(state core.TaskState, text string) error {
	closing := state.IsTerminal() || state.IsInputRequired()

	tc.mu.Lock()
	if tc.final {
		tc.mu.Unlock()
		return ErrTaskClosed
	}
	tc.final = closing
	tc.mu.Unlock()

	ev := core.NewStatusUpdate(tc.TaskID, state, text)
	ev.ContextID = tc.SessionID
	if ev.Status.Message != nil {
		ev.Status.Message.ContextID = tc.SessionID
	}

	tc.local.update(tc.TaskID, func(lt *localTask) {
		lt.task.Status = ev.Status
		if ev.Status.Message != nil {
			m := ev.Status.Message.Clone()
			lt.task.Status.Message = &m
			lt.task.History = append(lt.task.History, m)
		}
		// A suspended or finished task accepts the next message right away.
		if closing && lt.gen == tc.gen {
			lt.running = false
		}
	})

	return tc.stream.send(ev)
}

func (tc *TaskContext) reported() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.final
}

func (tc *TaskContext) release() {
	tc.local.update(tc.TaskID, func(lt *localTask) {
		if lt.gen == tc.gen {
			lt.running = false
		}
	})
}

// taskStream hands events from the handler goroutine to the consumer
// without buffering.
type taskStream struct {
	events    chan core.TaskEvent
	finished  chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	cancel    context.CancelFunc
}

func newTaskStream(cancel context.CancelFunc) *taskStream {
	return &taskStream{
		events:   make(chan core.TaskEvent),
		finished: make(chan struct{}),
		closed:   make(chan struct{}),
		cancel:   cancel,
	}
}

func (s *taskStream) send(ev core.TaskEvent) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.closed:
		return ErrStreamClosed
	}
}

// finish is called by the producer after its last send.
func (s *taskStream) finish() {
	close(s.finished)
	s.cancel()
}

// Recv implements core.TaskStream.
func (s *taskStream) Recv() (core.TaskEvent, error) {
	select {
	case <-s.closed:
		return nil, ErrStreamClosed
	default:
	}

	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.finished:
		return nil, io.EOF
	case <-s.closed:
		return nil, ErrStreamClosed
	}
}

// Close implements core.TaskStream. It cancels the handler's context.
func (s *taskStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
	})
	return nil
}
