package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

var (
	// ErrTaskBusy is returned when a message targets a task that is still running.
	ErrTaskBusy = errors.New("agent: task is still running")
	// ErrTaskClosed is returned when a message targets a task in a terminal state.
	ErrTaskClosed = errors.New("agent: task already finished")
)

// Compile-time check.
var _ core.RemoteAgent = (*Local)(nil)

// Handler processes one message of a task and reports progress through tc.
type Handler interface {
	Handle(ctx context.Context, tc *TaskContext) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, tc *TaskContext) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, tc *TaskContext) error { return f(ctx, tc) }

// Options configures a Local agent.
type Options struct {
	Description string
	Skills      []core.Skill
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

type localTask struct {
	task    core.Task
	running bool
	gen     uint64 // bumped per handler run
}

// Local is an in-process core.RemoteAgent. Every StreamTask call runs the
// handler in its own goroutine; the task record is kept for GetTask and for
// resuming tasks that asked for input.
type Local struct {
	name        string
	description string
	skills      []core.Skill
	handler     Handler
	logger      *logging.RelayLogger

	mu    sync.Mutex
	tasks map[string]*localTask
}

// NewLocal creates a Local agent named name.
func NewLocal(name string, handler Handler, optFns ...func(o *Options)) *Local {
	opts := Options{
		Description: fmt.Sprintf("Agent %s", name),
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Local{
		name:        name,
		description: opts.Description,
		skills:      opts.Skills,
		handler:     handler,
		logger:      logging.NewRelayLogger(opts.Logger).WithComponent("agent").WithContext("agent", name),
		tasks:       make(map[string]*localTask),
	}
}

// Name returns the agent name.
func (l *Local) Name() string { return l.name }

// Describe implements core.RemoteAgent.
func (l *Local) Describe(context.Context) (core.AgentDescriptor, error) {
	skills := make([]core.Skill, len(l.skills))
	for i, s := range l.skills {
		s.Tags = append([]string(nil), s.Tags...)
		skills[i] = s
	}
	return core.AgentDescriptor{
		Name:        l.name,
		Description: l.description,
		URL:         Address(l.name),
		Skills:      skills,
		Reachable:   true,
	}, nil
}

// StreamTask implements core.RemoteAgent. A message for a task waiting on
// input resumes it; the handler then sees the earlier messages in
// TaskContext.History.
func (l *Local) StreamTask(ctx context.Context, subTaskID, sessionID string, message core.Message) (core.TaskStream, error) {
	msg := message.Clone()
	msg.TaskID = subTaskID
	msg.ContextID = sessionID

	l.mu.Lock()
	lt, exists := l.tasks[subTaskID]
	switch {
	case !exists:
		lt = &localTask{task: core.Task{
			ID:        subTaskID,
			ContextID: sessionID,
			Status:    core.TaskStatus{State: core.TaskStateSubmitted, Timestamp: time.Now().UTC()},
		}}
		l.tasks[subTaskID] = lt
	case lt.running:
		l.mu.Unlock()
		return nil, fmt.Errorf("task %s: %w", subTaskID, ErrTaskBusy)
	case lt.task.Status.State.IsTerminal():
		l.mu.Unlock()
		return nil, fmt.Errorf("task %s (%s): %w", subTaskID, lt.task.Status.State, ErrTaskClosed)
	}
	history := append([]core.Message(nil), lt.task.History...)
	lt.task.History = append(lt.task.History, msg)
	lt.running = true
	lt.gen++
	gen := lt.gen
	l.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	stream := newTaskStream(cancel)
	tc := &TaskContext{
		TaskID:    subTaskID,
		SessionID: sessionID,
		Message:   msg,
		History:   history,
		local:     l,
		stream:    stream,
		gen:       gen,
	}

	l.logger.Debug("Task started", "sub_task_id", subTaskID, "resumed", exists)

	go l.run(runCtx, tc)

	return stream, nil
}

func (l *Local) run(ctx context.Context, tc *TaskContext) {
	defer tc.stream.finish()
	defer tc.release()

	err := l.handler.Handle(ctx, tc)

	switch {
	case tc.reported():
	case err != nil:
		l.logger.Warn("Handler failed", "sub_task_id", tc.TaskID, "error", err.Error())
		_ = tc.Fail(err.Error())
	default:
		_ = tc.Complete("")
	}
}

// GetTask implements core.RemoteAgent.
func (l *Local) GetTask(_ context.Context, subTaskID string) (*core.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lt, ok := l.tasks[subTaskID]
	if !ok {
		return nil, nil
	}
	return cloneTask(lt.task), nil
}

// update applies fn to the task record under the agent lock.
func (l *Local) update(taskID string, fn func(lt *localTask)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lt, ok := l.tasks[taskID]; ok {
		fn(lt)
	}
}

func cloneTask(t core.Task) *core.Task {
	c := t
	if t.Status.Message != nil {
		m := t.Status.Message.Clone()
		c.Status.Message = &m
	}
	c.Artifacts = append([]core.Artifact(nil), t.Artifacts...)
	c.History = make([]core.Message, len(t.History))
	for i, m := range t.History {
		c.History[i] = m.Clone()
	}
	return &c
}
