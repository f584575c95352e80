package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// StreamCall records one StreamTask invocation.
type StreamCall struct {
	SubTaskID string
	SessionID string
	Message   core.Message
}

// FakeAgent is a scriptable core.RemoteAgent.
//
// StreamTask hands out queued streams in order; when the queue is empty it
// uses StreamFunc, or else returns an empty stream.
type FakeAgent struct {
	mu          sync.Mutex
	descriptor  core.AgentDescriptor
	describeErr error
	streamErr   error
	streams     []core.TaskStream
	tasks       map[string]*core.Task
	getTaskErr  error
	calls       []StreamCall
	getCalls    []string

	// StreamFunc, when set, serves StreamTask calls once the queue is empty.
	StreamFunc func(subTaskID string, msg core.Message) (core.TaskStream, error)
}

// NewFakeAgent returns a reachable agent with the given name and skills.
func NewFakeAgent(name, description string, skills ...core.Skill) *FakeAgent {
	return &FakeAgent{
		descriptor: core.AgentDescriptor{Name: name, Description: description, Skills: skills, Reachable: true},
		tasks:      make(map[string]*core.Task),
	}
}

// WithStream queues a stream for the next StreamTask call (chainable).
func (a *FakeAgent) WithStream(s core.TaskStream) *FakeAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams = append(a.streams, s)
	return a
}

// WithTask stores a record served by GetTask (chainable).
func (a *FakeAgent) WithTask(t *core.Task) *FakeAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[t.ID] = t
	return a
}

// FailStream makes every StreamTask call fail with err (chainable).
func (a *FakeAgent) FailStream(err error) *FakeAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streamErr = err
	return a
}

// FailDescribe makes Describe fail with err; nil restores it.
func (a *FakeAgent) FailDescribe(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.describeErr = err
}

// FailGetTask makes GetTask fail with err (chainable).
func (a *FakeAgent) FailGetTask(err error) *FakeAgent {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getTaskErr = err
	return a
}

// StreamTask implements core.RemoteAgent.
func (a *FakeAgent) StreamTask(_ context.Context, subTaskID, sessionID string, msg core.Message) (core.TaskStream, error) {
	a.mu.Lock()
	a.calls = append(a.calls, StreamCall{SubTaskID: subTaskID, SessionID: sessionID, Message: msg.Clone()})
	if a.streamErr != nil {
		err := a.streamErr
		a.mu.Unlock()
		return nil, err
	}
	if len(a.streams) > 0 {
		s := a.streams[0]
		a.streams = a.streams[1:]
		a.mu.Unlock()
		return s, nil
	}
	fn := a.StreamFunc
	a.mu.Unlock()
	if fn != nil {
		return fn(subTaskID, msg)
	}
	return NewScriptedStream(), nil
}

// GetTask implements core.RemoteAgent.
func (a *FakeAgent) GetTask(_ context.Context, subTaskID string) (*core.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getCalls = append(a.getCalls, subTaskID)
	if a.getTaskErr != nil {
		return nil, a.getTaskErr
	}
	t, ok := a.tasks[subTaskID]
	if !ok {
		return nil, nil
	}
	return t, nil
}

// Describe implements core.RemoteAgent.
func (a *FakeAgent) Describe(context.Context) (core.AgentDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.describeErr != nil {
		return core.AgentDescriptor{}, a.describeErr
	}
	return a.descriptor, nil
}

// StreamCalls returns a copy of the recorded StreamTask calls.
func (a *FakeAgent) StreamCalls() []StreamCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]StreamCall(nil), a.calls...)
}

// GetTaskCalls returns the ids passed to GetTask.
func (a *FakeAgent) GetTaskCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.getCalls...)
}

// FakeDialer is a core.Dialer over a fixed address table.
type FakeDialer struct {
	mu     sync.Mutex
	agents map[string]core.RemoteAgent
}

// NewFakeDialer returns an empty dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{agents: make(map[string]core.RemoteAgent)}
}

// Add binds address to agent (chainable).
func (d *FakeDialer) Add(address string, agent core.RemoteAgent) *FakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[address] = agent
	return d
}

// Dial implements core.Dialer.
func (d *FakeDialer) Dial(_ context.Context, address string) (core.RemoteAgent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.agents[address]
	if !ok {
		return nil, fmt.Errorf("testutil: no agent at %s", address)
	}
	return a, nil
}

// Collect drains events until the channel closes, failing t after timeout.
func Collect(t testing.TB, events <-chan core.AgentEvent, timeout time.Duration) []core.AgentEvent {
	t.Helper()
	var out []core.AgentEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("event channel not closed after %s (%d events received)", timeout, len(out))
			return out
		}
	}
}
