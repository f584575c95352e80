package core

import (
	"context"
	"time"
)

// AgentStatus is the reachability of a managed agent.
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusUnreachable AgentStatus = "unreachable"
)

// Skill is a capability declared by a remote agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// AgentDescriptor is what a remote agent reports about itself.
type AgentDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	Skills      []Skill `json:"skills"`
	Reachable   bool    `json:"reachable"`
}

// ManagedAgent is a remote agent known to the directory.
//
// Contract:
//   - ID is derived deterministically from Address
//   - Capabilities holds the lower-cased tokens indexed for lookup
//   - Status and LastChecked are only mutated by the directory
type ManagedAgent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Address      string      `json:"address"`
	Skills       []Skill     `json:"skills,omitempty"`
	Capabilities []string    `json:"capabilities"`
	Status       AgentStatus `json:"status"`
	LastChecked  time.Time   `json:"last_checked"`
}

// IsActive reports whether the agent is currently considered reachable.
func (a ManagedAgent) IsActive() bool { return a.Status == AgentStatusActive }

// Clone returns a deep copy safe for independent mutation.
func (a ManagedAgent) Clone() ManagedAgent {
	c := a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.Skills = make([]Skill, len(a.Skills))
	for i, s := range a.Skills {
		s.Tags = append([]string(nil), s.Tags...)
		c.Skills[i] = s
	}
	return c
}

// TaskStream is a lazy, finite, non-restartable sequence of task events.
//
// Recv blocks until the next event is available and returns io.EOF once the
// remote side ended the stream. Recv must not be called concurrently. Close
// releases the underlying transport and may be called at any time, including
// before the stream is exhausted. Close should unblock a pending Recv; a
// stream that does not keeps one goroutine parked until Recv returns, but
// never delays a canceled execution.
type TaskStream interface {
	Recv() (TaskEvent, error)
	Close() error
}

// RemoteAgent is the capability surface of one remote task-execution service.
type RemoteAgent interface {
	// StreamTask sends message to the sub-task identified by subTaskID within
	// session sessionID and returns its event stream. Reusing the id of a
	// suspended sub-task resumes it.
	StreamTask(ctx context.Context, subTaskID, sessionID string, message Message) (TaskStream, error)

	// GetTask returns the latest record of a task, or (nil, nil) when the
	// agent does not know the id.
	GetTask(ctx context.Context, subTaskID string) (*Task, error)

	// Describe fetches the agent's self description.
	Describe(ctx context.Context) (AgentDescriptor, error)
}

// Dialer creates RemoteAgent clients for addresses.
type Dialer interface {
	Dial(ctx context.Context, address string) (RemoteAgent, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (RemoteAgent, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (RemoteAgent, error) {
	return f(ctx, address)
}
