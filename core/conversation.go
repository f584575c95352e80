package core

import "time"

// SubTaskDispatch is an audit record of one sub-task dispatch attempt. It is
// kept for observability only and never consulted for control flow.
type SubTaskDispatch struct {
	AgentName string    `json:"agent_name"`
	SubTaskID string    `json:"sub_task_id"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one user message plus what the orchestrator did about it.
type Turn struct {
	UserMessage     Message           `json:"user_message"`
	AgentResponse   *Message          `json:"agent_response,omitempty"`
	SubTaskParentID string            `json:"sub_task_parent_id,omitempty"`
	Dispatches      []SubTaskDispatch `json:"dispatches,omitempty"`
	Created         time.Time         `json:"created"`
}

// PendingSuspension marks the sub-task that is waiting on user input.
type PendingSuspension struct {
	AgentName string    `json:"agent_name"`
	SubTaskID string    `json:"sub_task_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an append-only turn log plus a single suspension slot.
//
// Contract:
//   - Turns are never removed or reordered; the current turn is the last one
//   - Suspension holds at most one marker; a new one replaces the old one
type Conversation struct {
	ID         string             `json:"id"`
	Turns      []Turn             `json:"turns"`
	Suspension *PendingSuspension `json:"suspension,omitempty"`
	Created    time.Time          `json:"created"`
	Updated    time.Time          `json:"updated"`
}

// NewConversation creates an empty conversation with the given id.
func NewConversation(id string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, Turns: []Turn{}, Created: now, Updated: now}
}

// CurrentTurn returns the last turn, or nil when there are none.
func (c *Conversation) CurrentTurn() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return &c.Turns[len(c.Turns)-1]
}

// Clone returns a deep copy of the conversation safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{ID: c.ID, Turns: make([]Turn, len(c.Turns)), Created: c.Created, Updated: c.Updated}
	for i, t := range c.Turns {
		t.UserMessage = t.UserMessage.Clone()
		if t.AgentResponse != nil {
			resp := t.AgentResponse.Clone()
			t.AgentResponse = &resp
		}
		t.Dispatches = append([]SubTaskDispatch(nil), t.Dispatches...)
		clone.Turns[i] = t
	}
	if c.Suspension != nil {
		s := *c.Suspension
		clone.Suspension = &s
	}
	return clone
}

// ConversationStore holds per-conversation state.
//
// Lookups (Get, Suspension) report absence with a boolean. Every mutating
// method fails with ErrConversationNotFound for an unknown id, except
// ClearSuspension which is a no-op.
type ConversationStore interface {
	Create(id string) (*Conversation, error)
	Get(id string) (*Conversation, bool)
	RecordUserTurn(id string, message Message, subTaskParentID string) error
	RecordAgentResponse(id string, message Message) error
	SetSuspension(id, agentName, subTaskID string) error
	ClearSuspension(id string) error
	Suspension(id string) (*PendingSuspension, bool)
	RecordSubTaskDispatch(id, agentName, subTaskID string, success bool) error
	LastUserMessage(id string) (Message, error)
	Summarize(id string, maxTurns int) (string, error)
}
