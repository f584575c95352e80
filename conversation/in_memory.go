package conversation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Interface compliance (compile-time assertion)
var _ core.ConversationStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile ConversationStore implementation storing
// conversations in a process local map. It is safe for concurrent access.
// Each returned conversation is cloned to prevent external mutation of
// internal state.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	now           func() time.Time
}

// NewInMemoryStore constructs an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*core.Conversation),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Create allocates a new conversation. A second Create for the same id fails
// with core.ErrConversationExists.
func (s *InMemoryStore) Create(id string) (*core.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; ok {
		return nil, fmt.Errorf("create %q: %w", id, core.ErrConversationExists)
	}
	c := core.NewConversation(id)
	s.conversations[id] = c
	return c.Clone(), nil
}

// Get returns a clone of the conversation, or false when id is unknown.
func (s *InMemoryStore) Get(id string) (*core.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Delete drops a conversation. It reports whether one existed.
func (s *InMemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	return ok
}

// List returns all conversation ids in lexical order.
func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordUserTurn appends a new turn carrying message.
func (s *InMemoryStore) RecordUserTurn(id string, message core.Message, subTaskParentID string) error {
	return s.update(id, "record user turn", func(c *core.Conversation, now time.Time) error {
		c.Turns = append(c.Turns, core.Turn{
			UserMessage:     message.Clone(),
			SubTaskParentID: subTaskParentID,
			Created:         now,
		})
		return nil
	})
}

// RecordAgentResponse sets the response on the last turn.
func (s *InMemoryStore) RecordAgentResponse(id string, message core.Message) error {
	return s.update(id, "record agent response", func(c *core.Conversation, _ time.Time) error {
		turn := c.CurrentTurn()
		if turn == nil {
			return core.ErrNoTurns
		}
		resp := message.Clone()
		turn.AgentResponse = &resp
		return nil
	})
}

// SetSuspension overwrites the single suspension slot.
func (s *InMemoryStore) SetSuspension(id, agentName, subTaskID string) error {
	return s.update(id, "set suspension", func(c *core.Conversation, now time.Time) error {
		c.Suspension = &core.PendingSuspension{AgentName: agentName, SubTaskID: subTaskID, Timestamp: now}
		return nil
	})
}

// ClearSuspension empties the suspension slot. Unknown ids are a no-op.
func (s *InMemoryStore) ClearSuspension(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok && c.Suspension != nil {
		c.Suspension = nil
		c.Updated = s.now()
	}
	return nil
}

// Suspension returns a copy of the pending suspension, if any.
func (s *InMemoryStore) Suspension(id string) (*core.PendingSuspension, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok || c.Suspension == nil {
		return nil, false
	}
	p := *c.Suspension
	return &p, true
}

// RecordSubTaskDispatch appends an audit record to the last turn.
func (s *InMemoryStore) RecordSubTaskDispatch(id, agentName, subTaskID string, success bool) error {
	return s.update(id, "record dispatch", func(c *core.Conversation, now time.Time) error {
		turn := c.CurrentTurn()
		if turn == nil {
			return core.ErrNoTurns
		}
		turn.Dispatches = append(turn.Dispatches, core.SubTaskDispatch{
			AgentName: agentName,
			SubTaskID: subTaskID,
			Success:   success,
			Timestamp: now,
		})
		return nil
	})
}

// LastUserMessage returns the user message of the current turn.
func (s *InMemoryStore) LastUserMessage(id string) (core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return core.Message{}, fmt.Errorf("last user message %q: %w", id, core.ErrConversationNotFound)
	}
	turn := c.CurrentTurn()
	if turn == nil {
		return core.Message{}, fmt.Errorf("last user message %q: %w", id, core.ErrNoTurns)
	}
	return turn.UserMessage.Clone(), nil
}

// Summarize renders the last maxTurns turns oldest first as alternating
// "User:" and "Agent:" lines. A non-positive maxTurns renders every turn.
func (s *InMemoryStore) Summarize(id string, maxTurns int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return "", fmt.Errorf("summarize %q: %w", id, core.ErrConversationNotFound)
	}
	turns := c.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var b strings.Builder
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.UserMessage.Text())
		b.WriteByte('\n')
		if t.AgentResponse != nil {
			b.WriteString("Agent: ")
			b.WriteString(t.AgentResponse.Text())
			b.WriteByte('\n')
		}
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// update runs fn under the write lock against the stored conversation.
func (s *InMemoryStore) update(id, op string, fn func(c *core.Conversation, now time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%s %q: %w", op, id, core.ErrConversationNotFound)
	}
	now := s.now()
	if err := fn(c, now); err != nil {
		return fmt.Errorf("%s %q: %w", op, id, err)
	}
	c.Updated = now
	return nil
}
