package testutil

import (
	"github.com/hupe1980/agentrelay/core"
)

type turnSpec struct {
	user, agent string
}

// ConversationBuilder seeds a ConversationStore with fluent chaining.
// Example:
//
//	err := NewConversationBuilder("c1").Turn("hi", "hello").Pending("Movie", "sub-1").Into(store)
type ConversationBuilder struct {
	id      string
	turns   []turnSpec
	pending *core.PendingSuspension
}

// NewConversationBuilder creates a builder for the conversation id.
func NewConversationBuilder(id string) *ConversationBuilder {
	return &ConversationBuilder{id: id}
}

// Turn appends a user turn with an optional agent response (chainable).
func (b *ConversationBuilder) Turn(user, agent string) *ConversationBuilder {
	b.turns = append(b.turns, turnSpec{user: user, agent: agent})
	return b
}

// Pending sets the suspension slot (chainable).
func (b *ConversationBuilder) Pending(agentName, subTaskID string) *ConversationBuilder {
	b.pending = &core.PendingSuspension{AgentName: agentName, SubTaskID: subTaskID}
	return b
}

// Into replays the builder through the store's public operations.
func (b *ConversationBuilder) Into(store core.ConversationStore) error {
	if _, err := store.Create(b.id); err != nil {
		return err
	}
	for _, t := range b.turns {
		if err := store.RecordUserTurn(b.id, core.NewUserMessage(t.user), ""); err != nil {
			return err
		}
		if t.agent == "" {
			continue
		}
		if err := store.RecordAgentResponse(b.id, core.NewAgentMessage(t.agent)); err != nil {
			return err
		}
	}
	if b.pending != nil {
		return store.SetSuspension(b.id, b.pending.AgentName, b.pending.SubTaskID)
	}
	return nil
}
