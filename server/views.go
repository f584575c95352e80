package server

import (
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/runner"
)

// AgentView is the JSON form of a managed agent.
type AgentView struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Address      string       `json:"address"`
	Status       string       `json:"status"`
	Skills       []core.Skill `json:"skills"`
	Capabilities []string     `json:"capabilities"`
	LastChecked  time.Time    `json:"last_checked"`
}

func agentView(a core.ManagedAgent) AgentView {
	skills := a.Skills
	if skills == nil {
		skills = []core.Skill{}
	}
	return AgentView{
		ID:           a.ID,
		Name:         a.Name,
		Description:  a.Description,
		Address:      a.Address,
		Status:       string(a.Status),
		Skills:       skills,
		Capabilities: a.Capabilities,
		LastChecked:  a.LastChecked,
	}
}

func agentViews(agents []core.ManagedAgent) []AgentView {
	out := make([]AgentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView(a))
	}
	return out
}

// MessageView is the JSON form of a message, reduced to its text.
type MessageView struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

func messageView(m core.Message) MessageView {
	return MessageView{ID: m.ID, Role: m.Role, Text: m.Text()}
}

// TurnView is the JSON form of a conversation turn.
type TurnView struct {
	User         MessageView            `json:"user"`
	Reply        *MessageView           `json:"reply,omitempty"`
	ParentTaskID string                 `json:"parent_task_id,omitempty"`
	Dispatches   []core.SubTaskDispatch `json:"dispatches,omitempty"`
	Created      time.Time              `json:"created"`
}

// ConversationView is the JSON form of a conversation.
type ConversationView struct {
	ID         string                  `json:"id"`
	Turns      []TurnView              `json:"turns"`
	Suspension *core.PendingSuspension `json:"suspension,omitempty"`
	Created    time.Time               `json:"created"`
	Updated    time.Time               `json:"updated"`
}

func conversationView(c *core.Conversation) ConversationView {
	v := ConversationView{
		ID:         c.ID,
		Turns:      make([]TurnView, 0, len(c.Turns)),
		Suspension: c.Suspension,
		Created:    c.Created,
		Updated:    c.Updated,
	}
	for _, t := range c.Turns {
		tv := TurnView{
			User:         messageView(t.UserMessage),
			ParentTaskID: t.SubTaskParentID,
			Dispatches:   t.Dispatches,
			Created:      t.Created,
		}
		if t.AgentResponse != nil {
			r := messageView(*t.AgentResponse)
			tv.Reply = &r
		}
		v.Turns = append(v.Turns, tv)
	}
	return v
}

// EventView is the JSON form of a tagged agent event.
type EventView struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	SubTaskID string    `json:"sub_task_id,omitempty"`
	Kind      string    `json:"kind"` // status or artifact
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func eventView(ev core.AgentEvent) EventView {
	v := EventView{
		ID:        ev.ID,
		Agent:     ev.AgentName,
		SubTaskID: ev.SubTaskID,
		State:     string(ev.State()),
		Text:      ev.Text(),
		Timestamp: ev.Timestamp,
	}
	switch e := ev.Event.(type) {
	case *core.StatusUpdate:
		v.Kind = "status"
		v.Final = e.Final
	case *core.ArtifactUpdate:
		v.Kind = "artifact"
		v.Final = e.LastChunk
	}
	return v
}

// ArtifactView is the JSON form of a collected artifact, reduced to its text.
type ArtifactView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Agent     string    `json:"agent"`
	SubTaskID string    `json:"sub_task_id"`
	Complete  bool      `json:"complete"`
	Text      string    `json:"text"`
	Updated   time.Time `json:"updated"`
}

func artifactView(rec core.ArtifactRecord) ArtifactView {
	return ArtifactView{
		ID:        rec.Artifact.ID,
		Name:      rec.Artifact.Name,
		Agent:     rec.AgentName,
		SubTaskID: rec.SubTaskID,
		Complete:  rec.Complete,
		Text:      core.PartsText(rec.Artifact.Parts),
		Updated:   rec.Updated,
	}
}

// ReplyView summarizes a finished turn.
type ReplyView struct {
	ConversationID string                  `json:"conversation_id"`
	TurnID         string                  `json:"turn_id"`
	Reply          string                  `json:"reply"`
	Suspended      bool                    `json:"suspended"`
	Suspension     *core.PendingSuspension `json:"suspension,omitempty"`
	Canceled       bool                    `json:"canceled"`
	Agents         []string                `json:"agents"`
	Failed         []string                `json:"failed,omitempty"`
	PlanFallback   bool                    `json:"plan_fallback,omitempty"`
}

func replyView(res runner.TurnResult) ReplyView {
	agents := res.Dispatched
	if agents == nil {
		agents = []string{}
	}
	return ReplyView{
		ConversationID: res.ConversationID,
		TurnID:         res.TurnID,
		Reply:          res.Reply,
		Suspended:      res.Suspended,
		Suspension:     res.Suspension,
		Canceled:       res.Canceled,
		Agents:         agents,
		Failed:         res.Failed,
		PlanFallback:   res.PlanFallback,
	}
}

// MessageResult is the non-streaming answer of the messages endpoint.
type MessageResult struct {
	Events []EventView `json:"events"`
	ReplyView
}
