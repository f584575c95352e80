package a2a

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// JSON-RPC methods spoken by Client and Handler.
const (
	MethodMessageStream = "message/stream"
	MethodTasksGet      = "tasks/get"
)

// Well-known paths of the agent card. Older agents only serve the first one.
const (
	AgentCardPath       = "/.well-known/agent.json"
	AgentCardPathLegacy = "/.well-known/agent-card.json"
)

// Result kinds carried in the "kind" discriminator of stream frames.
const (
	kindStatusUpdate   = "status-update"
	kindArtifactUpdate = "artifact-update"
	kindTask           = "task"
	kindMessage        = "message"
)

// AgentCard is the self description served under AgentCardPath.
type AgentCard struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	URL          string            `json:"url,omitempty"`
	Version      string            `json:"version,omitempty"`
	Capabilities AgentCapabilities `json:"capabilities"`
	Skills       []AgentSkill      `json:"skills"`
}

// AgentCapabilities lists optional protocol features of an agent.
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentSkill is one skill entry of an AgentCard.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func cardFromDescriptor(d core.AgentDescriptor) AgentCard {
	card := AgentCard{
		Name:         d.Name,
		Description:  d.Description,
		URL:          d.URL,
		Capabilities: AgentCapabilities{Streaming: true},
		Skills:       make([]AgentSkill, 0, len(d.Skills)),
	}
	for _, s := range d.Skills {
		card.Skills = append(card.Skills, AgentSkill(s))
	}
	return card
}

func (c AgentCard) descriptor() core.AgentDescriptor {
	d := core.AgentDescriptor{
		Name:        c.Name,
		Description: c.Description,
		URL:         c.URL,
		Skills:      make([]core.Skill, 0, len(c.Skills)),
		Reachable:   true,
	}
	for _, s := range c.Skills {
		d.Skills = append(d.Skills, core.Skill(s))
	}
	return d
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type messageParams struct {
	Message wireMessage `json:"message"`
}

type taskQueryParams struct {
	ID string `json:"id"`
}

type wirePart struct {
	Kind     string         `json:"kind"`
	Text     string         `json:"text,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	File     *wireFile      `json:"file,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type wireFile struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

type wireMessage struct {
	Kind      string     `json:"kind"`
	MessageID string     `json:"messageId"`
	Role      string     `json:"role"`
	Parts     []wirePart `json:"parts"`
	TaskID    string     `json:"taskId,omitempty"`
	ContextID string     `json:"contextId,omitempty"`
}

type wireStatus struct {
	State     string       `json:"state"`
	Message   *wireMessage `json:"message,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type wireArtifact struct {
	ArtifactID  string     `json:"artifactId"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Parts       []wirePart `json:"parts"`
}

type wireTask struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	ContextID string         `json:"contextId,omitempty"`
	Status    wireStatus     `json:"status"`
	Artifacts []wireArtifact `json:"artifacts,omitempty"`
	History   []wireMessage  `json:"history,omitempty"`
}

type wireStatusUpdate struct {
	Kind      string     `json:"kind"`
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId,omitempty"`
	Status    wireStatus `json:"status"`
	Final     bool       `json:"final"`
}

type wireArtifactUpdate struct {
	Kind      string       `json:"kind"`
	TaskID    string       `json:"taskId"`
	ContextID string       `json:"contextId,omitempty"`
	Artifact  wireArtifact `json:"artifact"`
	Append    bool         `json:"append,omitempty"`
	LastChunk bool         `json:"lastChunk,omitempty"`
}

func fromParts(parts []core.Part) []wirePart {
	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			out = append(out, wirePart{Kind: "text", Text: v.Text, Metadata: v.Metadata})
		case core.DataPart:
			out = append(out, wirePart{Kind: "data", Data: v.Data, Metadata: v.Metadata})
		case core.FilePart:
			out = append(out, wirePart{Kind: "file", Metadata: v.Metadata, File: &wireFile{
				Name:     v.File.Name,
				MimeType: v.File.MimeType,
				Bytes:    v.File.Bytes,
				URI:      v.File.URI,
			}})
		}
	}
	return out
}

// toParts drops parts of unknown kind.
func toParts(parts []wirePart) []core.Part {
	out := make([]core.Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case "text":
			out = append(out, core.TextPart{Text: p.Text, Metadata: p.Metadata})
		case "data":
			out = append(out, core.DataPart{Data: p.Data, Metadata: p.Metadata})
		case "file":
			if p.File == nil {
				continue
			}
			out = append(out, core.FilePart{Metadata: p.Metadata, File: core.FileContent{
				Name:     p.File.Name,
				MimeType: p.File.MimeType,
				Bytes:    p.File.Bytes,
				URI:      p.File.URI,
			}})
		}
	}
	return out
}

func fromMessage(m core.Message) wireMessage {
	return wireMessage{
		Kind:      kindMessage,
		MessageID: m.ID,
		Role:      m.Role,
		Parts:     fromParts(m.Parts),
		TaskID:    m.TaskID,
		ContextID: m.ContextID,
	}
}

func (m wireMessage) toCore() core.Message {
	return core.Message{
		ID:        m.MessageID,
		Role:      m.Role,
		Parts:     toParts(m.Parts),
		TaskID:    m.TaskID,
		ContextID: m.ContextID,
	}
}

func fromStatus(s core.TaskStatus) wireStatus {
	ws := wireStatus{State: string(s.State)}
	if !s.Timestamp.IsZero() {
		ws.Timestamp = s.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if s.Message != nil {
		m := fromMessage(*s.Message)
		ws.Message = &m
	}
	return ws
}

func (s wireStatus) toCore() core.TaskStatus {
	st := core.TaskStatus{State: core.TaskState(s.State)}
	if st.State == "" {
		st.State = core.TaskStateUnknown
	}
	if ts, err := time.Parse(time.RFC3339Nano, s.Timestamp); err == nil {
		st.Timestamp = ts
	}
	if s.Message != nil {
		m := s.Message.toCore()
		st.Message = &m
	}
	return st
}

func fromArtifact(a core.Artifact) wireArtifact {
	return wireArtifact{ArtifactID: a.ID, Name: a.Name, Description: a.Description, Parts: fromParts(a.Parts)}
}

func (a wireArtifact) toCore() core.Artifact {
	return core.Artifact{ID: a.ArtifactID, Name: a.Name, Description: a.Description, Parts: toParts(a.Parts)}
}

func fromTask(t *core.Task) wireTask {
	wt := wireTask{Kind: kindTask, ID: t.ID, ContextID: t.ContextID, Status: fromStatus(t.Status)}
	for _, a := range t.Artifacts {
		wt.Artifacts = append(wt.Artifacts, fromArtifact(a))
	}
	for _, m := range t.History {
		wt.History = append(wt.History, fromMessage(m))
	}
	return wt
}

func (t wireTask) toCore() *core.Task {
	task := &core.Task{ID: t.ID, ContextID: t.ContextID, Status: t.Status.toCore()}
	for _, a := range t.Artifacts {
		task.Artifacts = append(task.Artifacts, a.toCore())
	}
	for _, m := range t.History {
		task.History = append(task.History, m.toCore())
	}
	return task
}

// fromEvent encodes a task event as a stream frame result.
func fromEvent(ev core.TaskEvent) any {
	switch e := ev.(type) {
	case *core.StatusUpdate:
		return wireStatusUpdate{
			Kind:      kindStatusUpdate,
			TaskID:    e.TaskID,
			ContextID: e.ContextID,
			Status:    fromStatus(e.Status),
			Final:     e.Final,
		}
	case *core.ArtifactUpdate:
		return wireArtifactUpdate{
			Kind:      kindArtifactUpdate,
			TaskID:    e.TaskID,
			ContextID: e.ContextID,
			Artifact:  fromArtifact(e.Artifact),
			Append:    e.Append,
			LastChunk: e.LastChunk,
		}
	}
	return nil
}
