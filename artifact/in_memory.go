package artifact

import (
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// Compile-time check.
var _ core.ArtifactStore = (*InMemoryStore)(nil)

// InMemoryStore is an in‑process ArtifactStore implementation useful for
// tests, examples and single‑process deployments. Records are copied on
// retrieval so callers cannot mutate stored parts.
//
// Layout: conversationID -> artifactID -> record, plus first-seen order.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]*core.ArtifactRecord
	order     map[string][]string
	now       func() time.Time
}

// NewInMemoryStore returns an empty in‑memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		artifacts: make(map[string]map[string]*core.ArtifactRecord),
		order:     make(map[string][]string),
		now:       time.Now,
	}
}

// Apply implements core.ArtifactStore. An update without the append flag
// replaces the artifact; an appending update for an unknown artifact
// starts it.
func (s *InMemoryStore) Apply(conversationID string, ev core.AgentEvent) error {
	up, ok := ev.Event.(*core.ArtifactUpdate)
	if !ok {
		return nil
	}
	id := key(up.Artifact)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.artifacts[conversationID]
	if !ok {
		m = make(map[string]*core.ArtifactRecord)
		s.artifacts[conversationID] = m
	}

	rec, exists := m[id]
	if !exists {
		rec = &core.ArtifactRecord{AgentName: ev.AgentName, SubTaskID: ev.SubTaskID}
		m[id] = rec
		s.order[conversationID] = append(s.order[conversationID], id)
	}

	if exists && up.Append {
		rec.Artifact.Parts = append(rec.Artifact.Parts, up.Artifact.Parts...)
		if up.Artifact.Name != "" {
			rec.Artifact.Name = up.Artifact.Name
		}
		if up.Artifact.Description != "" {
			rec.Artifact.Description = up.Artifact.Description
		}
	} else {
		rec.Artifact = cloneArtifact(up.Artifact)
		rec.Artifact.ID = id
	}
	rec.Complete = up.LastChunk
	rec.Updated = s.now()
	return nil
}

// Get returns a copy of the artifact or ErrNotFound.
func (s *InMemoryStore) Get(conversationID, artifactID string) (core.ArtifactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.artifacts[conversationID][artifactID]
	if !ok {
		return core.ArtifactRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// List returns the conversation's artifacts in the order they first
// appeared. The slice is a snapshot and safe for caller mutation.
func (s *InMemoryStore) List(conversationID string) []core.ArtifactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[conversationID]
	out := make([]core.ArtifactRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneRecord(s.artifacts[conversationID][id]))
	}
	return out
}

// Delete drops every artifact of the conversation.
func (s *InMemoryStore) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, conversationID)
	delete(s.order, conversationID)
}

// key falls back to the name for agents that do not number their artifacts.
func key(a core.Artifact) string {
	if a.ID != "" {
		return a.ID
	}
	return a.Name
}

func cloneArtifact(a core.Artifact) core.Artifact {
	a.Parts = append([]core.Part(nil), a.Parts...)
	return a
}

func cloneRecord(r *core.ArtifactRecord) core.ArtifactRecord {
	c := *r
	c.Artifact = cloneArtifact(r.Artifact)
	return c
}
