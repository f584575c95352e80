package core

import (
	"errors"
	"time"
)

// ErrArtifactNotFound is returned when a conversation holds no artifact
// with the requested id.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactRecord is an artifact an agent streamed during a conversation,
// assembled from its chunks.
type ArtifactRecord struct {
	AgentName string    `json:"agent_name"`
	SubTaskID string    `json:"sub_task_id"`
	Artifact  Artifact  `json:"artifact"`
	Complete  bool      `json:"complete"` // the last chunk arrived
	Updated   time.Time `json:"updated"`
}

// ArtifactStore collects artifacts from the event stream of a turn.
type ArtifactStore interface {
	// Apply records ev when it is an artifact update and ignores it otherwise.
	Apply(conversationID string, ev AgentEvent) error
	Get(conversationID, artifactID string) (ArtifactRecord, error)
	List(conversationID string) []ArtifactRecord
}
