package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	tu "github.com/hupe1980/agentrelay/internal/testutil"
)

func chunk(id, text string, appendChunk, last bool) core.AgentEvent {
	return core.NewAgentEvent("Movie", "sub-1", &core.ArtifactUpdate{
		TaskID:    "sub-1",
		Artifact:  core.Artifact{ID: id, Name: "picks", Parts: []core.Part{core.TextPart{Text: text}}},
		Append:    appendChunk,
		LastChunk: last,
	})
}

func TestInMemoryStore_AssemblesChunks(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.Apply("c1", chunk("a1", "Paddington 2", false, false)))
	rec, err := s.Get("c1", "a1")
	require.NoError(t, err)
	assert.False(t, rec.Complete)

	require.NoError(t, s.Apply("c1", chunk("a1", "Amélie", true, true)))
	rec, err = s.Get("c1", "a1")
	require.NoError(t, err)
	assert.True(t, rec.Complete)
	assert.Equal(t, "Movie", rec.AgentName)
	assert.Equal(t, "sub-1", rec.SubTaskID)
	assert.Equal(t, "Paddington 2\nAmélie", core.PartsText(rec.Artifact.Parts))
}

func TestInMemoryStore_ReplaceWithoutAppend(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Apply("c1", chunk("a1", "draft", false, false)))
	require.NoError(t, s.Apply("c1", chunk("a1", "final", false, true)))

	rec, err := s.Get("c1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "final", core.PartsText(rec.Artifact.Parts))
}

func TestInMemoryStore_IgnoresStatusUpdates(t *testing.T) {
	s := NewInMemoryStore()
	ev := core.NewAgentEvent("Movie", "sub-1", tu.Status("sub-1", core.TaskStateWorking, "busy"))
	require.NoError(t, s.Apply("c1", ev))
	assert.Empty(t, s.List("c1"))
}

func TestInMemoryStore_ListOrderAndIsolation(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Apply("c1", chunk("b", "second", false, true)))
	require.NoError(t, s.Apply("c1", chunk("a", "first", false, true)))
	require.NoError(t, s.Apply("c2", chunk("a", "other", false, true)))

	list := s.List("c1")
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Artifact.ID)
	assert.Equal(t, "a", list[1].Artifact.ID)

	list[0].Artifact.Parts[0] = core.TextPart{Text: "mutated"}
	rec, err := s.Get("c1", "b")
	require.NoError(t, err)
	assert.Equal(t, "second", core.PartsText(rec.Artifact.Parts))

	_, err = s.Get("c1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s.Delete("c1")
	assert.Empty(t, s.List("c1"))
	assert.Len(t, s.List("c2"), 1)
}

func TestInMemoryStore_NameAsFallbackKey(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Apply("c1", chunk("", "x", false, true)))
	rec, err := s.Get("c1", "picks")
	require.NoError(t, err)
	assert.Equal(t, "picks", rec.Artifact.ID)
}
