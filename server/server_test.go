package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/artifact"
	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	"github.com/hupe1980/agentrelay/engine"
	tu "github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/oracle"
	"github.com/hupe1980/agentrelay/runner"
)

type fixture struct {
	dir       *directory.Directory
	store     *conversation.InMemoryStore
	artifacts *artifact.InMemoryStore
	srv       *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	w := tu.NewFakeAgent("Weather", "Forecasts", core.Skill{ID: "forecast", Name: "Forecast", Tags: []string{"weather"}})
	w.StreamFunc = func(subTaskID string, msg core.Message) (core.TaskStream, error) {
		if msg.Text() == "Berlin" {
			w.WithTask(tu.CompletedTask(subTaskID, "Sunny in Berlin"))
			return tu.NewScriptedStream(
				tu.Artifact(subTaskID, "Berlin: 24°C"),
				tu.Status(subTaskID, core.TaskStateCompleted, "done"),
			), nil
		}
		return tu.NewScriptedStream(
			tu.Status(subTaskID, core.TaskStateWorking, "looking"),
			tu.Status(subTaskID, core.TaskStateInputRequired, "Which city?"),
		), nil
	}

	dialer := tu.NewFakeDialer().Add("http://weather", w)
	reg := prometheus.NewRegistry()

	f := &fixture{
		dir: directory.New(func(o *directory.Options) {
			o.Dialer = dialer
			o.Registerer = reg
		}),
		store:     conversation.NewInMemoryStore(),
		artifacts: artifact.NewInMemoryStore(),
	}

	eng := engine.New(func(o *engine.Options) {
		o.Directory = f.dir
		o.Conversations = f.store
	})
	r := runner.New(eng, f.dir, f.store, oracle.NewCapabilityPlanner(f.dir), func(o *runner.Options) {
		o.Artifacts = f.artifacts
	})

	f.srv = httptest.NewServer(New(f.dir, f.store, r, func(o *Options) {
		o.Gatherer = reg
		o.Artifacts = f.artifacts
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAgents(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/agents", `{"address":"http://weather"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	agent := decodeBody[AgentView](t, resp)
	assert.Equal(t, "Weather", agent.Name)
	assert.Equal(t, string(core.AgentStatusActive), agent.Status)
	assert.Contains(t, agent.Capabilities, "weather")

	resp = f.do(t, http.MethodPost, "/v1/agents", `{"address":"http://nowhere"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/agents", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/v1/agents", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]AgentView](t, resp), 1)

	resp = f.do(t, http.MethodPost, "/v1/agents/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	checked := decodeBody[[]AgentView](t, resp)
	require.Len(t, checked, 1)
	assert.Equal(t, string(core.AgentStatusActive), checked[0].Status)
}

func TestConversations(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/conversations", `{"id":"c1"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "c1", decodeBody[ConversationView](t, resp).ID)

	resp = f.do(t, http.MethodPost, "/v1/conversations", `{"id":"c1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/conversations", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[ConversationView](t, resp).ID)

	resp = f.do(t, http.MethodGet, "/v1/conversations/c1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[ConversationView](t, resp).Turns)

	resp = f.do(t, http.MethodGet, "/v1/conversations/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessages_JSON(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.dir.Register(context.Background(), "http://weather"))

	resp := f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"weather tomorrow"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decodeBody[MessageResult](t, resp)
	assert.True(t, first.Suspended)
	assert.Equal(t, "Which city?", first.Reply)
	assert.Equal(t, []string{"Weather"}, first.Agents)
	require.Len(t, first.Events, 2)
	assert.Equal(t, "status", first.Events[0].Kind)
	assert.Equal(t, "Weather", first.Events[0].Agent)
	assert.Equal(t, string(core.TaskStateInputRequired), first.Events[1].State)

	resp = f.do(t, http.MethodGet, "/v1/conversations/c1", "")
	conv := decodeBody[ConversationView](t, resp)
	require.NotNil(t, conv.Suspension)
	assert.Equal(t, "Weather", conv.Suspension.AgentName)

	resp = f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"Berlin"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeBody[MessageResult](t, resp)
	assert.False(t, second.Suspended)
	assert.Equal(t, "Sunny in Berlin", second.Reply)

	resp = f.do(t, http.MethodGet, "/v1/conversations/c1", "")
	conv = decodeBody[ConversationView](t, resp)
	assert.Nil(t, conv.Suspension)
	require.Len(t, conv.Turns, 2)
	require.NotNil(t, conv.Turns[1].Reply)
	assert.Equal(t, "Sunny in Berlin", conv.Turns[1].Reply.Text)

	resp = f.do(t, http.MethodGet, "/v1/conversations/c1/artifacts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	arts := decodeBody[[]ArtifactView](t, resp)
	require.Len(t, arts, 1)
	assert.Equal(t, "Weather", arts[0].Agent)
	assert.Equal(t, "Berlin: 24°C", arts[0].Text)
	assert.True(t, arts[0].Complete)

	resp = f.do(t, http.MethodGet, "/v1/conversations/missing/artifacts", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessages_Stream(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.dir.Register(context.Background(), "http://weather"))

	resp := f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"weather tomorrow"}`,
		"Accept", "text/event-stream")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var kinds []string
	var last string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if ev, ok := strings.CutPrefix(line, "event: "); ok {
			kinds = append(kinds, ev)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			last = data
		}
	}
	require.NoError(t, sc.Err())

	assert.Equal(t, []string{"agent-event", "agent-event", "reply"}, kinds)
	var reply ReplyView
	require.NoError(t, json.Unmarshal([]byte(last), &reply))
	assert.True(t, reply.Suspended)
	assert.Equal(t, "c1", reply.ConversationID)
}

func TestMessages_Errors(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/v1/conversations/c1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[MessageResult](t, resp)
	assert.Equal(t, runner.NoAgentsReply, res.Reply)
	assert.Empty(t, res.Agents)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.dir.Register(context.Background(), "http://weather"))

	resp := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sc := bufio.NewScanner(resp.Body)
	found := false
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "agentrelay_") {
			found = true
		}
	}
	assert.True(t, found)
}
