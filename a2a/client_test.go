package a2a

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	tu "github.com/hupe1980/agentrelay/internal/testutil"
)

func serve(t *testing.T, agent core.RemoteAgent) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(NewHandler(agent))
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, fastRetry)
}

func fastRetry(o *Options) {
	o.RetryDelay = time.Millisecond
}

func drain(t *testing.T, s core.TaskStream) ([]core.TaskEvent, error) {
	t.Helper()
	defer s.Close()
	var out []core.TaskEvent
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestClient_Describe(t *testing.T) {
	agent := tu.NewFakeAgent("Weather", "Forecasts for any city",
		core.Skill{ID: "forecast", Name: "Forecast", Tags: []string{"weather"}})
	srv, c := serve(t, agent)

	d, err := c.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Weather", d.Name)
	assert.Equal(t, "Forecasts for any city", d.Description)
	assert.Equal(t, srv.URL, d.URL)
	assert.True(t, d.Reachable)
	require.Len(t, d.Skills, 1)
	assert.Equal(t, []string{"weather"}, d.Skills[0].Tags)
}

func TestClient_DescribeLegacyCardPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(AgentCardPathLegacy, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, AgentCard{Name: "Legacy", URL: "http://elsewhere"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, err := NewClient(srv.URL+"/", fastRetry).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Legacy", d.Name)
	assert.Equal(t, "http://elsewhere", d.URL)
}

func TestClient_StreamTask(t *testing.T) {
	agent := tu.NewFakeAgent("Weather", "")
	agent.WithStream(tu.NewScriptedStream(
		tu.Status("sub-1", core.TaskStateWorking, "thinking"),
		tu.Artifact("sub-1", "partial forecast"),
		tu.Status("sub-1", core.TaskStateCompleted, "done"),
	))
	_, c := serve(t, agent)

	msg := core.NewUserMessage("weather in Berlin?")
	stream, err := c.StreamTask(context.Background(), "sub-1", "conv-1", msg)
	require.NoError(t, err)

	events, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, core.TaskStateWorking, core.StateOf(events[0]))
	assert.Equal(t, "thinking", core.EventText(events[0]))

	art, ok := events[1].(*core.ArtifactUpdate)
	require.True(t, ok)
	assert.Equal(t, "sub-1", art.TaskID)
	assert.Equal(t, "partial forecast", core.EventText(art))

	done, ok := events[2].(*core.StatusUpdate)
	require.True(t, ok)
	assert.Equal(t, core.TaskStateCompleted, done.Status.State)
	assert.True(t, done.Final)
	assert.False(t, done.Status.Timestamp.IsZero())

	calls := agent.StreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sub-1", calls[0].SubTaskID)
	assert.Equal(t, "conv-1", calls[0].SessionID)
	assert.Equal(t, msg.ID, calls[0].Message.ID)
	assert.Equal(t, "weather in Berlin?", calls[0].Message.Text())
}

func TestClient_StreamFailsMidway(t *testing.T) {
	agent := tu.NewFakeAgent("Weather", "")
	agent.WithStream(tu.NewScriptedStream(tu.Status("s", core.TaskStateWorking, "")).ThenError(errors.New("backend gone")))
	_, c := serve(t, agent)

	stream, err := c.StreamTask(context.Background(), "s", "conv", core.NewUserMessage("hi"))
	require.NoError(t, err)

	events, err := drain(t, stream)
	assert.Len(t, events, 1)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "backend gone")
}

func TestClient_StreamRejected(t *testing.T) {
	agent := tu.NewFakeAgent("Weather", "").FailStream(errors.New("busy"))
	_, c := serve(t, agent)

	_, err := c.StreamTask(context.Background(), "s", "conv", core.NewUserMessage("hi"))
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Contains(t, rpcErr.Message, "busy")
}

func TestClient_StreamSingleJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{"kind":"message","messageId":"m1","role":"agent","taskId":"t1","parts":[{"kind":"text","text":"hello"}]}}`)
	}))
	defer srv.Close()

	stream, err := NewClient(srv.URL).StreamTask(context.Background(), "t1", "c1", core.NewUserMessage("hi"))
	require.NoError(t, err)

	events, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.TaskStateCompleted, core.StateOf(events[0]))
	assert.Equal(t, "hello", core.EventText(events[0]))
	assert.Equal(t, "t1", events[0].GetTaskID())
}

func TestClient_GetTask(t *testing.T) {
	agent := tu.NewFakeAgent("Weather", "").WithTask(tu.CompletedTask("sub-1", "Sunny", "24 degrees"))
	_, c := serve(t, agent)

	task, err := c.GetTask(context.Background(), "sub-1")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, core.TaskStateCompleted, task.Status.State)
	assert.Equal(t, "Sunny\n24 degrees", task.Text())

	missing, err := c.GetTask(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, []string{"sub-1", "nope"}, agent.GetTaskCalls())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, AgentCard{Name: "Slow"})
	}))
	defer srv.Close()

	d, err := NewClient(srv.URL, fastRetry).Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Slow", d.Name)
	assert.Equal(t, int32(3), hits.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "go away", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, fastRetry).Describe(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "go away", statusErr.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func(o *Options) {
		o.RetryAttempts = 1
		o.BreakerThreshold = 2
		o.BreakerTimeout = time.Minute
	})

	for i := 0; i < 2; i++ {
		_, err := c.Describe(context.Background())
		require.Error(t, err)
	}

	_, err := c.Describe(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.StreamTask(context.Background(), "s", "c", core.NewUserMessage("hi"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSSEStream_Framing(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"",
		"event: update",
		`data: {"jsonrpc":"2.0","id":1,`,
		`data: "result":{"kind":"status-update","taskId":"t","status":{"state":"working"},"final":false}}`,
		"",
		`data: {"jsonrpc":"2.0","id":1,"result":{"kind":"something-new"}}`,
		"",
		`data: {"jsonrpc":"2.0","id":1,"result":{"kind":"task","id":"t","status":{"state":"input-required","message":{"kind":"message","messageId":"q","role":"agent","parts":[{"kind":"text","text":"Which city?"}]}}}}`,
	}, "\r\n")

	s := newSSEStream(io.NopCloser(strings.NewReader(body)))
	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, core.TaskStateWorking, core.StateOf(events[0]))
	assert.Equal(t, core.TaskStateInputRequired, core.StateOf(events[1]))
	assert.Equal(t, "Which city?", core.EventText(events[1]))
	assert.False(t, events[1].(*core.StatusUpdate).Final)
}

func TestSSEStream_MalformedFrame(t *testing.T) {
	s := newSSEStream(io.NopCloser(strings.NewReader("data: {not json\n\n")))
	_, err := s.Recv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed frame")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestRPCError_MatchesTaskNotFound(t *testing.T) {
	assert.ErrorIs(t, &RPCError{Code: CodeTaskNotFound}, core.ErrTaskNotFound)
	assert.NotErrorIs(t, &RPCError{Code: CodeInternalError}, core.ErrTaskNotFound)
}
