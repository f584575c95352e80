package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
)

// failingUpstream answers every request with 500 and counts the hits.
func failingUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestOracles_SingleUpstreamCallOnFailure(t *testing.T) {
	providers := map[string]func(baseURL string) model.Model{
		"openai": func(baseURL string) model.Model {
			return openai.NewModel(func(o *openai.Options) {
				o.APIKey = "test"
				o.BaseURL = baseURL
			})
		},
		"anthropic": func(baseURL string) model.Model {
			return anthropic.NewModel(func(o *anthropic.Options) {
				o.APIKey = "test"
				o.BaseURL = baseURL
			})
		},
	}

	for name, newModel := range providers {
		t.Run(name, func(t *testing.T) {
			srv, hits := failingUpstream(t)
			m := newModel(srv.URL)

			_, err := NewLLMPlanner(m).Plan(context.Background(), core.PlanRequest{
				Request:    "weather tomorrow",
				Candidates: agents("Weather"),
			})
			require.Error(t, err)
			var oe *core.OracleError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, core.OraclePlanner, oe.Oracle)
			assert.EqualValues(t, 1, hits.Load())

			_, err = NewLLMInstructor(m).Instruction(context.Background(), core.InstructionRequest{
				Request:   "weather tomorrow",
				AgentName: "Weather",
			})
			require.Error(t, err)
			assert.EqualValues(t, 2, hits.Load())
		})
	}
}
