package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/oracle"
)

func init() {
	color.NoColor = true
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	relay := agentrelay.New()
	require.NotNil(t, relay.RegisterLocal(ctx, agent.NewLocal("Weather",
		agent.HandlerFunc(func(_ context.Context, tc *agent.TaskContext) error {
			if !tc.Resumed() {
				return tc.RequireInput("Which city?")
			}
			return tc.Complete("Sunny in " + tc.Text())
		}),
		func(o *agent.Options) {
			o.Skills = []core.Skill{{ID: "forecast", Name: "Forecast", Tags: []string{"weather"}}}
		},
	)))

	in := strings.NewReader("weather tomorrow\n\nBerlin\n/quit\nnever sent\n")
	var out bytes.Buffer

	require.NoError(t, chat(ctx, relay, "c1", in, &out, true))

	got := out.String()
	assert.Contains(t, got, "[Weather] input-required Which city?")
	assert.Contains(t, got, "Weather asks: Which city?")
	assert.Contains(t, got, "Sunny in Berlin")
	assert.NotContains(t, got, "never sent")

	conv, ok := relay.Conversations().Get("c1")
	require.True(t, ok)
	assert.Len(t, conv.Turns, 2)
}

func TestChat_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, chat(context.Background(), agentrelay.New(), "c1", strings.NewReader(""), &out, false))
	assert.Equal(t, "> \n", out.String())
}

func TestNewModel(t *testing.T) {
	m, err := newModel(config.OracleConfig{Provider: config.ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = newModel(config.OracleConfig{Provider: config.ProviderMock})
	require.NoError(t, err)
	assert.IsType(t, &model.MockModel{}, m)

	m, err = newModel(config.OracleConfig{Provider: config.ProviderOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", m.Info().Provider)

	m, err = newModel(config.OracleConfig{Provider: config.ProviderAnthropic, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", m.Info().Provider)

	_, err = newModel(config.OracleConfig{Provider: "crystal-ball"})
	assert.Error(t, err)
}

func TestOracleOptions(t *testing.T) {
	apply, err := oracleOptions(config.OracleConfig{Provider: config.ProviderNone}, logging.NoOpLogger{})
	require.NoError(t, err)
	var o agentrelay.Options
	apply(&o)
	assert.Nil(t, o.Planner)
	assert.Nil(t, o.Integrator)

	apply, err = oracleOptions(config.OracleConfig{Provider: config.ProviderMock}, logging.NoOpLogger{})
	require.NoError(t, err)
	o = agentrelay.Options{}
	apply(&o)
	assert.IsType(t, &oracle.LLMPlanner{}, o.Planner)
	assert.IsType(t, &oracle.LLMInstructor{}, o.Instructions)
	assert.IsType(t, &oracle.LLMIntegrator{}, o.Integrator)
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "chat", "agents"}, names)
}
