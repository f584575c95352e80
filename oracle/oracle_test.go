package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

func agents(names ...string) []core.ManagedAgent {
	out := make([]core.ManagedAgent, 0, len(names))
	for _, n := range names {
		out = append(out, core.ManagedAgent{ID: strings.ToLower(n), Name: n, Description: n + " agent", Status: core.AgentStatusActive})
	}
	return out
}

func TestDefaultPlan(t *testing.T) {
	candidates := agents("Movie", "Weather")
	candidates = append(candidates, core.ManagedAgent{Name: "Down", Status: core.AgentStatusUnreachable})

	plan := DefaultPlan("what to do tonight", candidates)
	assert.Equal(t, []string{"Movie", "Weather"}, plan.Agents)
	assert.Equal(t, core.OrderParallel, plan.Order)
	assert.True(t, plan.MultiAgent)
	assert.Equal(t, "what to do tonight", plan.Instruction("Movie"))
	assert.Nil(t, plan.Resumption)

	single := DefaultPlan("x", agents("Movie"))
	assert.False(t, single.MultiAgent)

	empty := DefaultPlan("x", nil)
	assert.Empty(t, empty.Agents)
}

func TestLLMPlanner(t *testing.T) {
	t.Run("parses fenced JSON and maps names", func(t *testing.T) {
		m := model.NewMockModel("planner")
		m.SetResponder(func(model.Request) (string, error) {
			return "Here you go:\n```json\n" +
				`{"agents":["movie","Unknown"],"instructions":{"movie":"find a comedy"},"order":"sequential","reasoning":"films"}` +
				"\n```", nil
		})
		p := NewLLMPlanner(m)

		plan, err := p.Plan(context.Background(), core.PlanRequest{Request: "a funny film", Candidates: agents("Movie", "Weather")})
		require.NoError(t, err)
		assert.Equal(t, []string{"Movie"}, plan.Agents)
		assert.Equal(t, "find a comedy", plan.Instruction("Movie"))
		assert.Equal(t, core.OrderSequential, plan.Order)
		assert.False(t, plan.MultiAgent)
		assert.Equal(t, "a funny film", plan.Request)

		prompt := m.Requests()[0].Messages[0].Text
		assert.Contains(t, prompt, "- Movie: Movie agent")
		assert.Contains(t, prompt, "a funny film")
		assert.Contains(t, prompt, `"agents"`)
	})

	t.Run("repairs malformed JSON", func(t *testing.T) {
		m := model.NewMockModel("planner")
		m.SetResponder(func(model.Request) (string, error) {
			return `{"agents": ["Movie", "Weather"], "multi_agent": true,}`, nil
		})
		plan, err := NewLLMPlanner(m).Plan(context.Background(), core.PlanRequest{Request: "x", Candidates: agents("Movie", "Weather")})
		require.NoError(t, err)
		assert.Equal(t, []string{"Movie", "Weather"}, plan.Agents)
		assert.True(t, plan.MultiAgent)
	})

	t.Run("resumes pending suspension", func(t *testing.T) {
		m := model.NewMockModel("planner")
		m.SetResponder(func(model.Request) (string, error) {
			return `{"agents":["Weather"],"resume":true}`, nil
		})
		pending := &core.PendingSuspension{AgentName: "Movie", SubTaskID: "sub-1"}
		plan, err := NewLLMPlanner(m).Plan(context.Background(), core.PlanRequest{Request: "Berlin", Candidates: agents("Movie", "Weather"), Pending: pending})
		require.NoError(t, err)
		require.NotNil(t, plan.Resumption)
		assert.Equal(t, "sub-1", plan.Resumption.WaitingSubTaskID)
		assert.Equal(t, "Movie", plan.Resumption.AgentName)
		assert.Equal(t, []string{"Movie", "Weather"}, plan.Agents)
		assert.Contains(t, m.Requests()[0].Messages[0].Text, `"Movie" is waiting`)
	})

	t.Run("failures are oracle errors", func(t *testing.T) {
		cases := map[string]func(m *model.MockModel){
			"model error": func(m *model.MockModel) { m.SetError(errors.New("down")) },
			"no json":     func(m *model.MockModel) { m.SetResponder(func(model.Request) (string, error) { return "sorry", nil }) },
			"wrong type": func(m *model.MockModel) {
				m.SetResponder(func(model.Request) (string, error) { return `{"agents":"Movie"}`, nil })
			},
			"unknown agents": func(m *model.MockModel) {
				m.SetResponder(func(model.Request) (string, error) { return `{"agents":["Nobody"]}`, nil })
			},
		}
		for name, setup := range cases {
			t.Run(name, func(t *testing.T) {
				m := model.NewMockModel("planner")
				setup(m)
				_, err := NewLLMPlanner(m).Plan(context.Background(), core.PlanRequest{Request: "x", Candidates: agents("Movie")})
				var oe *core.OracleError
				require.ErrorAs(t, err, &oe)
				assert.Equal(t, core.OraclePlanner, oe.Oracle)
			})
		}
	})
}

type finderFunc func(tokens []string) []core.ManagedAgent

func (f finderFunc) FindByCapabilities(tokens []string) []core.ManagedAgent { return f(tokens) }

func TestCapabilityPlanner(t *testing.T) {
	var seen []string
	finder := finderFunc(func(tokens []string) []core.ManagedAgent {
		seen = tokens
		return agents("Movie", "Weather")
	})
	p := NewCapabilityPlanner(finder)

	plan, err := p.Plan(context.Background(), core.PlanRequest{Request: "Recommend a comedy movie for tonight"})
	require.NoError(t, err)
	assert.Equal(t, []string{"recommend", "comedy", "movie", "tonight"}, seen)
	assert.Equal(t, []string{"Movie", "Weather"}, plan.Agents)
	assert.True(t, plan.MultiAgent)

	t.Run("pending suspension is resumed", func(t *testing.T) {
		plan, err := p.Plan(context.Background(), core.PlanRequest{
			Request: "Berlin",
			Pending: &core.PendingSuspension{AgentName: "Weather", SubTaskID: "w-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"Weather"}, plan.Agents)
		require.True(t, plan.IsResumption())
		assert.Equal(t, "w-1", plan.Resumption.WaitingSubTaskID)
	})

	t.Run("no match", func(t *testing.T) {
		empty := NewCapabilityPlanner(finderFunc(func([]string) []core.ManagedAgent { return nil }))
		_, err := empty.Plan(context.Background(), core.PlanRequest{Request: "anything"})
		var oe *core.OracleError
		require.ErrorAs(t, err, &oe)
	})
}

func TestInstructors(t *testing.T) {
	plan := core.TaskPlan{Request: "plan a night out", Instructions: map[string]string{"Movie": "pick a film"}}

	text, err := PassthroughInstructor{}.Instruction(context.Background(), core.InstructionRequest{AgentName: "Movie", Plan: plan})
	require.NoError(t, err)
	assert.Equal(t, "pick a film", text)

	m := model.NewMockModel("instructor")
	m.AddResponse(`agent "Movie"`, "  Find one comedy showing tonight.  ")
	i := NewLLMInstructor(m)

	text, err = i.Instruction(context.Background(), core.InstructionRequest{
		Request:   plan.Request,
		AgentName: "Movie",
		Plan:      plan,
		History:   "User: hi\nAgent: hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "Find one comedy showing tonight.", text)
	prompt := m.Requests()[0].Messages[0].Text
	assert.Contains(t, prompt, "Planner note: pick a film")
	assert.Contains(t, prompt, "User: hi")

	m.SetError(errors.New("down"))
	_, err = i.Instruction(context.Background(), core.InstructionRequest{AgentName: "Movie", Plan: plan})
	var oe *core.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, core.OracleInstruction, oe.Oracle)
}

func TestAttributedConcat(t *testing.T) {
	out := AttributedConcat([]core.AgentResponse{
		{AgentName: "A", Text: "hi "},
		{AgentName: "B", Text: "   "},
		{AgentName: "C", Text: "there"},
	})
	assert.Equal(t, "[A]\nhi\n\n[C]\nthere", out)
	assert.Empty(t, AttributedConcat(nil))
}

func TestIntegrators(t *testing.T) {
	responses := []core.AgentResponse{{AgentName: "A", Text: "one"}, {AgentName: "B", Text: "two"}}

	text, err := ConcatIntegrator{}.Compose(context.Background(), "q", responses, core.TaskPlan{})
	require.NoError(t, err)
	assert.Equal(t, "[A]\none\n\n[B]\ntwo", text)

	m := model.NewMockModel("integrator")
	m.AddResponse("Agent answers", "merged")
	integ := NewLLMIntegrator(m, func(o *LLMIntegratorOptions) { o.Stream = true })

	text, err = integ.Compose(context.Background(), "q", responses, core.TaskPlan{})
	require.NoError(t, err)
	assert.Equal(t, "merged", text)
	prompt := m.Requests()[0].Messages[0].Text
	assert.Contains(t, prompt, "[A]\none")
	assert.Contains(t, prompt, "[B]\ntwo")
	assert.True(t, m.Requests()[0].Stream)

	m.SetError(errors.New("down"))
	_, err = integ.Compose(context.Background(), "q", responses, core.TaskPlan{})
	var oe *core.OracleError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, core.OracleIntegrator, oe.Oracle)
}
