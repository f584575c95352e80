package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	tu "github.com/hupe1980/agentrelay/internal/testutil"
)

const (
	convID   = "conv-1"
	parentID = "T1"
)

type fixture struct {
	dir    *directory.Directory
	store  *conversation.InMemoryStore
	agents map[string]*tu.FakeAgent
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{
		store:  conversation.NewInMemoryStore(),
		agents: make(map[string]*tu.FakeAgent),
	}
	dialer := tu.NewFakeDialer()
	for _, n := range names {
		a := tu.NewFakeAgent(n, n+" agent", core.Skill{ID: strings.ToLower(n), Name: n})
		f.agents[n] = a
		dialer.Add("http://"+strings.ToLower(n), a)
	}
	f.dir = directory.New(func(o *directory.Options) { o.Dialer = dialer })
	for _, n := range names {
		require.NotNil(t, f.dir.Register(context.Background(), "http://"+strings.ToLower(n)))
	}
	_, err := f.store.Create(convID)
	require.NoError(t, err)
	require.NoError(t, f.store.RecordUserTurn(convID, core.NewUserMessage("plan my evening"), parentID))
	return f
}

func (f *fixture) engine(optFns ...func(o *Options)) *Engine {
	return New(append([]func(o *Options){func(o *Options) {
		o.Directory = f.dir
		o.Conversations = f.store
	}}, optFns...)...)
}

func (f *fixture) execute(t *testing.T, e *Engine, plan core.TaskPlan) ([]core.AgentEvent, Result) {
	t.Helper()
	x, err := e.Execute(context.Background(), Request{ConversationID: convID, ParentTaskID: parentID, Plan: plan})
	require.NoError(t, err)
	events := tu.Collect(t, x.Events(), 2*time.Second)
	return events, x.Wait()
}

type stubIntegrator struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
	got   []core.AgentResponse
}

func (s *stubIntegrator) Compose(_ context.Context, _ string, responses []core.AgentResponse, _ core.TaskPlan) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = responses
	return s.reply, s.err
}

func (s *stubIntegrator) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubInstructor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubInstructor) Instruction(_ context.Context, req core.InstructionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.AgentName)
	if s.err != nil {
		return "", s.err
	}
	return "instruction for " + req.AgentName, nil
}

func (s *stubInstructor) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestSubTaskID(t *testing.T) {
	first := SubTaskID("T1", "Movie")
	assert.Equal(t, first, SubTaskID("T1", "Movie"))
	assert.Equal(t, first, SubTaskID("T1", " movie "))
	assert.NotEqual(t, first, SubTaskID("T2", "Movie"))
	assert.NotEqual(t, first, SubTaskID("T1", "Weather"))

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}

func TestExecute_DeterministicFreshDispatch(t *testing.T) {
	f := newFixture(t, "Movie")
	e := f.engine()
	plan := core.TaskPlan{Request: "a comedy", Agents: []string{"Movie"}}

	f.execute(t, e, plan)
	f.execute(t, e, plan)

	calls := f.agents["Movie"].StreamCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, SubTaskID(parentID, "Movie"), calls[0].SubTaskID)
	assert.Equal(t, calls[0].SubTaskID, calls[1].SubTaskID)
	assert.Equal(t, convID, calls[0].SessionID)
	assert.Equal(t, "a comedy", calls[0].Message.Text())
	assert.Equal(t, calls[0].SubTaskID, calls[0].Message.TaskID)
	assert.Equal(t, convID, calls[0].Message.ContextID)
}

func TestExecute_FanIn(t *testing.T) {
	f := newFixture(t, "Alpha", "Beta")
	alphaID, betaID := SubTaskID(parentID, "Alpha"), SubTaskID(parentID, "Beta")

	alpha := tu.NewScriptedStream(tu.Status(alphaID, core.TaskStateCompleted, "alpha done"))
	beta := tu.NewScriptedStream(
		tu.Status(betaID, core.TaskStateWorking, "working"),
		tu.Artifact(betaID, "chunk"),
		tu.Status(betaID, core.TaskStateCompleted, "beta done"),
	)
	f.agents["Alpha"].WithStream(alpha).WithTask(tu.CompletedTask(alphaID, "alpha text"))
	f.agents["Beta"].WithStream(beta).WithTask(tu.CompletedTask(betaID, "beta text", "beta artifact"))

	e := f.engine()
	x, err := e.Execute(context.Background(), Request{ConversationID: convID, ParentTaskID: parentID, Plan: core.TaskPlan{
		Request: "both", Agents: []string{"Alpha", "Beta"}, MultiAgent: true,
	}})
	require.NoError(t, err)
	events := tu.Collect(t, x.Events(), 2*time.Second)
	res := x.Wait()

	require.Len(t, events, 4)
	grouped := byAgent(events)
	assert.Len(t, grouped["Alpha"], 1)
	assert.Len(t, grouped["Beta"], 3)
	assert.Empty(t, x.Live())
	assert.LessOrEqual(t, alpha.MaxConcurrentRecv(), 1)
	assert.LessOrEqual(t, beta.MaxConcurrentRecv(), 1)

	assert.False(t, res.Suspended)
	assert.False(t, res.Canceled)
	assert.ElementsMatch(t, []string{"Alpha", "Beta"}, res.Dispatched)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "[Alpha]\nalpha text\n\n[Beta]\nbeta text\nbeta artifact", res.Reply)
	require.Len(t, res.Responses, 2)
	assert.Equal(t, core.TaskStateCompleted, res.Responses[0].State)

	conv, ok := f.store.Get(convID)
	require.True(t, ok)
	assert.Len(t, conv.CurrentTurn().Dispatches, 2)
}

func TestExecute_SuspensionSkipsIntegration(t *testing.T) {
	f := newFixture(t, "A", "B")
	aID, bID := SubTaskID(parentID, "A"), SubTaskID(parentID, "B")
	bStream := tu.NewScriptedStream(
		tu.Status(bID, core.TaskStateInputRequired, "need more"),
		tu.Status(bID, core.TaskStateCompleted, "unreachable"),
	)
	f.agents["A"].WithStream(tu.NewScriptedStream(tu.Status(aID, core.TaskStateCompleted, "hi")))
	f.agents["B"].WithStream(bStream)

	integ := &stubIntegrator{reply: "merged"}
	var suspended []string
	callbacks := NewCallbackManager()
	callbacks.RegisterCallback(NewFunctionCallback(CallbackOnSuspend, func(_ context.Context, cc *CallbackContext) error {
		suspended = append(suspended, cc.SubTaskID)
		return nil
	}))
	reg := prometheus.NewRegistry()
	e := f.engine(func(o *Options) {
		o.Integrator = integ
		o.Callbacks = callbacks
		o.Metrics = NewMetrics(reg)
	})

	events, res := f.execute(t, e, core.TaskPlan{Request: "x", Agents: []string{"A", "B"}, MultiAgent: true})

	require.Len(t, events, 2)
	grouped := byAgent(events)
	require.Len(t, grouped["A"], 1)
	require.Len(t, grouped["B"], 1)
	assert.Equal(t, "hi", grouped["A"][0].Text())
	assert.Equal(t, "need more", grouped["B"][0].Text())

	assert.True(t, res.Suspended)
	require.NotNil(t, res.Suspension)
	assert.Equal(t, bID, res.Suspension.SubTaskID)
	assert.Equal(t, "B", res.Suspension.AgentName)
	assert.Equal(t, "need more", res.Reply)
	assert.Zero(t, integ.Calls())
	assert.Empty(t, f.agents["A"].GetTaskCalls())

	pending, ok := f.store.Suspension(convID)
	require.True(t, ok)
	assert.Equal(t, bID, pending.SubTaskID)
	assert.Equal(t, []string{bID}, suspended)
	assert.True(t, bStream.Closed())
	assert.Equal(t, 1, bStream.Remaining())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Suspensions.WithLabelValues("B")))
}

func TestExecute_ResumptionFidelity(t *testing.T) {
	f := newFixture(t, "Weather")
	require.NoError(t, f.store.SetSuspension(convID, "Weather", "X"))
	answer := core.NewUserMessage("Berlin")
	require.NoError(t, f.store.RecordUserTurn(convID, answer, "T2"))

	f.agents["Weather"].
		WithStream(tu.NewScriptedStream(tu.Status("X", core.TaskStateCompleted, "sunny"))).
		WithTask(tu.CompletedTask("X", "Sunny in Berlin"))

	instr := &stubInstructor{}
	integ := &stubIntegrator{reply: "rewritten"}
	e := f.engine(func(o *Options) {
		o.Instructions = instr
		o.Integrator = integ
	})

	x, err := e.Execute(context.Background(), Request{ConversationID: convID, ParentTaskID: "T2", Plan: core.TaskPlan{
		Request:    "Berlin",
		Agents:     []string{"Weather"},
		Resumption: &core.Resumption{WaitingSubTaskID: "X", AgentName: "Weather"},
	}})
	require.NoError(t, err)
	tu.Collect(t, x.Events(), 2*time.Second)
	res := x.Wait()

	calls := f.agents["Weather"].StreamCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "X", calls[0].SubTaskID)
	assert.Equal(t, answer.ID, calls[0].Message.ID)
	assert.Equal(t, "Berlin", calls[0].Message.Text())
	assert.Equal(t, core.RoleUser, calls[0].Message.Role)
	assert.Empty(t, instr.Calls())

	_, pending := f.store.Suspension(convID)
	assert.False(t, pending)
	assert.Equal(t, "Sunny in Berlin", res.Reply)
	assert.Zero(t, integ.Calls())
	assert.Equal(t, []string{"X"}, f.agents["Weather"].GetTaskCalls())
}

func TestExecute_ResumptionKeepsOtherAgentsFresh(t *testing.T) {
	f := newFixture(t, "Movie", "Weather")
	require.NoError(t, f.store.SetSuspension(convID, "Weather", "X"))

	instr := &stubInstructor{}
	e := f.engine(func(o *Options) { o.Instructions = instr })
	f.execute(t, e, core.TaskPlan{
		Request:    "Berlin",
		Agents:     []string{"Movie", "Weather"},
		Resumption: &core.Resumption{WaitingSubTaskID: "X", AgentName: "weather"},
	})

	assert.Equal(t, "X", f.agents["Weather"].StreamCalls()[0].SubTaskID)
	movie := f.agents["Movie"].StreamCalls()[0]
	assert.Equal(t, SubTaskID(parentID, "Movie"), movie.SubTaskID)
	assert.Equal(t, "instruction for Movie", movie.Message.Text())
	assert.Equal(t, []string{"Movie"}, instr.Calls())
}

func TestExecute_ResumptionWithoutAgentName(t *testing.T) {
	t.Run("uses the suspended agent", func(t *testing.T) {
		f := newFixture(t, "Movie", "Weather")
		require.NoError(t, f.store.SetSuspension(convID, "Weather", "X"))

		f.execute(t, f.engine(), core.TaskPlan{
			Request:    "Berlin",
			Agents:     []string{"Movie", "Weather"},
			Resumption: &core.Resumption{WaitingSubTaskID: "X"},
		})

		assert.Equal(t, SubTaskID(parentID, "Movie"), f.agents["Movie"].StreamCalls()[0].SubTaskID)
		assert.Equal(t, "X", f.agents["Weather"].StreamCalls()[0].SubTaskID)
	})

	t.Run("no matching suspension dispatches fresh", func(t *testing.T) {
		f := newFixture(t, "Movie", "Weather")

		f.execute(t, f.engine(), core.TaskPlan{
			Request:    "Berlin",
			Agents:     []string{"Movie", "Weather"},
			Resumption: &core.Resumption{WaitingSubTaskID: "X"},
		})

		assert.Equal(t, SubTaskID(parentID, "Movie"), f.agents["Movie"].StreamCalls()[0].SubTaskID)
		assert.Equal(t, SubTaskID(parentID, "Weather"), f.agents["Weather"].StreamCalls()[0].SubTaskID)
	})
}

func TestExecute_ZeroResponses(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		f := newFixture(t, "A", "B")
		integ := &stubIntegrator{reply: "never"}
		_, res := f.execute(t, f.engine(func(o *Options) { o.Integrator = integ }),
			core.TaskPlan{Request: "x", Agents: []string{"A", "B"}, MultiAgent: true})

		assert.Equal(t, NoResponseFresh, res.Reply)
		assert.Empty(t, res.Responses)
		assert.Zero(t, integ.Calls())
	})

	t.Run("resumed", func(t *testing.T) {
		f := newFixture(t, "A")
		integ := &stubIntegrator{reply: "never"}
		_, res := f.execute(t, f.engine(func(o *Options) { o.Integrator = integ }), core.TaskPlan{
			Request: "x", Agents: []string{"A"}, Resumption: &core.Resumption{WaitingSubTaskID: "X", AgentName: "A"},
		})

		assert.Equal(t, NoResponseResumed, res.Reply)
		assert.Zero(t, integ.Calls())
	})

	assert.NotEqual(t, NoResponseFresh, NoResponseResumed)
}

func TestExecute_IntegratorFallback(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.agents["A"].WithTask(tu.CompletedTask(SubTaskID(parentID, "A"), "from a"))
	f.agents["B"].WithTask(tu.CompletedTask(SubTaskID(parentID, "B"), "from b"))

	integ := &stubIntegrator{err: errors.New("model down")}
	reg := prometheus.NewRegistry()
	e := f.engine(func(o *Options) {
		o.Integrator = integ
		o.Metrics = NewMetrics(reg)
	})
	_, res := f.execute(t, e, core.TaskPlan{Request: "x", Agents: []string{"A", "B"}, MultiAgent: true})

	assert.Equal(t, 1, integ.Calls())
	assert.Len(t, integ.got, 2)
	assert.Equal(t, "[A]\nfrom a\n\n[B]\nfrom b", res.Reply)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.OracleFallbacks.WithLabelValues("integrator")))

	integ.err = nil
	integ.reply = "one answer"
	_, res = f.execute(t, e, core.TaskPlan{Request: "x", Agents: []string{"A", "B"}, MultiAgent: true})
	assert.Equal(t, "one answer", res.Reply)
}

func TestExecute_MultiAgentFlagWithSingleAgentUsesIntegrator(t *testing.T) {
	f := newFixture(t, "A")
	f.agents["A"].WithTask(tu.CompletedTask(SubTaskID(parentID, "A"), "raw"))
	integ := &stubIntegrator{reply: "polished"}

	_, res := f.execute(t, f.engine(func(o *Options) { o.Integrator = integ }),
		core.TaskPlan{Request: "x", Agents: []string{"A"}, MultiAgent: true})
	assert.Equal(t, "polished", res.Reply)
	assert.Equal(t, 1, integ.Calls())
}

func TestExecute_DispatchFailureIsolation(t *testing.T) {
	f := newFixture(t, "A", "B")
	bID := SubTaskID(parentID, "B")
	f.agents["A"].FailStream(errors.New("connection refused"))
	f.agents["B"].
		WithStream(tu.NewScriptedStream(tu.Status(bID, core.TaskStateCompleted, "ok"))).
		WithTask(tu.CompletedTask(bID, "b result"))

	var (
		mu           sync.Mutex
		dispatchErrs []error
	)
	callbacks := NewCallbackManager()
	callbacks.RegisterCallback(NewFunctionCallback(CallbackAfterDispatch, func(_ context.Context, cc *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		if cc.Err != nil {
			dispatchErrs = append(dispatchErrs, cc.Err)
		}
		return nil
	}))
	e := f.engine(func(o *Options) { o.Callbacks = callbacks })
	events, res := f.execute(t, e, core.TaskPlan{Request: "x", Agents: []string{"A", "B"}})

	require.Len(t, events, 1)
	assert.Equal(t, "B", events[0].AgentName)
	assert.Equal(t, []string{"A"}, res.Failed)
	assert.Equal(t, []string{"B"}, res.Dispatched)
	assert.Equal(t, "[B]\nb result", res.Reply)

	require.Len(t, dispatchErrs, 1)
	var de *core.DispatchError
	require.ErrorAs(t, dispatchErrs[0], &de)
	assert.Equal(t, "A", de.AgentName)

	conv, _ := f.store.Get(convID)
	var failed, ok int
	for _, d := range conv.CurrentTurn().Dispatches {
		if d.Success {
			ok++
		} else {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)
}

func TestExecute_BeforeDispatchVeto(t *testing.T) {
	f := newFixture(t, "A", "B")
	callbacks := NewCallbackManager()
	callbacks.RegisterCallback(NewFunctionCallback(CallbackBeforeDispatch, func(_ context.Context, cc *CallbackContext) error {
		if cc.AgentName == "A" {
			return errors.New("blocked")
		}
		return nil
	}))
	_, res := f.execute(t, f.engine(func(o *Options) { o.Callbacks = callbacks }),
		core.TaskPlan{Request: "x", Agents: []string{"A", "B"}})

	assert.Equal(t, []string{"A"}, res.Failed)
	assert.Empty(t, f.agents["A"].StreamCalls())
	assert.Len(t, f.agents["B"].StreamCalls(), 1)
}

func TestExecute_ConfigurationError(t *testing.T) {
	f := newFixture(t, "A")
	_, err := f.engine().Execute(context.Background(), Request{
		ConversationID: convID, ParentTaskID: parentID,
		Plan: core.TaskPlan{Request: "x", Agents: []string{"Nobody", " "}},
	})

	var ce *core.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, core.ErrNoResolvableAgents)
	assert.Equal(t, []string{"Nobody", " "}, ce.Requested)
	assert.Empty(t, f.agents["A"].StreamCalls())

	_, err = New().Execute(context.Background(), Request{})
	assert.Error(t, err)
}

func TestExecute_UnresolvedAgentsAreDropped(t *testing.T) {
	f := newFixture(t, "A")
	_, res := f.execute(t, f.engine(), core.TaskPlan{Request: "x", Agents: []string{"Ghost", "A", "a"}})
	assert.Equal(t, []string{"A"}, res.Dispatched)
	assert.Len(t, f.agents["A"].StreamCalls(), 1)
}

func TestExecute_InstructionFallback(t *testing.T) {
	f := newFixture(t, "A")
	instr := &stubInstructor{err: errors.New("model down")}
	e := f.engine(func(o *Options) { o.Instructions = instr })

	f.execute(t, e, core.TaskPlan{Request: "raw request", Agents: []string{"A"}, Instructions: map[string]string{"A": "planned"}})
	f.execute(t, e, core.TaskPlan{Request: "raw request", Agents: []string{"A"}})

	calls := f.agents["A"].StreamCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "planned", calls[0].Message.Text())
	assert.Equal(t, "raw request", calls[1].Message.Text())
	assert.Len(t, instr.Calls(), 2)
}

func TestExecute_Cancellation(t *testing.T) {
	f := newFixture(t, "Slow", "Fast")
	slowID := SubTaskID(parentID, "Slow")
	slow := tu.NewScriptedStream(tu.Status(slowID, core.TaskStateWorking, "started")).Hang()
	f.agents["Slow"].WithStream(slow)
	f.agents["Fast"].WithStream(tu.NewScriptedStream().Hang())

	integ := &stubIntegrator{reply: "never"}
	e := f.engine(func(o *Options) { o.Integrator = integ })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	x, err := e.Execute(ctx, Request{ConversationID: convID, ParentTaskID: parentID, Plan: core.TaskPlan{
		Request: "x", Agents: []string{"Slow", "Fast"}, MultiAgent: true,
	}})
	require.NoError(t, err)

	first := <-x.Events()
	assert.Equal(t, "Slow", first.AgentName)
	cancel()

	rest := tu.Collect(t, x.Events(), 2*time.Second)
	res := x.Wait()

	var canceled []core.AgentEvent
	for _, ev := range rest {
		if ev.AgentName == core.OrchestratorName {
			canceled = append(canceled, ev)
		}
	}
	require.Len(t, canceled, 1)
	assert.Equal(t, core.TaskStateCanceled, canceled[0].State())
	assert.Equal(t, parentID, canceled[0].SubTaskID)
	assert.Equal(t, core.OrchestratorName, rest[len(rest)-1].AgentName)

	assert.True(t, res.Canceled)
	assert.Equal(t, CanceledReply, res.Reply)
	assert.Zero(t, integ.Calls())
	assert.True(t, slow.Closed())
	assert.Equal(t, OutcomeAbandoned, res.Outcomes["Slow"])
}

// stuckStream yields its events, then blocks in Recv until released.
// Close does not unblock it.
type stuckStream struct {
	events  []core.TaskEvent
	release chan struct{}
}

func (s *stuckStream) Recv() (core.TaskEvent, error) {
	if len(s.events) > 0 {
		ev := s.events[0]
		s.events = s.events[1:]
		return ev, nil
	}
	<-s.release
	return nil, io.EOF
}

func (s *stuckStream) Close() error { return nil }

func TestExecute_CancellationDoesNotWaitForRecv(t *testing.T) {
	f := newFixture(t, "Stuck")
	stuckID := SubTaskID(parentID, "Stuck")
	stuck := &stuckStream{
		events:  []core.TaskEvent{tu.Status(stuckID, core.TaskStateWorking, "started")},
		release: make(chan struct{}),
	}
	t.Cleanup(func() { close(stuck.release) })
	f.agents["Stuck"].WithStream(stuck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	x, err := f.engine().Execute(ctx, Request{ConversationID: convID, ParentTaskID: parentID, Plan: core.TaskPlan{
		Request: "x", Agents: []string{"Stuck"},
	}})
	require.NoError(t, err)

	first := <-x.Events()
	assert.Equal(t, "Stuck", first.AgentName)
	cancel()

	rest := tu.Collect(t, x.Events(), 2*time.Second)
	require.NotEmpty(t, rest)
	assert.Equal(t, core.TaskStateCanceled, rest[len(rest)-1].State())

	res := x.Wait()
	assert.True(t, res.Canceled)
	assert.Equal(t, OutcomeAbandoned, res.Outcomes["Stuck"])
}
