package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/oracle"
)

// NoAgentsReply is recorded when a plan names no agent the directory knows.
const NoAgentsReply = "No available agent can handle this request right now."

// ErrEmptyMessage is returned by Send for a blank user message.
var ErrEmptyMessage = errors.New("runner: empty message")

// Candidates is the slice of the agent directory the runner plans against.
type Candidates interface {
	Active() []core.ManagedAgent
}

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// HistoryTurns is how many recent turns the planner sees. Zero or less
	// passes every turn.
	HistoryTurns int
	// EventBufferSize sets channel buffering for turn events.
	EventBufferSize int
	// Artifacts collects the artifacts agents stream during turns. Optional.
	Artifacts core.ArtifactStore
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Runner drives user turns: it serializes turns per conversation, records
// them, plans, executes the plan through the engine and records the reply.
// Public methods are safe for concurrent use.
type Runner struct {
	engine        *engine.Engine
	candidates    Candidates
	conversations core.ConversationStore
	planner       core.Planner
	artifacts     core.ArtifactStore

	historyTurns    int
	eventBufferSize int
	logger          *logging.RelayLogger

	mu         sync.Mutex
	locks      map[string]*conversationLock
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner. A nil planner always uses oracle.DefaultPlan.
func New(
	eng *engine.Engine,
	candidates Candidates,
	conversations core.ConversationStore,
	planner core.Planner,
	optFns ...func(o *Options),
) *Runner {
	opts := Options{
		HistoryTurns:    10,
		EventBufferSize: 64,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		engine:          eng,
		candidates:      candidates,
		conversations:   conversations,
		planner:         planner,
		artifacts:       opts.Artifacts,
		historyTurns:    opts.HistoryTurns,
		eventBufferSize: opts.EventBufferSize,
		logger:          logging.NewRelayLogger(opts.Logger).WithComponent("runner"),
		locks:           make(map[string]*conversationLock),
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	engine.Result

	ConversationID string
	TurnID         string
	Plan           core.TaskPlan

	// PlanFallback is set when the planner failed and DefaultPlan was used.
	PlanFallback bool
}

// Turn is one user message being processed. Drain Events, then call Wait.
type Turn struct {
	ID             string
	ConversationID string

	events chan core.AgentEvent
	done   chan struct{}
	result TurnResult
}

// Events returns the tagged agent events of the turn. It closes when the
// turn finished.
func (t *Turn) Events() <-chan core.AgentEvent { return t.events }

// Wait blocks until the turn finished and returns its result.
func (t *Turn) Wait() TurnResult {
	<-t.done
	return t.result
}

// Collect drains Events and returns them with the result.
func (t *Turn) Collect() ([]core.AgentEvent, TurnResult) {
	var evs []core.AgentEvent
	for ev := range t.events {
		evs = append(evs, ev)
	}
	return evs, t.Wait()
}

// Send processes one user message. It blocks while another turn of the
// same conversation is running; turns of distinct conversations never
// contend. The conversation is created on first use.
//
// Errors are returned only for blank messages, a canceled ctx while
// waiting for the conversation, and store failures. Everything that goes
// wrong after planning is reported through the turn's events and result.
func (r *Runner) Send(ctx context.Context, conversationID, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	release, err := r.acquire(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %q: %w", conversationID, err)
	}

	turn, err := r.start(ctx, conversationID, text, release)
	if err != nil {
		release()
		return nil, err
	}
	return turn, nil
}

// Cancel cancels a running turn by ID.
func (r *Runner) Cancel(turnID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[turnID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("turn %s not found", turnID)
	}

	cancel()

	return nil
}

// conversationLock serializes the turns of one conversation. refs counts
// the holder and the waiters; the entry is dropped when it reaches zero.
type conversationLock struct {
	sem  *semaphore.Weighted
	refs int
}

// acquire waits for the conversation and returns the matching release.
func (r *Runner) acquire(ctx context.Context, conversationID string) (func(), error) {
	r.mu.Lock()
	l, ok := r.locks[conversationID]
	if !ok {
		l = &conversationLock{sem: semaphore.NewWeighted(1)}
		r.locks[conversationID] = l
	}
	l.refs++
	r.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		r.unref(conversationID, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		r.unref(conversationID, l)
	}, nil
}

func (r *Runner) unref(conversationID string, l *conversationLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, conversationID)
	}
}

func (r *Runner) start(ctx context.Context, conversationID, text string, release func()) (*Turn, error) {
	if _, ok := r.conversations.Get(conversationID); !ok {
		if _, err := r.conversations.Create(conversationID); err != nil && !errors.Is(err, core.ErrConversationExists) {
			return nil, err
		}
	}

	history, err := r.conversations.Summarize(conversationID, r.historyTurns)
	if err != nil {
		return nil, err
	}
	pending, _ := r.conversations.Suspension(conversationID)

	turnID := uuid.NewString()
	msg := core.NewUserMessage(text)
	msg.ContextID = conversationID
	if err := r.conversations.RecordUserTurn(conversationID, msg, turnID); err != nil {
		return nil, err
	}

	log := r.logger.WithConversation(conversationID).WithContext("turn_id", turnID)
	plan, fallback := r.plan(ctx, text, history, pending, log)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[turnID] = cancel
	r.mu.Unlock()

	t := &Turn{
		ID:             turnID,
		ConversationID: conversationID,
		events:         make(chan core.AgentEvent, r.eventBufferSize),
		done:           make(chan struct{}),
		result: TurnResult{
			ConversationID: conversationID,
			TurnID:         turnID,
			Plan:           plan,
			PlanFallback:   fallback,
		},
	}

	finish := func(res engine.Result) {
		reply := res.Reply
		if err := r.conversations.RecordAgentResponse(conversationID, core.NewAgentMessage(reply)); err != nil {
			log.Warn("Failed to record reply", "error", err.Error())
		}
		t.result.Result = res
		close(t.events)
		close(t.done)

		r.mu.Lock()
		delete(r.activeRuns, turnID)
		r.mu.Unlock()
		cancel()
		release()
	}

	x, err := r.engine.Execute(runCtx, engine.Request{ConversationID: conversationID, ParentTaskID: turnID, Plan: plan})
	if err != nil {
		var ce *core.ConfigurationError
		if !errors.As(err, &ce) {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, turnID)
			r.mu.Unlock()
			return nil, err
		}
		log.Error("Plan not executable", "error", err.Error())
		go func() {
			t.events <- core.NewAgentEvent(core.OrchestratorName, turnID,
				core.NewStatusUpdate(turnID, core.TaskStateFailed, NoAgentsReply))
			finish(engine.Result{Reply: NoAgentsReply})
		}()
		return t, nil
	}

	go func() {
		for ev := range x.Events() {
			if r.artifacts != nil {
				if err := r.artifacts.Apply(conversationID, ev); err != nil {
					log.Warn("Failed to record artifact", "agent", ev.AgentName, "error", err.Error())
				}
			}
			t.events <- ev
		}
		res := x.Wait()
		switch {
		case res.Suspended:
			log.Info("Turn suspended", "agent", res.Suspension.AgentName, "sub_task_id", res.Suspension.SubTaskID)
		case res.Canceled:
			log.Info("Turn canceled")
		default:
			log.Info("Turn completed", "responses", len(res.Responses))
		}
		finish(res)
	}()
	return t, nil
}

// plan asks the planner and degrades to oracle.DefaultPlan. A resumption
// that does not name the pending sub-task is dropped.
func (r *Runner) plan(
	ctx context.Context,
	text, history string,
	pending *core.PendingSuspension,
	log *logging.RelayLogger,
) (core.TaskPlan, bool) {
	candidates := r.candidates.Active()
	if r.planner == nil {
		return oracle.DefaultPlan(text, candidates), false
	}

	plan, err := r.planner.Plan(ctx, core.PlanRequest{
		Request:    text,
		Candidates: candidates,
		History:    history,
		Pending:    pending,
	})
	if err == nil && len(plan.Agents) == 0 {
		err = &core.OracleError{Oracle: core.OraclePlanner, Err: errors.New("empty plan")}
	}
	if err != nil {
		log.Warn("Planner failed, using default plan", "error", err.Error(), "candidates", len(candidates))
		return oracle.DefaultPlan(text, candidates), true
	}

	if plan.Request == "" {
		plan.Request = text
	}
	if plan.Resumption != nil {
		switch {
		case pending == nil || plan.Resumption.WaitingSubTaskID != pending.SubTaskID:
			log.Warn("Discarding resumption that does not match the pending suspension",
				"sub_task_id", plan.Resumption.WaitingSubTaskID)
			plan.Resumption = nil
		case plan.Resumption.AgentName == "":
			plan.Resumption.AgentName = pending.AgentName
		}
	}
	return plan, false
}
