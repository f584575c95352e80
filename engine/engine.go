package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// Timeouts are deliberately absent: a sub-task that never yields keeps its
// slot until the caller cancels the execution context.
type Config struct {
	// EventBufferSize sets the buffer of the multiplexer's shared channel and
	// of the caller facing event channel.
	EventBufferSize int

	// HistoryTurns is how many recent turns are summarized for the
	// instruction generator. Zero or less summarizes every turn.
	HistoryTurns int
}

// DefaultConfig provides default configuration values.
//
// Configuration values:
//   - EventBufferSize: 64
//   - HistoryTurns: 10
var DefaultConfig = Config{
	EventBufferSize: 64,
	HistoryTurns:    10,
}

// AgentResolver is the slice of the agent directory the engine needs.
type AgentResolver interface {
	Resolve(name string) (core.ManagedAgent, core.RemoteAgent, bool)
}

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Directory = dir
//	    o.Conversations = store
//	    o.Integrator = oracle.NewLLMIntegrator(m)
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Directory resolves planner supplied agent names. Required.
	Directory AgentResolver

	// Conversations receives dispatch records and suspensions. Required.
	Conversations core.ConversationStore

	// Instructions writes per-agent sub-task prompts. When nil the plan's
	// own instruction for the agent is used.
	Instructions core.InstructionGenerator

	// Integrator composes multi-agent replies. When nil replies are
	// composed by attributed concatenation.
	Integrator core.Integrator

	// Callbacks receives lifecycle hooks. Optional.
	Callbacks *CallbackManager

	// Metrics receives engine counters. A private registry is used when nil.
	Metrics *Metrics

	// Tracer creates execution spans. Defaults to the global tracer provider.
	Tracer trace.Tracer

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Engine turns a TaskPlan into concurrently executing remote sub-tasks and
// one ordered stream of tagged events.
//
// Execution Flow:
//  1. Plan agent names are resolved through the directory; unknown names are dropped
//  2. Every resolved agent gets a sub-task id and a message; a resuming agent
//     reuses the suspended id and receives the raw user message
//  3. All streams are opened concurrently; a failed open only affects its agent
//  4. A Multiplexer merges the streams in arrival order
//  5. Unless an agent suspended or the caller canceled, the final task records
//     are fetched and composed into one reply
//
// Engine holds no per-execution state and is safe for concurrent use. Callers
// are expected to run at most one execution per conversation at a time.
type Engine struct {
	config        Config
	directory     AgentResolver
	conversations core.ConversationStore
	instructions  core.InstructionGenerator
	integrator    core.Integrator
	callbacks     *CallbackManager
	metrics       *Metrics
	tracer        trace.Tracer
	logger        *logging.RelayLogger
	now           func() time.Time
}

// New creates a new Engine with defaults applied for every optional service.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/agentrelay/engine")
	}
	if opts.Config.EventBufferSize < 0 {
		opts.Config.EventBufferSize = 0
	}

	return &Engine{
		config:        opts.Config,
		directory:     opts.Directory,
		conversations: opts.Conversations,
		instructions:  opts.Instructions,
		integrator:    opts.Integrator,
		callbacks:     opts.Callbacks,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		logger:        logging.NewRelayLogger(opts.Logger).WithComponent("engine"),
		now:           time.Now,
	}
}

// Request is the input of one execution.
type Request struct {
	// ConversationID scopes dispatch records and suspensions. The
	// conversation must exist and have a current turn.
	ConversationID string

	// ParentTaskID is the task the sub-task ids are derived from. One user
	// turn maps to one parent task id.
	ParentTaskID string

	// Plan is the agent selection to execute.
	Plan core.TaskPlan
}

// target is one resolved agent of a plan.
type target struct {
	name      string
	agent     core.ManagedAgent
	client    core.RemoteAgent
	subTaskID string
	resumed   bool
}

// Execute resolves, dispatches and multiplexes the plan's sub-tasks.
//
// It returns a *core.ConfigurationError, before any dispatch, when none of
// the plan's agents can be resolved. Every later failure is reported
// through the execution's events and result, never as an error.
//
// Callers must drain Events until it closes; Wait then returns the result.
// Canceling ctx stops multiplexing and yields one canceled event tagged
// core.OrchestratorName.
func (e *Engine) Execute(ctx context.Context, req Request) (*Execution, error) {
	if e.directory == nil || e.conversations == nil {
		return nil, errors.New("engine: directory and conversation store are required")
	}

	log := e.logger.WithConversation(req.ConversationID).WithContext("parent_task_id", req.ParentTaskID)
	ctx, span := e.tracer.Start(ctx, "engine.Execute", trace.WithAttributes(
		attribute.String("agentrelay.conversation_id", req.ConversationID),
		attribute.String("agentrelay.parent_task_id", req.ParentTaskID),
		attribute.StringSlice("agentrelay.agents", req.Plan.Agents),
		attribute.Bool("agentrelay.resumption", req.Plan.IsResumption()),
	))

	targets := e.resolve(req, log)
	if len(targets) == 0 {
		err := &core.ConfigurationError{Requested: append([]string(nil), req.Plan.Agents...), Err: core.ErrNoResolvableAgents}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		log.Error("No resolvable agents for plan", "requested", strings.Join(req.Plan.Agents, ","))
		return nil, err
	}

	start := e.now()
	execCtx, cancel := context.WithCancel(ctx)
	x := &Execution{
		engine:  e,
		req:     req,
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		log:     log,
		events:  make(chan core.AgentEvent, e.config.EventBufferSize),
		done:    make(chan struct{}),
		targets: targets,
		start:   start,
	}

	sources := e.dispatch(execCtx, req, targets, x, log)
	x.mux = NewMultiplexer(e.config.EventBufferSize, sources...)
	go x.run(execCtx)
	return x, nil
}

// resolve maps plan agent names to directory entries. Unknown names are
// dropped with a warning and agents named twice are dispatched once.
func (e *Engine) resolve(req Request, log *logging.RelayLogger) []*target {
	seen := make(map[string]struct{})
	var targets []*target
	for _, name := range req.Plan.Agents {
		agent, client, ok := e.directory.Resolve(name)
		if !ok || client == nil {
			log.Warn("Dropping unresolved agent from plan", "agent", name)
			continue
		}
		if _, dup := seen[agent.ID]; dup {
			continue
		}
		seen[agent.ID] = struct{}{}
		targets = append(targets, &target{name: name, agent: agent, client: client})
	}

	if req.Plan.IsResumption() {
		r := *req.Plan.Resumption
		if r.AgentName == "" {
			// Only the agent that asked for input may continue the sub-task.
			if p, ok := e.conversations.Suspension(req.ConversationID); ok && p.SubTaskID == r.WaitingSubTaskID {
				r.AgentName = p.AgentName
			}
		}
		resumer := -1
		for i, t := range targets {
			if r.AgentName == "" {
				break
			}
			if strings.EqualFold(t.agent.Name, r.AgentName) || strings.EqualFold(t.name, r.AgentName) {
				resumer = i
				break
			}
		}
		if resumer >= 0 {
			targets[resumer].resumed = true
			targets[resumer].subTaskID = r.WaitingSubTaskID
		} else {
			log.Warn("Resuming agent not part of resolved plan", "agent", r.AgentName, "sub_task_id", r.WaitingSubTaskID)
		}
	}

	for _, t := range targets {
		if !t.resumed {
			t.subTaskID = SubTaskID(req.ParentTaskID, t.agent.Name)
		}
	}
	return targets
}

// dispatch opens every target's stream concurrently and returns the
// successfully opened ones in plan order.
func (e *Engine) dispatch(ctx context.Context, req Request, targets []*target, x *Execution, log *logging.RelayLogger) []Source {
	history := ""
	if e.instructions != nil {
		if h, err := e.conversations.Summarize(req.ConversationID, e.config.HistoryTurns); err == nil {
			history = h
		}
	}

	streams := make([]core.TaskStream, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			s, err := e.open(ctx, req, t, history, log)
			if err != nil {
				x.recordFailure(t.agent.Name)
				return nil
			}
			streams[i] = s
			x.recordDispatch(t.agent.Name)
			return nil
		})
	}
	_ = g.Wait()

	sources := make([]Source, 0, len(targets))
	for i, t := range targets {
		if streams[i] != nil {
			sources = append(sources, Source{AgentName: t.agent.Name, SubTaskID: t.subTaskID, Stream: streams[i]})
		}
	}
	return sources
}

// open dispatches one sub-task. Any failure is wrapped in a
// *core.DispatchError, logged and recorded; it never affects other agents.
func (e *Engine) open(ctx context.Context, req Request, t *target, history string, log *logging.RelayLogger) (stream core.TaskStream, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.dispatch", trace.WithAttributes(
		attribute.String("agentrelay.agent", t.agent.Name),
		attribute.String("agentrelay.sub_task_id", t.subTaskID),
		attribute.Bool("agentrelay.resumed", t.resumed),
	))
	mode := "fresh"
	if t.resumed {
		mode = "resumed"
	}
	cc := &CallbackContext{ConversationID: req.ConversationID, AgentName: t.agent.Name, SubTaskID: t.subTaskID, Resumed: t.resumed, Plan: req.Plan}

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			err = &core.DispatchError{AgentName: t.agent.Name, SubTaskID: t.subTaskID, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.Dispatches.WithLabelValues(t.agent.Name, mode, outcome).Inc()
		log.LogDispatch(t.agent.Name, t.subTaskID, t.resumed, err)
		if recErr := e.conversations.RecordSubTaskDispatch(req.ConversationID, t.agent.Name, t.subTaskID, err == nil); recErr != nil {
			log.Warn("Failed to record dispatch", "agent", t.agent.Name, "error", recErr.Error())
		}
		cc.Err = err
		if cbErr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterDispatch, cc); cbErr != nil {
			log.Warn("Callback failed", "error", cbErr.Error())
		}
	}()

	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeDispatch, cc); err != nil {
		return nil, err
	}

	msg, err := e.message(ctx, req, t, history, log)
	if err != nil {
		return nil, err
	}

	stream, err = t.client.StreamTask(ctx, t.subTaskID, req.ConversationID, msg)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, errors.New("agent returned no stream")
	}

	if t.resumed {
		if err := e.conversations.ClearSuspension(req.ConversationID); err != nil {
			log.Warn("Failed to clear suspension", "error", err.Error())
		}
	}
	return stream, nil
}

// message builds what is sent to one agent. A resumed sub-task receives the
// latest raw user message unchanged; a fresh one receives a generated
// instruction.
func (e *Engine) message(ctx context.Context, req Request, t *target, history string, log *logging.RelayLogger) (core.Message, error) {
	if t.resumed {
		msg, err := e.conversations.LastUserMessage(req.ConversationID)
		if err != nil {
			return core.Message{}, err
		}
		return msg, nil
	}

	instruction := e.instruction(ctx, req, t, history, log)
	msg := core.NewUserMessage(instruction)
	msg.TaskID = t.subTaskID
	msg.ContextID = req.ConversationID
	return msg, nil
}

func (e *Engine) instruction(ctx context.Context, req Request, t *target, history string, log *logging.RelayLogger) string {
	base := req.Plan.Instruction(t.name)
	if _, ok := req.Plan.Instructions[t.name]; !ok {
		base = req.Plan.Instruction(t.agent.Name)
	}
	if e.instructions == nil {
		return base
	}

	start := e.now()
	text, err := e.instructions.Instruction(ctx, core.InstructionRequest{
		Request:          req.Plan.Request,
		AgentName:        t.agent.Name,
		AgentDescription: t.agent.Description,
		Plan:             req.Plan,
		History:          history,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty instruction")
	}
	if err != nil {
		var oe *core.OracleError
		if !errors.As(err, &oe) {
			err = &core.OracleError{Oracle: core.OracleInstruction, Err: err}
		}
		log.LogOracleCall(core.OracleInstruction, time.Since(start), err)
		e.metrics.OracleFallbacks.WithLabelValues(core.OracleInstruction).Inc()
		return base
	}
	log.LogOracleCall(core.OracleInstruction, time.Since(start), nil)
	return text
}
