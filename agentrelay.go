// Package agentrelay provides a high-level façade over the directory, the
// engine and the runner, enabling rapid construction of a relay that
// delegates user requests to remote agents. Most applications interact with
// this package by:
//  1. Creating a Relay via New() (optionally overriding planner, oracles and stores)
//  2. Registering remote agents by address, or in-process agents via RegisterLocal
//  3. Sending user messages asynchronously (Send) or synchronously (SendSync)
//
// All defaults are safe for local development and testing: agents are
// planned by capability lookup, replies are composed by concatenation and
// conversations live in memory.
package agentrelay

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/agent"
	"github.com/hupe1980/agentrelay/artifact"
	"github.com/hupe1980/agentrelay/conversation"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/directory"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/oracle"
	"github.com/hupe1980/agentrelay/runner"
	"github.com/hupe1980/agentrelay/server"
)

// Options configures the Relay instance.
type Options struct {
	// EngineConfig sets event buffering and the history window.
	EngineConfig engine.Config

	// Dialer reaches non-local agents. Defaults to an a2a.Dialer.
	Dialer core.Dialer

	// ProbeTimeout bounds each health probe. Zero leaves probes unbounded.
	ProbeTimeout time.Duration

	// Planner selects agents. Defaults to a capability planner over the
	// relay's directory.
	Planner core.Planner

	// Instructions and Integrator are optional oracles; see engine.Options.
	Instructions core.InstructionGenerator
	Integrator   core.Integrator

	// Conversations and Artifacts default to in-memory stores.
	Conversations core.ConversationStore
	Artifacts     core.ArtifactStore

	// Registerer receives the relay's metrics. A private registry is used
	// when nil.
	Registerer prometheus.Registerer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Relay is the high-level façade aggregating the directory, the engine and
// the runner.
type Relay struct {
	locals        *agent.Registry
	directory     *directory.Directory
	conversations core.ConversationStore
	artifacts     core.ArtifactStore
	runner        *runner.Runner
	gatherer      prometheus.Gatherer
	logger        logging.Logger
}

// New creates a new Relay with optional overrides.
func New(optFns ...func(o *Options)) *Relay {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dialer == nil {
		opts.Dialer = a2a.NewDialer(func(o *a2a.DialerOptions) {
			o.Client = append(o.Client, func(c *a2a.Options) { c.Logger = opts.Logger })
		})
	}
	if opts.Conversations == nil {
		opts.Conversations = conversation.NewInMemoryStore()
	}
	if opts.Artifacts == nil {
		opts.Artifacts = artifact.NewInMemoryStore()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	gatherer, ok := opts.Registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	locals := agent.NewRegistry()

	dir := directory.New(func(o *directory.Options) {
		o.Dialer = locals.Dialer(opts.Dialer)
		o.Logger = opts.Logger
		o.Registerer = opts.Registerer
		o.ProbeTimeout = opts.ProbeTimeout
	})

	if opts.Planner == nil {
		opts.Planner = oracle.NewCapabilityPlanner(dir)
	}

	eng := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Directory = dir
		o.Conversations = opts.Conversations
		o.Instructions = opts.Instructions
		o.Integrator = opts.Integrator
		o.Metrics = engine.NewMetrics(opts.Registerer)
		o.Logger = opts.Logger
	})

	r := runner.New(eng, dir, opts.Conversations, opts.Planner, func(o *runner.Options) {
		o.HistoryTurns = opts.EngineConfig.HistoryTurns
		o.EventBufferSize = opts.EngineConfig.EventBufferSize
		o.Artifacts = opts.Artifacts
		o.Logger = opts.Logger
	})

	return &Relay{
		locals:        locals,
		directory:     dir,
		conversations: opts.Conversations,
		artifacts:     opts.Artifacts,
		runner:        r,
		gatherer:      gatherer,
		logger:        opts.Logger,
	}
}

// Directory returns the agent directory.
func (r *Relay) Directory() *directory.Directory { return r.directory }

// Conversations returns the conversation store.
func (r *Relay) Conversations() core.ConversationStore { return r.conversations }

// Artifacts returns the store of artifacts agents streamed during turns.
func (r *Relay) Artifacts() core.ArtifactStore { return r.artifacts }

// Runner returns the turn runner.
func (r *Relay) Runner() *runner.Runner { return r.runner }

// Register adds the agent served at address. It returns nil when the agent
// could not be reached or described.
func (r *Relay) Register(ctx context.Context, address string) *core.ManagedAgent {
	return r.directory.Register(ctx, address)
}

// RegisterLocal serves a in-process under agent.Address(a.Name()) and
// registers it.
func (r *Relay) RegisterLocal(ctx context.Context, a *agent.Local) *core.ManagedAgent {
	r.locals.Register(a)
	return r.directory.Register(ctx, agent.Address(a.Name()))
}

// Send starts a turn; see runner.Runner.Send.
func (r *Relay) Send(ctx context.Context, conversationID, text string) (*runner.Turn, error) {
	return r.runner.Send(ctx, conversationID, text)
}

// SendSync is a synchronous helper that drains the turn and returns its
// events with the result.
func (r *Relay) SendSync(ctx context.Context, conversationID, text string) ([]core.AgentEvent, runner.TurnResult, error) {
	turn, err := r.runner.Send(ctx, conversationID, text)
	if err != nil {
		return nil, runner.TurnResult{}, err
	}
	events, res := turn.Collect()
	return events, res, nil
}

// Handler returns the HTTP API of the relay.
func (r *Relay) Handler(optFns ...func(o *server.Options)) http.Handler {
	return server.New(r.directory, r.conversations, r.runner, append([]func(o *server.Options){
		func(o *server.Options) {
			o.Artifacts = r.artifacts
			o.Gatherer = r.gatherer
			o.Logger = r.logger
		},
	}, optFns...)...)
}
