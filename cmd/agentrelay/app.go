package main

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/a2a"
	"github.com/hupe1980/agentrelay/config"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/model/anthropic"
	"github.com/hupe1980/agentrelay/model/openai"
	"github.com/hupe1980/agentrelay/oracle"
)

// app is the wired relay of one command invocation.
type app struct {
	cfg    *config.Config
	logger *logging.ZapAdapter
	relay  *agentrelay.Relay
}

func loadApp(flags *rootFlags, registerer prometheus.Registerer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}
	cfg.Agents = append(cfg.Agents, flags.agents...)

	logger, err := logging.NewZapLogger(logging.ParseLevel(cfg.Logger.Level), cfg.Logger.Format)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	relay, err := newRelay(cfg, logger, registerer)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, relay: relay}, nil
}

// registerAgents registers every configured address and returns how many
// succeeded. Failures are logged by the directory.
func (a *app) registerAgents(ctx context.Context) int {
	n := 0
	for _, address := range a.cfg.Agents {
		if a.relay.Register(ctx, address) != nil {
			n++
		}
	}
	return n
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func newRelay(cfg *config.Config, logger logging.Logger, registerer prometheus.Registerer) (*agentrelay.Relay, error) {
	t := cfg.Transport
	dialer := a2a.NewDialer(func(o *a2a.DialerOptions) {
		o.CacheSize = t.ClientCacheSize
		o.Client = append(o.Client, func(c *a2a.Options) {
			c.RequestsPerSecond = t.RequestsPerSecond
			c.Burst = t.Burst
			c.RetryAttempts = t.RetryAttempts
			c.RetryDelay = t.RetryDelay
			c.BreakerThreshold = t.BreakerThreshold
			c.BreakerTimeout = t.BreakerTimeout
			c.Logger = logger
		})
	})

	opts, err := oracleOptions(cfg.Oracle, logger)
	if err != nil {
		return nil, err
	}

	return agentrelay.New(func(o *agentrelay.Options) {
		o.EngineConfig.EventBufferSize = cfg.Engine.EventBufferSize
		o.EngineConfig.HistoryTurns = cfg.Engine.HistoryTurns
		o.Dialer = dialer
		o.ProbeTimeout = cfg.Directory.ProbeTimeout
		o.Registerer = registerer
		o.Logger = logger
		opts(o)
	}), nil
}

// oracleOptions selects planner, instruction generator and integrator. The
// "none" provider keeps the relay defaults: capability planning and
// attributed concatenation.
func oracleOptions(cfg config.OracleConfig, logger logging.Logger) (func(o *agentrelay.Options), error) {
	m, err := newModel(cfg)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return func(o *agentrelay.Options) { o.Instructions = oracle.PassthroughInstructor{} }, nil
	}

	return func(o *agentrelay.Options) {
		o.Planner = oracle.NewLLMPlanner(m, func(p *oracle.LLMPlannerOptions) { p.Logger = logger })
		o.Instructions = oracle.NewLLMInstructor(m, func(i *oracle.LLMInstructorOptions) { i.Logger = logger })
		o.Integrator = oracle.NewLLMIntegrator(m, func(i *oracle.LLMIntegratorOptions) {
			i.Stream = cfg.StreamIntegration
			i.Logger = logger
		})
	}, nil
}

// newModel returns nil for the "none" provider.
func newModel(cfg config.OracleConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderMock:
		return model.NewMockModel("mock"), nil
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
