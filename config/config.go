package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: AGENTRELAY_SERVER_ADDR overrides
// server.addr.
const EnvPrefix = "AGENTRELAY"

// Config is the root configuration of the agentrelay binary.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Agents    []string        `mapstructure:"agents"` // addresses registered at startup
	Directory DirectoryConfig `mapstructure:"directory"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Transport TransportConfig `mapstructure:"transport"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
}

// ServerConfig describes the HTTP front end.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// DirectoryConfig configures agent health probing.
type DirectoryConfig struct {
	HealthInterval time.Duration `mapstructure:"health_interval"` // zero disables the monitor
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
}

// EngineConfig configures the engine and the runner.
type EngineConfig struct {
	EventBufferSize int `mapstructure:"event_buffer_size"`
	HistoryTurns    int `mapstructure:"history_turns"`
}

// TransportConfig configures the clients talking to remote agents.
type TransportConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryAttempts     uint          `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	BreakerThreshold  uint32        `mapstructure:"breaker_threshold"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout"`
	ClientCacheSize   int           `mapstructure:"client_cache_size"`
}

// Oracle providers.
const (
	ProviderNone      = "none"
	ProviderMock      = "mock"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// OracleConfig selects the model behind planning, instructions and
// integration. Provider "none" plans by capability lookup and composes
// replies by concatenation.
type OracleConfig struct {
	Provider          string `mapstructure:"provider"`
	Model             string `mapstructure:"model"`
	APIKey            string `mapstructure:"api_key"`
	BaseURL           string `mapstructure:"base_url"`
	StreamIntegration bool   `mapstructure:"stream_integration"`
}

// Load reads the configuration from path, environment overrides and
// defaults. An empty path looks for agentrelay.yaml in the working directory
// and ./configs, and runs on environment and defaults when there is none.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agentrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports settings the binary cannot run with.
func (c *Config) Validate() error {
	switch c.Oracle.Provider {
	case ProviderNone, ProviderMock, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config: unknown oracle provider %q", c.Oracle.Provider)
	}
	if c.Engine.EventBufferSize < 0 {
		return errors.New("config: engine.event_buffer_size must not be negative")
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("agents", []string{})

	v.SetDefault("directory.health_interval", 30*time.Second)
	v.SetDefault("directory.probe_timeout", 5*time.Second)

	v.SetDefault("engine.event_buffer_size", 64)
	v.SetDefault("engine.history_turns", 10)

	v.SetDefault("transport.requests_per_second", 0)
	v.SetDefault("transport.burst", 1)
	v.SetDefault("transport.retry_attempts", 3)
	v.SetDefault("transport.retry_delay", 200*time.Millisecond)
	v.SetDefault("transport.breaker_threshold", 5)
	v.SetDefault("transport.breaker_timeout", 30*time.Second)
	v.SetDefault("transport.client_cache_size", 128)

	v.SetDefault("oracle.provider", ProviderNone)
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.stream_integration", false)
}
