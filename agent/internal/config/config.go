package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultReportInterval  = 5 * time.Second
	DefaultBufferSize      = 100
	DefaultEventsPerSecond = 1000
	DefaultCampaigns       = 5
	DefaultReturnRate      = 0.3
	DefaultMaxSessions     = 10000
	DefaultFillRate        = 0.95
	DefaultMinValue        = 10.0
	DefaultMaxValue        = 500.0
	DefaultAuthHeader      = "x-api-key"
)

// DefaultChannels is the channel set used when none is configured.
var DefaultChannels = []string{"Search", "Social", "Display", "Email"}

// Config is the top-level agent configuration. The `server:` key of a shared
// file is ignored by the agent.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// SourceID names this agent (and its engine) on the server.
	SourceID string `yaml:"source_id"`

	// ServerEndpoint is the base URL of attribstream-server, e.g. http://localhost:8080.
	ServerEndpoint string `yaml:"server_endpoint"`

	// Channels is the fixed, ordered channel registry for the engine.
	Channels []string `yaml:"channels"`

	// ReportInterval controls how often a snapshot is published.
	ReportInterval time.Duration `yaml:"report_interval"`

	// BufferSize is the maximum number of records held in memory when the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// MetricsAddr, when non-empty, serves Prometheus /metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`

	// IncludeTransitions adds the transition matrix to every record.
	IncludeTransitions bool `yaml:"include_transitions"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	// ServerAuth configures how the agent authenticates to the server.
	ServerAuth ServerAuthConfig `yaml:"server_auth"`

	Simulator SimulatorConfig `yaml:"simulator"`
	Health    HealthConfig    `yaml:"health"`
}

// ServerAuthConfig configures the API key sent with every record.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the key is sent in (default "x-api-key").
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// SimulatorConfig controls the synthetic conversion path generator.
type SimulatorConfig struct {
	Enabled         bool    `yaml:"enabled"`
	EventsPerSecond int     `yaml:"events_per_second"`
	Campaigns       int     `yaml:"campaigns"`
	ReturnRate      float64 `yaml:"return_rate"`
	MaxSessions     int     `yaml:"max_sessions"`
	FillRate        float64 `yaml:"fill_rate"`
	MinValue        float64 `yaml:"min_value"`
	MaxValue        float64 `yaml:"max_value"`
	// Seed fixes the random source; 0 seeds from the clock.
	Seed    int64        `yaml:"seed"`
	Weights EventWeights `yaml:"weights"`
}

// EventWeights are the relative probabilities of each simulated event type.
type EventWeights struct {
	Impression float64 `yaml:"impression"`
	Click      float64 `yaml:"click"`
	Conversion float64 `yaml:"conversion"`
}

// HealthConfig selects where campaign health counters come from.
type HealthConfig struct {
	// Type is one of: simulator | prometheus.
	Type string `yaml:"type"`

	// Endpoint is the metrics URL of the ad server (prometheus type only).
	Endpoint string `yaml:"endpoint"`

	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// Metrics maps counter names to Prometheus metric family names.
	Metrics MetricNames `yaml:"metrics"`
}

// MetricNames lists the Prometheus metric families read by the prometheus
// health source. Empty entries fall back to the defaults.
type MetricNames struct {
	Requests    string `yaml:"requests"`
	Fills       string `yaml:"fills"`
	Impressions string `yaml:"impressions"`
	Clicks      string `yaml:"clicks"`
	Conversions string `yaml:"conversions"`
	Users       string `yaml:"users"`
	Events      string `yaml:"events"`
}

// AuthConfig specifies the authentication mode for the health source.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for the health source.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c AgentConfig) SlogLevel() slog.Level {
	return ParseLevel(c.LogLevel)
}

// ParseLevel converts a config log level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if len(cfg.Agent.Channels) == 0 {
		cfg.Agent.Channels = append([]string(nil), DefaultChannels...)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	host, _ := os.Hostname()
	if host == "" {
		host = "agent"
	}
	return &Config{
		Agent: AgentConfig{
			SourceID:       host,
			ReportInterval: DefaultReportInterval,
			BufferSize:     DefaultBufferSize,
			LogLevel:       "info",
			Simulator: SimulatorConfig{
				Enabled:         true,
				EventsPerSecond: DefaultEventsPerSecond,
				Campaigns:       DefaultCampaigns,
				ReturnRate:      DefaultReturnRate,
				MaxSessions:     DefaultMaxSessions,
				FillRate:        DefaultFillRate,
				MinValue:        DefaultMinValue,
				MaxValue:        DefaultMaxValue,
				Weights: EventWeights{
					Impression: 0.90,
					Click:      0.08,
					Conversion: 0.02,
				},
			},
			Health: HealthConfig{
				Type: "simulator",
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.SourceID == "" {
		return fmt.Errorf("agent.source_id is required")
	}
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if !strings.HasPrefix(a.ServerEndpoint, "http://") && !strings.HasPrefix(a.ServerEndpoint, "https://") {
		return fmt.Errorf("agent.server_endpoint %q must be an http(s) URL", a.ServerEndpoint)
	}
	seen := make(map[string]bool, len(a.Channels))
	for i, ch := range a.Channels {
		if ch == "" {
			return fmt.Errorf("agent.channels[%d]: name is required", i)
		}
		if seen[ch] {
			return fmt.Errorf("agent.channels[%d]: duplicate channel %q", i, ch)
		}
		seen[ch] = true
	}
	if a.ReportInterval <= 0 {
		return fmt.Errorf("agent.report_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want apikey|none", a.ServerAuth.Mode)
	}

	s := a.Simulator
	if s.Enabled {
		if s.EventsPerSecond <= 0 {
			return fmt.Errorf("agent.simulator.events_per_second must be positive")
		}
		if s.Campaigns <= 0 {
			return fmt.Errorf("agent.simulator.campaigns must be positive")
		}
		if s.MaxSessions <= 0 {
			return fmt.Errorf("agent.simulator.max_sessions must be positive")
		}
		if s.ReturnRate < 0 || s.ReturnRate > 1 {
			return fmt.Errorf("agent.simulator.return_rate %v is outside [0, 1]", s.ReturnRate)
		}
		if s.FillRate < 0 || s.FillRate > 1 {
			return fmt.Errorf("agent.simulator.fill_rate %v is outside [0, 1]", s.FillRate)
		}
		if s.MinValue < 0 || s.MaxValue < s.MinValue {
			return fmt.Errorf("agent.simulator: value range [%v, %v] is invalid", s.MinValue, s.MaxValue)
		}
		w := s.Weights
		if w.Impression < 0 || w.Click < 0 || w.Conversion < 0 || w.Impression+w.Click+w.Conversion <= 0 {
			return fmt.Errorf("agent.simulator.weights must be non-negative with a positive sum")
		}
	}

	h := a.Health
	switch h.Type {
	case "simulator":
		if !s.Enabled {
			return fmt.Errorf("agent.health.type simulator requires agent.simulator.enabled")
		}
	case "prometheus":
		if h.Endpoint == "" {
			return fmt.Errorf("agent.health.endpoint is required for type prometheus")
		}
	default:
		return fmt.Errorf("agent.health.type %q unknown: want simulator|prometheus", h.Type)
	}
	switch h.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.health.auth.mode %q unknown", h.Auth.Mode)
	}
	return nil
}
