// Package config loads foundry settings from defaults, an optional
// foundry.yaml, FOUNDRY_* environment variables and bound CLI flags.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/dshills/protocol-foundry/internal/workflow"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Server   ServerConfig    `mapstructure:"server"`
	Store    StoreConfig     `mapstructure:"store"`
	LLM      LLMConfig       `mapstructure:"llm"`
	Policy   workflow.Policy `mapstructure:"policy"`
	Workflow WorkflowConfig  `mapstructure:"workflow"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP surface and run dispatch.
type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"`
}

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"` // sqlite, mysql, redis, memory
	SQLitePath string `mapstructure:"sqlite_path"`
	MySQLDSN   string `mapstructure:"mysql_dsn"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// LLMConfig selects the backend and per-role sampling.
type LLMConfig struct {
	// Provider is auto, openrouter, openai, anthropic, google or offline.
	// Auto picks the first provider with a key in that order.
	Provider string `mapstructure:"provider"`

	// Model overrides the provider's default model.
	Model string `mapstructure:"model"`

	// BaseURL overrides the OpenAI-compatible endpoint.
	BaseURL string `mapstructure:"base_url"`

	OpenRouterReferer string `mapstructure:"openrouter_referer"`
	OpenRouterTitle   string `mapstructure:"openrouter_title"`

	// MaxAttempts bounds calls per request including retries.
	MaxAttempts int `mapstructure:"max_attempts"`

	Draft      RoleConfig `mapstructure:"draft"`
	Review     RoleConfig `mapstructure:"review"`
	Supervisor RoleConfig `mapstructure:"supervisor"`

	Keys APIKeys `mapstructure:"keys"`
}

// RoleConfig is the sampling of one agent role.
type RoleConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// APIKeys are read from the providers' conventional environment variables.
type APIKeys struct {
	OpenRouter string `mapstructure:"openrouter"`
	OpenAI     string `mapstructure:"openai"`
	Anthropic  string `mapstructure:"anthropic"`
	Google     string `mapstructure:"google"`
}

// WorkflowConfig configures the graph engine.
type WorkflowConfig struct {
	MaxSteps int `mapstructure:"max_steps"`
}

// TracingConfig toggles OpenTelemetry spans for workflow events.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`

	// Endpoint is the OTLP/HTTP collector URL.
	Endpoint string `mapstructure:"endpoint"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
