package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/dshills/protocol-foundry/internal/agents"
	"github.com/dshills/protocol-foundry/internal/tasks"
	"github.com/dshills/protocol-foundry/internal/workflow"
)

// EnvPrefix prefixes every environment override, e.g. FOUNDRY_SERVER_PORT.
const EnvPrefix = "FOUNDRY"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a loader with its own viper instance.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// NewLoaderWithViper uses v, typically one with CLI flags already bound.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFile returns the config file path if one was read.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration. Precedence, highest first: bound flags,
// FOUNDRY_* environment, the config file (explicit path or foundry.yaml in
// the working directory), defaults.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	for key, env := range map[string]string{
		"llm.keys.openrouter": "OPENROUTER_API_KEY",
		"llm.keys.openai":     "OPENAI_API_KEY",
		"llm.keys.anthropic":  "ANTHROPIC_API_KEY",
		"llm.keys.google":     "GOOGLE_API_KEY",
	} {
		if err := l.v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("foundry")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8000)
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	l.v.SetDefault("server.shutdown_timeout", "30s")
	l.v.SetDefault("server.max_concurrent_runs", tasks.DefaultMaxConcurrentRuns)

	l.v.SetDefault("store.driver", "sqlite")
	l.v.SetDefault("store.sqlite_path", "foundry.db")
	l.v.SetDefault("store.mysql_dsn", "")
	l.v.SetDefault("store.redis_addr", "localhost:6379")
	l.v.SetDefault("store.redis_password", "")
	l.v.SetDefault("store.redis_db", 0)
	l.v.SetDefault("store.redis_prefix", "foundry")
	l.v.SetDefault("store.redis_ttl", "0s")

	l.v.SetDefault("llm.provider", "auto")
	l.v.SetDefault("llm.model", "")
	l.v.SetDefault("llm.base_url", "")
	l.v.SetDefault("llm.openrouter_referer", "http://localhost:3000")
	l.v.SetDefault("llm.openrouter_title", "Protocol Foundry")
	l.v.SetDefault("llm.max_attempts", 3)
	setRole(l.v, "llm.draft", agents.DraftParams.Temperature, agents.DraftParams.MaxTokens)
	setRole(l.v, "llm.review", agents.ReviewParams.Temperature, agents.ReviewParams.MaxTokens)
	setRole(l.v, "llm.supervisor", agents.SupervisorParams.Temperature, agents.SupervisorParams.MaxTokens)

	p := workflow.DefaultPolicy()
	l.v.SetDefault("policy.halt_safety", p.HaltSafety)
	l.v.SetDefault("policy.halt_clinical", p.HaltClinical)
	l.v.SetDefault("policy.safety_floor", p.SafetyFloor)
	l.v.SetDefault("policy.max_iterations", p.MaxIterations)
	l.v.SetDefault("policy.revise_safety", p.ReviseSafety)
	l.v.SetDefault("policy.revise_clinical", p.ReviseClinical)

	l.v.SetDefault("workflow.max_steps", workflow.DefaultMaxSteps)

	l.v.SetDefault("tracing.enabled", false)
	l.v.SetDefault("tracing.service_name", "protocol-foundry")
	l.v.SetDefault("tracing.endpoint", "http://localhost:4318")
}

func setRole(v *viper.Viper, prefix string, temperature float64, maxTokens int) {
	v.SetDefault(prefix+".temperature", temperature)
	v.SetDefault(prefix+".max_tokens", maxTokens)
}
