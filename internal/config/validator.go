package config

import (
	"fmt"
	"strings"
)

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Provider names accepted by llm.provider.
var Providers = []string{"auto", "openrouter", "openai", "anthropic", "google", "offline"}

// Store drivers accepted by store.driver.
var Drivers = []string{"sqlite", "mysql", "redis", "memory"}

// Validate checks cfg and returns ValidationErrors listing every problem.
func Validate(cfg *Config) error {
	var errs ValidationErrors
	add := func(field string, value interface{}, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !oneOf(cfg.Log.Format, "auto", "text", "json") {
		add("log.format", cfg.Log.Format, "must be auto, text or json")
	}
	if !oneOf(strings.ToLower(cfg.Log.Level), "debug", "info", "warn", "warning", "error") {
		add("log.level", cfg.Log.Level, "must be debug, info, warn or error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", cfg.Server.Port, "must be between 0 and 65535")
	}
	if cfg.Server.MaxConcurrentRuns < 1 {
		add("server.max_concurrent_runs", cfg.Server.MaxConcurrentRuns, "must be at least 1")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout", cfg.Server.ShutdownTimeout, "must not be negative")
	}

	if !oneOf(cfg.Store.Driver, Drivers...) {
		add("store.driver", cfg.Store.Driver, "must be one of "+strings.Join(Drivers, ", "))
	}
	if cfg.Store.Driver == "mysql" && cfg.Store.MySQLDSN == "" {
		add("store.mysql_dsn", "", "required when store.driver is mysql")
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.SQLitePath == "" {
		add("store.sqlite_path", "", "required when store.driver is sqlite")
	}

	if !oneOf(cfg.LLM.Provider, Providers...) {
		add("llm.provider", cfg.LLM.Provider, "must be one of "+strings.Join(Providers, ", "))
	}
	if cfg.LLM.MaxAttempts < 1 {
		add("llm.max_attempts", cfg.LLM.MaxAttempts, "must be at least 1")
	}
	for name, role := range map[string]RoleConfig{"draft": cfg.LLM.Draft, "review": cfg.LLM.Review, "supervisor": cfg.LLM.Supervisor} {
		if role.Temperature < 0 || role.Temperature > 2 {
			add("llm."+name+".temperature", role.Temperature, "must be between 0 and 2")
		}
		if role.MaxTokens < 1 {
			add("llm."+name+".max_tokens", role.MaxTokens, "must be at least 1")
		}
	}

	// 11 makes a threshold unreachable.
	p := cfg.Policy
	for field, score := range map[string]int{
		"policy.halt_safety":     p.HaltSafety,
		"policy.halt_clinical":   p.HaltClinical,
		"policy.safety_floor":    p.SafetyFloor,
		"policy.revise_safety":   p.ReviseSafety,
		"policy.revise_clinical": p.ReviseClinical,
	} {
		if score < 0 || score > 11 {
			add(field, score, "must be between 0 and 11")
		}
	}
	if p.MaxIterations < 1 {
		add("policy.max_iterations", p.MaxIterations, "must be at least 1")
	}
	if cfg.Workflow.MaxSteps < 1 {
		add("workflow.max_steps", cfg.Workflow.MaxSteps, "must be at least 1")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		add("tracing.endpoint", "", "required when tracing is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
