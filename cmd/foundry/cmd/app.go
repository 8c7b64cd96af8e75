package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/protocol-foundry/graph"
	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/graph/model"
	"github.com/dshills/protocol-foundry/graph/model/anthropic"
	"github.com/dshills/protocol-foundry/graph/model/google"
	"github.com/dshills/protocol-foundry/graph/model/openai"
	"github.com/dshills/protocol-foundry/graph/store"
	"github.com/dshills/protocol-foundry/internal/agents"
	"github.com/dshills/protocol-foundry/internal/api"
	"github.com/dshills/protocol-foundry/internal/config"
	"github.com/dshills/protocol-foundry/internal/logging"
	"github.com/dshills/protocol-foundry/internal/repair"
	"github.com/dshills/protocol-foundry/internal/tasks"
	"github.com/dshills/protocol-foundry/internal/workflow"
)

const redisPingTimeout = 5 * time.Second

// app is the process wiring shared by serve and run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *prometheus.Registry
	events   *emit.BufferedEmitter
	store    checkpointStore
	provider string
	workflow *workflow.Workflow
	tasks    *tasks.Registry

	closers []func(context.Context) error
}

// checkpointStore is the store handed to the engine plus what /health
// reports about it.
type checkpointStore struct {
	store    store.Store[workflow.State]
	name     string
	fallback *store.FallbackStore[workflow.State]
}

func (c checkpointStore) status() api.StoreStatus {
	st := api.StoreStatus{Name: c.name}
	if c.fallback != nil {
		st.Degraded = c.fallback.Degraded()
	}
	return st
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.Output = w
	return logging.New(lc)
}

// newApp opens the store, selects the model provider and builds the
// workflow and task registry. Call close when done.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: prometheus.NewRegistry(),
		events:  emit.NewBufferedEmitter(0),
	}
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cs, closer, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	a.store = cs
	if closer != nil {
		a.closers = append(a.closers, func(context.Context) error { return closer() })
	}

	chat, provider, err := newChatModel(cfg.LLM)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.provider = provider

	emitters := []emit.Emitter{a.events, emit.NewLogEmitter(logger.With("component", "engine"))}
	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			_ = a.close(ctx)
			return nil, fmt.Errorf("tracing: %w", err)
		}
		otel.SetTracerProvider(tp)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer(cfg.Tracing.ServiceName)))
		a.closers = append(a.closers, tp.Shutdown)
	}

	repairs := repair.NewMetrics(a.metrics)
	wf, err := workflow.New(workflow.Config{
		Drafter:    agents.NewDrafter(chat, roleParams(cfg.LLM.Draft)),
		Safety:     agents.NewSafetyGuardian(chat, roleParams(cfg.LLM.Review), repairs, logger),
		Clinical:   agents.NewClinicalCritic(chat, roleParams(cfg.LLM.Review), repairs, logger),
		Supervisor: agents.NewSupervisor(chat, roleParams(cfg.LLM.Supervisor)),
		Store:      cs.store,
		Emitter:    emit.NewMultiEmitter(emitters...),
		Metrics:    graph.NewPrometheusMetrics(a.metrics),
		Logger:     logger,
		Policy:     cfg.Policy,
		MaxSteps:   cfg.Workflow.MaxSteps,
	})
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.workflow = wf

	a.tasks = tasks.NewRegistry(wf, tasks.Options{
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		Events:            a.events,
		Logger:            logger,
	})
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func roleParams(rc config.RoleConfig) model.Params {
	return model.Params{Temperature: rc.Temperature, MaxTokens: rc.MaxTokens}
}

// openStore opens the configured checkpoint store. Durable drivers are
// wrapped in a FallbackStore; when one cannot be opened the process keeps
// serving from memory and /health reports the store degraded.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (checkpointStore, func() error, error) {
	if cfg.Driver == "memory" {
		return checkpointStore{store: store.NewMemStore[workflow.State](), name: "memory"}, nil, nil
	}

	var (
		primary store.Store[workflow.State]
		closer  func() error
		err     error
	)
	switch cfg.Driver {
	case "sqlite":
		var s *store.SQLiteStore[workflow.State]
		if s, err = store.NewSQLiteStore[workflow.State](cfg.SQLitePath); err == nil {
			primary, closer = s, s.Close
		}
	case "mysql":
		var s *store.MySQLStore[workflow.State]
		if s, err = store.NewMySQLStore[workflow.State](cfg.MySQLDSN); err == nil {
			primary, closer = s, s.Close
		}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
		} else {
			s := store.NewRedisStore[workflow.State](client,
				store.WithRedisPrefix(cfg.RedisPrefix),
				store.WithRedisTTL(cfg.RedisTTL),
			)
			primary, closer = s, s.Close
		}
	default:
		return checkpointStore{}, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err != nil {
		logger.Error("checkpoint store unavailable, keeping checkpoints in memory",
			"driver", cfg.Driver, "error", err)
	}
	fb := store.NewFallbackStore[workflow.State](primary, logger)
	return checkpointStore{store: fb, name: cfg.Driver, fallback: fb}, closer, nil
}

// newChatModel builds the model every agent shares. Auto picks the first
// provider with a key in the order openrouter, openai, anthropic, google
// and falls back to the offline model.
func newChatModel(cfg config.LLMConfig) (model.ChatModel, string, error) {
	provider := cfg.Provider
	if provider == "" || provider == "auto" {
		provider = autoProvider(cfg.Keys)
	}

	retry := model.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.MaxAttempts

	var openaiOpts []openai.Option
	openaiOpts = append(openaiOpts, openai.WithRetryPolicy(retry))
	if cfg.BaseURL != "" {
		openaiOpts = append(openaiOpts, openai.WithBaseURL(cfg.BaseURL))
	}

	switch provider {
	case "openrouter":
		if cfg.Keys.OpenRouter == "" {
			return nil, "", missingKey(provider, "OPENROUTER_API_KEY")
		}
		return openai.NewOpenRouterModel(cfg.Keys.OpenRouter, cfg.Model,
			cfg.OpenRouterReferer, cfg.OpenRouterTitle, openaiOpts...), provider, nil
	case "openai":
		if cfg.Keys.OpenAI == "" {
			return nil, "", missingKey(provider, "OPENAI_API_KEY")
		}
		return openai.NewChatModel(cfg.Keys.OpenAI, cfg.Model, openaiOpts...), provider, nil
	case "anthropic":
		if cfg.Keys.Anthropic == "" {
			return nil, "", missingKey(provider, "ANTHROPIC_API_KEY")
		}
		return anthropic.NewChatModel(cfg.Keys.Anthropic, cfg.Model).WithRetryPolicy(retry), provider, nil
	case "google":
		if cfg.Keys.Google == "" {
			return nil, "", missingKey(provider, "GOOGLE_API_KEY")
		}
		return google.NewChatModel(cfg.Keys.Google, cfg.Model).WithRetryPolicy(retry), provider, nil
	case "offline":
		return agents.NewOfflineModel(), provider, nil
	default:
		return nil, "", fmt.Errorf("unknown llm provider %q", provider)
	}
}

func autoProvider(keys config.APIKeys) string {
	switch {
	case keys.OpenRouter != "":
		return "openrouter"
	case keys.OpenAI != "":
		return "openai"
	case keys.Anthropic != "":
		return "anthropic"
	case keys.Google != "":
		return "google"
	default:
		return "offline"
	}
}

func missingKey(provider, env string) error {
	return fmt.Errorf("llm.provider %s requires %s", provider, env)
}

// newTracerProvider exports spans over OTLP/HTTP. The caller shuts it
// down.
func newTracerProvider(ctx context.Context, cfg config.TracingConfig) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}
