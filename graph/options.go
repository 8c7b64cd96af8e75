// Package graph provides the core graph execution engine.
package graph

// Option configures an Engine.
//
// Example:
//
//	engine := graph.New(
//	    reducer, st, emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithInterruptBefore("human_halt"),
//	    graph.WithMetrics(metrics),
//	)
type Option func(*Options)

// Options holds engine configuration. Use the With* helpers to set it.
type Options struct {
	// MaxSteps bounds node executions per Run or Resume call. Zero means
	// no limit.
	MaxSteps int

	// InterruptBefore lists nodes the engine pauses in front of. The run
	// checkpoints with status paused and returns; Resume continues by
	// executing the interrupt node itself.
	InterruptBefore []string

	// Metrics records step latency and run outcomes when set.
	Metrics *PrometheusMetrics
}

// WithMaxSteps limits workflow execution to prevent infinite loops.
//
// Loops (draft → review → synthesize → draft) are expected; the limit only
// catches a missing exit. When exceeded, Run returns an EngineError with
// code MAX_STEPS_EXCEEDED and the checkpoint is marked failed.
func WithMaxSteps(n int) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithInterruptBefore pauses execution before entering any of the nodes.
func WithInterruptBefore(nodes ...string) Option {
	return func(o *Options) {
		o.InterruptBefore = append(o.InterruptBefore, nodes...)
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}
