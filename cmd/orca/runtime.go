package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/config"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/executor"
	"github.com/ShayCichocki/orca/internal/orchestrator"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/protect"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/router"
	"github.com/ShayCichocki/orca/internal/state"
	"github.com/ShayCichocki/orca/internal/tools"
	"github.com/ShayCichocki/orca/internal/trace"
)

// runtimeOptions are the per-invocation choices layered over config.
type runtimeOptions struct {
	workDir   string
	sink      events.Sink
	denyTools []string
	persist   bool
}

// runtime is the wired kernel for one CLI invocation.
type runtime struct {
	orch    *orchestrator.Orchestrator
	budget  *budget.Manager
	traces  *trace.Logger
	db      *state.DB
	closers []func() error
}

// newRuntime wires providers, persistence, telemetry and the kernel from cfg.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (_ *runtime, retErr error) {
	rt := &runtime{}
	defer func() {
		if retErr != nil {
			rt.Close()
		}
	}()

	presets, err := cfg.Presets()
	if err != nil {
		return nil, err
	}
	rt.budget = budget.NewManager(
		budget.WithPresets(presets),
		budget.WithDefaultPreset(cfg.Budget.DefaultPreset),
		budget.WithLogger(logger),
	)

	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	traceOpts := []trace.Option{trace.WithLogger(logger)}
	if opts.persist && cfg.Trace.Persist {
		db, err := state.OpenAndMigrate(cfg.Trace.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open trace store: %w", err)
		}
		rt.db = db
		rt.closers = append(rt.closers, db.Close)
		traceOpts = append(traceOpts, trace.WithRepository(db))
	}
	if cfg.Trace.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Trace.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		rt.closers = append(rt.closers, func() error {
			return tp.Shutdown(context.Background())
		})
		traceOpts = append(traceOpts, trace.WithTracer(tp.Tracer("github.com/ShayCichocki/orca")))
	}
	rt.traces = trace.NewLogger(traceOpts...)

	sinks := []events.Sink{opts.sink}
	if cfg.Events.NATSURL != "" {
		natsSink, nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, nc.Drain)
		sinks = append(sinks, natsSink)
	}

	r := router.New(cfg.Routing, providers, rt.budget, rt.traces, router.WithLogger(logger))
	registry := tools.NewRegistry(tools.Builtins(opts.workDir)...)
	p := planner.New(r, registry, rt.budget, rt.traces,
		planner.WithLogger(logger),
		planner.WithEnergy(cfg.Energy))

	execCfg := executor.Config{
		Planner: p,
		Tools:   registry,
		Budget:  rt.budget,
		Traces:  rt.traces,
		Router:  r,
		Logger:  logger,
	}
	var policies []executor.PolicyChecker
	if len(opts.denyTools) > 0 {
		policies = append(policies, executor.DenyTools(opts.denyTools...))
	}
	if cfg.Protect.Enabled {
		policies = append(policies, protect.New(cfg.ProtectRules()).Policy())
	}
	if len(policies) > 0 {
		execCfg.Policy = executor.Policies(policies...)
	}
	exec, err := executor.New(execCfg)
	if err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithMaxParallel(cfg.Orchestrator.MaxParallel),
		orchestrator.WithLogger(logger),
		orchestrator.WithSink(events.Multi(sinks...)),
	}
	if rt.db != nil {
		orchOpts = append(orchOpts, orchestrator.WithResultStore(rt.db))
	}
	rt.orch, err = orchestrator.New(orchestrator.RequiredConfig{
		Planner:  p,
		Executor: exec,
		Budget:   rt.budget,
		Traces:   rt.traces,
	}, orchOpts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Close releases everything the runtime opened, newest first.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// buildProviders registers every provider with usable credentials.
func buildProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	anthropicCfg := cfg.AnthropicProvider()
	if key, err := config.GetAPIKey(cfg, config.ProviderAnthropic); err == nil {
		anthropicCfg.APIKey = key
	}
	if anthropicCfg.APIKey != "" || anthropicCfg.UseAWSBedrock {
		p, err := provider.NewAnthropic(anthropicCfg)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		registry.Register(p)
	}

	geminiCfg := cfg.GeminiProvider()
	if key, err := config.GetAPIKey(cfg, config.ProviderGemini); err == nil {
		geminiCfg.APIKey = key
	}
	if geminiCfg.APIKey != "" {
		p, err := provider.NewGemini(ctx, geminiCfg)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		registry.Register(p)
	}

	names := registry.Names()
	if len(names) == 0 {
		return nil, errors.New("no model provider configured: set ANTHROPIC_API_KEY or GEMINI_API_KEY, or enable providers.anthropic.use_bedrock")
	}
	logger.Debug("providers registered", zap.Strings("providers", names))
	return registry, nil
}
