package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/config"
	"github.com/jonathan/agency-orchestrator/internal/events"
	"github.com/jonathan/agency-orchestrator/internal/fetch"
	"github.com/jonathan/agency-orchestrator/internal/kv"
	"github.com/jonathan/agency-orchestrator/internal/llm"
	"github.com/jonathan/agency-orchestrator/internal/logging"
	"github.com/jonathan/agency-orchestrator/internal/metrics"
	"github.com/jonathan/agency-orchestrator/internal/orchestrator"
	"github.com/jonathan/agency-orchestrator/internal/research"
	"github.com/jonathan/agency-orchestrator/internal/steps"
	"github.com/jonathan/agency-orchestrator/internal/store"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Store
	orch     *orchestrator.Orchestrator
	hub      *events.Hub
	registry *prometheus.Registry

	closers []func()
}

// resolveConfig layers the config file, the environment and the global flags
// over the defaults, then validates the result.
func resolveConfig(lookup func(string) (string, bool)) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, err
	}

	// Flags win over file and environment
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if offlineMode {
		cfg.Offline = true
	}

	merged := cfg.MergeWithDefaults(config.Defaults())
	if err := merged.Validate(); err != nil {
		return config.Config{}, err
	}
	return merged, nil
}

// newApp wires storage, events, metrics and the orchestrator. The step engine is
// only built when withEngine is set, so read-only commands work without a model key.
func newApp(ctx context.Context, cfg config.Config, withEngine bool) (_ *app, err error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		hub:      events.NewHub(),
		registry: prometheus.NewRegistry(),
	}
	a.onClose(func() { _ = logger.Sync() })
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	substrate, err := a.openSubstrate(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store.New(substrate,
		store.WithLogger(logger),
		store.WithNotifier(store.NewLogNotifier(logger.Named("storage"))))

	if err := a.wireEvents(); err != nil {
		return nil, err
	}

	collector, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := metrics.RegisterStreamGauge(a.registry, a.hub.Subscribers); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	var executor orchestrator.Executor
	if withEngine {
		lib, err := a.newLibrary(ctx)
		if err != nil {
			return nil, err
		}
		executor = lib
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Store:          a.store,
		Executor:       executor,
		Observer:       collector,
		Logger:         logger.Named("orchestrator"),
		StepDelay:      cfg.StepDelay(),
		LeadLockTTL:    cfg.LeadLockTTL(),
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   orchestrator.ExponentialBackoff{Initial: cfg.RetryBackoff(), Max: 8 * cfg.RetryBackoff()},
		ParallelAssets: cfg.ParallelAssets,
	})

	return a, nil
}

// openSubstrate opens the key-value backend selected by the config.
func (a *app) openSubstrate(ctx context.Context) (kv.Store, error) {
	switch a.cfg.Backend {
	case config.BackendMemory:
		m := kv.NewMemory()
		m.MaxBytes = a.cfg.MaxBytes
		return m, nil

	case config.BackendPostgres:
		pg, err := kv.ConnectPostgres(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.onClose(pg.Close)
		return pg, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: a.cfg.RedisAddr})
		a.onClose(func() { _ = client.Close() })
		r := kv.NewRedis(client, a.cfg.RedisPrefix)
		if err := r.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis at %s: %w", a.cfg.RedisAddr, err)
		}
		return r, nil

	default:
		db, err := kv.OpenSQLite(ctx, a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = db.Close() })
		return db, nil
	}
}

// wireEvents fans store changes out to the in-process hub and, when configured,
// to the AMQP exchange.
func (a *app) wireEvents() error {
	sinks := []events.Sink{a.hub}
	if a.cfg.AMQPURL != "" {
		pub, err := events.DialAMQP(a.cfg.AMQPURL, a.cfg.AMQPExchange, a.logger.Named("amqp"))
		if err != nil {
			return err
		}
		a.onClose(func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}

	b := events.NewBroadcaster(a.logger.Named("events"), 0, sinks...)
	a.onClose(b.Close)
	a.onClose(a.store.Subscribe(b))
	return nil
}

// newLibrary builds the step library. Offline mode uses canned responses.
func (a *app) newLibrary(ctx context.Context) (*steps.Library, error) {
	opts := []steps.Option{steps.WithLogger(a.logger.Named("steps"))}

	if a.cfg.Offline {
		a.logger.Info("offline mode: using canned step outputs")
		return steps.NewLibrary(steps.CannedGenerator(), opts...), nil
	}

	if a.cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or api_key config is required (or use --offline)")
	}

	llmConfig := llm.DefaultConfig()
	llmConfig.Temperature = a.cfg.Temperature
	client, err := llm.NewClient(ctx, llmConfig, a.cfg.APIKey)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = client.Close() })

	if a.cfg.SearchEngineID != "" {
		searcher, err := research.NewGoogleSearcher(ctx, a.cfg.SearchKey(), a.cfg.SearchEngineID)
		if err != nil {
			return nil, err
		}
		opts = append(opts, steps.WithSearcher(searcher))
	}
	if a.cfg.FetchWebsites {
		fetchOpts := fetch.DefaultOptions()
		opts = append(opts, steps.WithSiteFetcher(func(ctx context.Context, siteURL string) (*fetch.Snapshot, error) {
			return fetch.Site(ctx, siteURL, fetchOpts)
		}))
	}

	return steps.NewLibrary(client, opts...), nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for _, fn := range slices.Backward(a.closers) {
		fn()
	}
	a.closers = nil
}

// setup resolves the config and builds an app for a command.
func setup(ctx context.Context, withEngine bool) (*app, error) {
	cfg, err := resolveConfig(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, withEngine)
}
