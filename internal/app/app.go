// Package app builds a polyquery instance from configuration: it opens the
// configured stores and wires the schema catalog, planner, executors,
// history, report export and metrics into an engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polyquery/polyquery/internal/config"
	"github.com/polyquery/polyquery/internal/engine"
	"github.com/polyquery/polyquery/internal/history"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/query/executor"
	"github.com/polyquery/polyquery/internal/query/planner"
	"github.com/polyquery/polyquery/internal/report"
	"github.com/polyquery/polyquery/internal/schema"
	"github.com/polyquery/polyquery/internal/server"
	"github.com/polyquery/polyquery/internal/storage"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/internal/store/cqlstore"
	"github.com/polyquery/polyquery/internal/store/memstore"
	"github.com/polyquery/polyquery/internal/store/mongostore"
	"github.com/polyquery/polyquery/pkg/types"
)

// App holds the wired components and the resources they own.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *store.Registry
	catalog  *schema.Catalog
	filters  *observability.FilterStats
	history  *history.Store
	engine   *engine.Engine

	promReg  *prometheus.Registry
	shutdown *server.ShutdownManager
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// New validates cfg, opens every configured store and wires the engine.
// Stores are connected in configuration order; if any fails, the ones
// already open are closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.Default(a.logger)
	a.shutdown = server.NewShutdownManager(shutdownConfig(cfg), a.logger)

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if err := a.init(ctx); err != nil {
		_ = a.shutdown.Shutdown(context.Background(), "initialization failed")
		return nil, err
	}
	return a, nil
}

func shutdownConfig(cfg *config.Config) server.ShutdownConfig {
	sc := server.DefaultShutdownConfig()
	if t := cfg.Benchmark.TrialTimeout + 5*time.Second; t > sc.DrainTimeout {
		sc.DrainTimeout = t
	}
	return sc
}

func (a *App) init(ctx context.Context) error {
	stores, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	a.registry, err = store.NewRegistry(stores...)
	if err != nil {
		return err
	}

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(a.promReg)

	overrides := make(map[string]schema.Overrides, len(a.cfg.Stores))
	kinds := make(map[string]types.StoreKind, len(a.cfg.Stores))
	for _, sc := range a.cfg.Stores {
		overrides[sc.ID] = schema.Overrides{PartitionKeys: sc.PartitionKeys, Variants: sc.Variants}
		kinds[sc.ID] = types.StoreKind(sc.Kind)
	}
	a.catalog = schema.New(a.registry.Sources(),
		schema.WithOverrides(overrides),
		schema.WithKinds(kinds),
		schema.WithMetrics(metrics),
		schema.WithLogger(a.logger))

	a.filters = observability.NewFilterStats(a.cfg.Advisor.Window)
	synth := planner.New(a.catalog,
		planner.WithJoinKey(a.cfg.JoinKey),
		planner.WithFilterStats(a.filters),
		planner.WithMetrics(metrics),
		planner.WithLogger(a.logger))

	harness := executor.NewHarness(a.registry, executor.HarnessConfig{
		Workers:       a.cfg.Benchmark.Workers,
		CacheWarmup:   a.cfg.Benchmark.CacheWarmup,
		TrialInterval: a.cfg.Benchmark.TrialInterval,
		TrialTimeout:  a.cfg.Benchmark.TrialTimeout,
	}, executor.WithMetrics(metrics), executor.WithLogger(a.logger))
	joins := executor.NewJoinExecutor(harness, a.cfg.JoinCardinalityHint, a.logger)
	advisor := schema.NewAdvisor(a.catalog, a.filters, a.cfg.Advisor.ScanThreshold, a.cfg.Advisor.MaxSuggestions, a.logger,
		schema.WithAdvisorMetrics(metrics))

	engineOpts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithDefaultTrials(a.cfg.DefaultTrialCount),
		engine.WithFilterStats(a.filters),
		engine.WithAdvisor(advisor),
	}

	if path := a.cfg.History.Path; path != "" {
		a.history, err = history.Open(path, a.logger)
		if err != nil {
			return err
		}
		a.shutdown.RegisterCloser(a.history)
		engineOpts = append(engineOpts, engine.WithHistory(a.history))
	}

	if rc := a.cfg.Report; rc.Enabled {
		objects, err := storage.New(ctx, rc.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize report storage: %w", err)
		}
		exporter, err := report.NewExporter(objects, rc.Format, rc.Prefix, a.logger)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithExporter(exporter))
	}

	a.engine = engine.New(a.catalog, synth, harness, joins, engineOpts...)
	return nil
}

// openStores connects every configured store. Each opened store is
// registered for closing as soon as it exists.
func (a *App) openStores(ctx context.Context) ([]store.Store, error) {
	stores := make([]store.Store, 0, len(a.cfg.Stores))
	for _, sc := range a.cfg.Stores {
		s, err := openStore(ctx, sc, a.cfg.Schema, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", sc.ID, err)
		}
		a.shutdown.RegisterCloser(s)
		stores = append(stores, s)
		a.logger.Info("store opened", "store", sc.ID, "driver", sc.Driver, "kind", sc.Kind)
	}
	return stores, nil
}

func openStore(ctx context.Context, sc config.StoreConfig, schemaCfg config.SchemaConfig, logger *slog.Logger) (store.Store, error) {
	switch sc.Driver {
	case config.DriverMongo:
		return mongostore.Open(ctx, mongostore.Config{
			ID:         sc.ID,
			URI:        sc.URI,
			Database:   sc.Database,
			Timeout:    sc.Timeout,
			SampleSize: schemaCfg.SampleSize,
			MaxDepth:   schemaCfg.MaxDepth,
		}, logger)
	case config.DriverCassandra:
		return cqlstore.Open(cqlstore.Config{
			ID:          sc.ID,
			Hosts:       sc.Hosts,
			Port:        sc.Port,
			Keyspace:    sc.Keyspace,
			Consistency: sc.Consistency,
			Timeout:     sc.Timeout,
		}, logger)
	case config.DriverMemory:
		kind := types.StoreKind(sc.Kind)
		var s *memstore.Store
		switch {
		case sc.Fixture != "":
			var err error
			if s, err = memstore.Open(sc.ID, kind, sc.Fixture); err != nil {
				return nil, err
			}
		case kind == types.StoreDocument:
			s = memstore.NewCafeDocumentStore(sc.ID, memstore.DefaultCafeSize)
		default:
			s = memstore.NewCafeColumnStore(sc.ID, memstore.DefaultCafeSize)
		}
		if sc.ScanLatency > 0 {
			s.SetLatency(types.AccessSecondaryScan, sc.ScanLatency)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown driver %q", sc.Driver)
}

// Engine returns the wired engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// History returns the run history, or nil when it is disabled.
func (a *App) History() *history.Store {
	return a.history
}

// Stores returns the configured store IDs in configuration order.
func (a *App) Stores() []string {
	return a.registry.IDs()
}

// MetricsHandler serves the Prometheus metrics of this instance.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{Registry: a.promReg})
}

// Run executes fn as a tracked operation and closes the app afterwards.
// SIGINT or SIGTERM cancels the context passed to fn; a benchmark then
// finishes its current trial and returns what it collected. When
// metrics.addr is set, metrics are served while fn runs.
func (a *App) Run(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.MetricsHandler())
		a.shutdown.ServeHTTP(&http.Server{Addr: addr, Handler: mux})
		a.logger.Info("serving metrics", "addr", addr)
	}

	opCtx, done, err := a.shutdown.Track(ctx)
	if err != nil {
		return err
	}
	sigCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	go func() { _ = a.shutdown.ListenForSignals(sigCtx) }()

	runErr := fn(opCtx, a.engine)
	done()
	return errors.Join(runErr, a.Close())
}

// Close drains tracked operations and closes history and every store.
func (a *App) Close() error {
	return a.shutdown.Shutdown(context.Background(), "closing")
}

// DemoConfig returns a configuration of two in-memory stores holding the
// built-in cafe dataset: a document store "mongo" and a column store
// "cassandra" with transactions denormalized by employee, customer and
// payment method.
func DemoConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Stores = []config.StoreConfig{
		{ID: "mongo", Kind: string(types.StoreDocument), Driver: config.DriverMemory, ScanLatency: 2 * time.Millisecond},
		{ID: "cassandra", Kind: string(types.StoreColumn), Driver: config.DriverMemory, ScanLatency: 5 * time.Millisecond},
	}
	cfg.JoinKey = "employee_id"
	return cfg
}
