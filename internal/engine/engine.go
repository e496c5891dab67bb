// Package engine is the entry point of polyquery: it refreshes schemas,
// plans filter requests, runs them once and benchmarks optimized plans
// against naive ones.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/history"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/query/aggregator"
	"github.com/polyquery/polyquery/internal/query/executor"
	"github.com/polyquery/polyquery/internal/query/planner"
	"github.com/polyquery/polyquery/internal/report"
	"github.com/polyquery/polyquery/internal/schema"
	"github.com/polyquery/polyquery/internal/stats"
	"github.com/polyquery/polyquery/pkg/types"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.Default(logger).With("component", "engine") }
}

// WithDefaultTrials sets the trial count used when a benchmark request
// does not give one.
func WithDefaultTrials(n int) Option {
	return func(e *Engine) { e.defaultTrials = n }
}

// WithHistory records every benchmark run.
func WithHistory(h *history.Store) Option {
	return func(e *Engine) { e.history = h }
}

// WithExporter exports a report of every benchmark run.
func WithExporter(x *report.Exporter) Option {
	return func(e *Engine) { e.exporter = x }
}

// WithFilterStats exposes the filter usage statistics the planner records.
func WithFilterStats(fs *observability.FilterStats) Option {
	return func(e *Engine) { e.filters = fs }
}

// WithAdvisor enables denormalization suggestions.
func WithAdvisor(a *schema.Advisor) Option {
	return func(e *Engine) { e.advisor = a }
}

// Engine ties the catalog, planner, executors and statistics together.
type Engine struct {
	catalog *schema.Catalog
	planner *planner.Synthesizer
	harness *executor.Harness
	joins   *executor.JoinExecutor

	filters  *observability.FilterStats
	advisor  *schema.Advisor
	history  *history.Store
	exporter *report.Exporter

	defaultTrials int
	logger        *slog.Logger
}

// New creates an engine.
func New(catalog *schema.Catalog, synth *planner.Synthesizer, harness *executor.Harness, joins *executor.JoinExecutor, opts ...Option) *Engine {
	e := &Engine{
		catalog:       catalog,
		planner:       synth,
		harness:       harness,
		joins:         joins,
		defaultTrials: 10,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RefreshSchema rediscovers every store. The snapshot is returned even
// when some stores failed; err then names them.
func (e *Engine) RefreshSchema(ctx context.Context) (*schema.Snapshot, error) {
	snap, err := e.catalog.Refresh(ctx)
	if e.advisor != nil {
		e.advisor.InvalidateCache()
	}
	return snap, err
}

// Schema returns the current snapshot, building it on first use.
func (e *Engine) Schema(ctx context.Context) (*schema.Snapshot, error) {
	return e.catalog.Snapshot(ctx)
}

// Plan synthesizes the plans for filters in mode.
func (e *Engine) Plan(ctx context.Context, filters map[string]any, mode types.Mode) (*types.PlanSet, error) {
	return e.planner.Synthesize(ctx, filters, mode)
}

// QueryRequest is a single-shot query.
type QueryRequest struct {
	Filters    map[string]any
	Projection []string

	// OrderBy sorts the result; Limit and Offset page it (Limit 0 = all)
	OrderBy []aggregator.OrderBy
	Limit   int
	Offset  int
}

// QueryResult holds the rows of a single-shot query and how they were
// produced.
type QueryResult struct {
	Plans *types.PlanSet        `json:"plans"`
	Rows  []types.Row           `json:"rows"`
	Join  *aggregator.JoinStats `json:"join,omitempty"`
}

// Query plans req in optimized mode and runs it once without timing. A
// cross-store request fails as a whole with a JoinExecutionError if
// either leg fails.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	set, err := e.planner.Plan(ctx, planner.Request{
		Filters:    req.Filters,
		Mode:       types.ModeOptimized,
		Projection: req.Projection,
	})
	if err != nil {
		return nil, err
	}

	res := &QueryResult{Plans: set}
	if set.Join != nil {
		jr, err := e.joins.Execute(ctx, set.Join)
		if err != nil {
			return nil, err
		}
		res.Rows = jr.Rows
		res.Join = &jr.Stats
	} else {
		rows, _, err := e.harness.Execute(ctx, set.Plans[0])
		if err != nil {
			return nil, err
		}
		res.Rows = rows
	}

	res.Rows = aggregator.NewRowSorter(req.OrderBy).SortAndLimit(res.Rows, req.Limit, req.Offset)
	return res, nil
}

// BenchmarkRequest asks for a naive versus optimized comparison.
type BenchmarkRequest struct {
	Filters    map[string]any
	Projection []string

	// Trials per mode; 0 uses the configured default
	Trials int
}

// Side is one mode of a benchmark.
type Side struct {
	Plans *types.PlanSet `json:"plans"`
	Run   *executor.Run  `json:"run"`

	// Left and Right hold per-leg samples of a cross-store run
	Left  []types.TimingSample `json:"left,omitempty"`
	Right []types.TimingSample `json:"right,omitempty"`
}

// BenchmarkResult is the outcome of a benchmark.
type BenchmarkResult struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Filters   map[string]any `json:"filters"`
	Trials    int            `json:"trials"`
	Naive     Side           `json:"naive"`
	Optimized Side           `json:"optimized"`
	Verdict   *stats.Verdict `json:"verdict"`

	// Incomplete is set when cancellation cut either run short
	Incomplete bool `json:"incomplete,omitempty"`

	// ReportURI is the location of the exported report, if any
	ReportURI string `json:"report_uri,omitempty"`
}

// Benchmark plans the filters in both modes against one snapshot, times
// trials of each and summarizes the comparison. Failed trials are kept as
// failed samples; the benchmark only fails if planning fails or a side has
// no successful sample. When ctx is cancelled before both sides have one,
// the incomplete result is returned with its samples and no verdict,
// alongside an error matching ctx.Err().
func (e *Engine) Benchmark(ctx context.Context, req BenchmarkRequest) (*BenchmarkResult, error) {
	trials := req.Trials
	if trials == 0 {
		trials = e.defaultTrials
	}
	if trials < 1 {
		return nil, apperrors.New(apperrors.ErrCategoryStatistics, apperrors.CodeInvalidTrials,
			"trials must be >= 1").WithDetails(map[string]interface{}{"trials": trials})
	}

	optimized, naive, err := e.planner.Compare(ctx, req.Filters, req.Projection)
	if err != nil {
		return nil, err
	}

	res := &BenchmarkResult{
		RunID:     history.NewRunID(),
		CreatedAt: time.Now().UTC(),
		Filters:   req.Filters,
		Trials:    trials,
	}
	e.logger.Info("benchmark started",
		"run_id", res.RunID,
		"trials", trials,
		"optimized_path", optimized.EffectiveAccessPath(),
		"degraded", optimized.Degraded())

	if res.Naive, err = e.runSide(ctx, naive, trials); err != nil {
		return nil, err
	}
	if res.Optimized, err = e.runSide(ctx, optimized, trials); err != nil {
		return nil, err
	}
	res.Incomplete = res.Naive.Run.Incomplete || res.Optimized.Run.Incomplete

	res.Verdict, err = stats.Summarize(res.Naive.Run.Samples, res.Optimized.Run.Samples)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			e.logger.Warn("benchmark cancelled",
				"run_id", res.RunID,
				"naive_samples", len(res.Naive.Run.Samples),
				"optimized_samples", len(res.Optimized.Run.Samples))
			return res, fmt.Errorf("benchmark %s cancelled after %d naive and %d optimized samples: %w",
				res.RunID, len(res.Naive.Run.Samples), len(res.Optimized.Run.Samples), errors.Join(cerr, err))
		}
		return nil, err
	}

	e.logger.Info("benchmark finished",
		"run_id", res.RunID,
		"speedup", res.Verdict.Speedup,
		"sample_size", res.Verdict.SampleSize,
		"incomplete", res.Incomplete,
		"confidence_note", res.Verdict.ConfidenceNote)

	e.persist(ctx, res)
	return res, nil
}

func (e *Engine) runSide(ctx context.Context, set *types.PlanSet, trials int) (Side, error) {
	side := Side{Plans: set}
	if set.Join != nil {
		jr, err := e.joins.Run(ctx, set.Join, set.EffectiveAccessPath(), trials)
		if err != nil {
			return side, err
		}
		side.Run, side.Left, side.Right = jr.Run, jr.Left, jr.Right
		return side, nil
	}
	run, err := e.harness.Run(ctx, set.Plans[0], trials)
	if err != nil {
		return side, err
	}
	side.Run = run
	return side, nil
}

// persist records and exports res. Failures are logged; the measurement
// itself is still returned to the caller.
func (e *Engine) persist(ctx context.Context, res *BenchmarkResult) {
	if e.history == nil && e.exporter == nil {
		return
	}
	// Persist even if the benchmark's own context was cancelled.
	ctx = context.WithoutCancel(ctx)
	entry := res.Entry()

	if e.history != nil {
		if err := e.history.Record(ctx, entry); err != nil {
			e.logger.Warn("failed to record run", "run_id", res.RunID, "error", err)
		}
	}
	if e.exporter != nil {
		uri, err := e.exporter.Export(ctx, entry)
		if err != nil {
			e.logger.Warn("failed to export report", "run_id", res.RunID, "error", err)
			return
		}
		res.ReportURI = uri
	}
}

// Entry converts res to a history entry.
func (res *BenchmarkResult) Entry() *history.Entry {
	return &history.Entry{
		RunID:           res.RunID,
		CreatedAt:       res.CreatedAt,
		Filters:         res.Filters,
		Trials:          res.Trials,
		NaivePlanID:     res.Naive.Run.PlanID,
		OptimizedPlanID: res.Optimized.Run.PlanID,
		Incomplete:      res.Incomplete,
		Verdict:         res.Verdict,
		Naive:           res.Naive.Run.Samples,
		Optimized:       res.Optimized.Run.Samples,
	}
}

// TopFilters returns the n most requested filter fields.
func (e *Engine) TopFilters(n int) []observability.FieldStats {
	if e.filters == nil {
		return nil
	}
	return e.filters.GetTopFilters(n)
}

// Suggestions lists denormalized variants worth creating for fields that
// are frequently filtered but only reachable by scans.
func (e *Engine) Suggestions() []schema.Suggestion {
	if e.advisor == nil {
		return nil
	}
	return e.advisor.Suggest()
}
