// Package executor runs query plans against their stores, times repeated
// trials and executes cross-store joins.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// ClientSource resolves the client of a store.
type ClientSource interface {
	Client(id string) (store.Client, bool)
}

// HarnessConfig holds configuration for the timing harness.
type HarnessConfig struct {
	// Workers bounds concurrent trials of one run. 1 runs trials
	// sequentially, which avoids contention on the store's connection pool
	// and is the default.
	Workers int

	// CacheWarmup runs one untimed trial before the timed ones
	CacheWarmup bool

	// TrialInterval is the minimum spacing between trial starts (0 = none)
	TrialInterval time.Duration

	// TrialTimeout bounds a single trial (0 = none)
	TrialTimeout time.Duration
}

// DefaultHarnessConfig returns the default harness configuration.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Workers:      1,
		TrialTimeout: 30 * time.Second,
	}
}

// Run is the outcome of one timed run of a plan.
type Run struct {
	PlanID     string               `json:"plan_id"`
	AccessPath types.AccessPath     `json:"access_path"`
	Requested  int                  `json:"requested"`
	Samples    []types.TimingSample `json:"samples"`
	// Incomplete is set when the run was cancelled before every
	// requested trial executed
	Incomplete bool `json:"incomplete,omitempty"`
}

// Succeeded returns the number of successful samples.
func (r *Run) Succeeded() int {
	n := 0
	for _, s := range r.Samples {
		if s.Succeeded {
			n++
		}
	}
	return n
}

// TrialFunc executes one trial and returns the number of rows produced.
// trial is the zero-based trial index, or -1 for a warmup trial.
type TrialFunc func(ctx context.Context, trial int) (int, error)

// Harness executes plans and times repeated trials.
type Harness struct {
	clients ClientSource
	config  HarnessConfig
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *slog.Logger
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithLogger sets the harness logger.
func WithLogger(logger *slog.Logger) HarnessOption {
	return func(h *Harness) { h.logger = logging.Default(logger).With("component", "timing-harness") }
}

// WithMetrics records every trial.
func WithMetrics(m *observability.Metrics) HarnessOption {
	return func(h *Harness) { h.metrics = m }
}

// NewHarness creates a timing harness.
func NewHarness(clients ClientSource, config HarnessConfig, opts ...HarnessOption) *Harness {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	h := &Harness{
		clients: clients,
		config:  config,
		logger:  logging.Discard(),
	}
	if config.TrialInterval > 0 {
		h.limiter = rate.NewLimiter(rate.Every(config.TrialInterval), 1)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Config returns the harness configuration.
func (h *Harness) Config() HarnessConfig {
	return h.config
}

// Execute runs plan once. The returned sample describes the call whether
// or not it succeeded.
func (h *Harness) Execute(ctx context.Context, plan *types.QueryPlan) ([]types.Row, types.TimingSample, error) {
	client, ok := h.clients.Client(plan.StoreID)
	if !ok {
		err := apperrors.New(apperrors.ErrCategoryExecution, apperrors.CodeUnknownStore,
			fmt.Sprintf("no client configured for store %q", plan.StoreID)).WithStore(plan.StoreID)
		return nil, types.TimingSample{PlanID: plan.ID, AccessPath: plan.AccessPath, Err: err.Error()}, err
	}
	if h.config.TrialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.TrialTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := client.Execute(ctx, plan)
	elapsed := time.Since(start)

	sample := types.TimingSample{
		PlanID:     plan.ID,
		Elapsed:    elapsed,
		Rows:       len(rows),
		Succeeded:  err == nil,
		AccessPath: plan.AccessPath,
	}
	if err != nil {
		err = classify(plan, err)
		sample.Rows = 0
		sample.Err = err.Error()
		sample.Retryable = apperrors.IsRetryable(err)
		rows = nil
	}
	h.metrics.ObserveTrial(plan, elapsed, err == nil)
	return rows, sample, err
}

// classify gives unclassified store failures an execution error code.
func classify(plan *types.QueryPlan, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	code := apperrors.CodeStoreExecutionFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.CodeExecutionTimeout
	}
	return apperrors.NewExecutionError(code, plan.StoreID, plan.Entity, err)
}

// Run executes plan trials times and returns one sample per executed trial.
func (h *Harness) Run(ctx context.Context, plan *types.QueryPlan, trials int) (*Run, error) {
	return h.RunFunc(ctx, plan.ID, plan.AccessPath, trials, func(ctx context.Context, _ int) (int, error) {
		rows, _, err := h.Execute(ctx, plan)
		return len(rows), err
	})
}

// RunFunc times fn trials times. A failing trial is recorded as an
// unsuccessful sample, with the time to failure as its duration, and the
// run continues. Cancellation of ctx is checked between trials: a trial
// already in flight completes, no new trial starts, and the run is
// returned marked Incomplete.
func (h *Harness) RunFunc(ctx context.Context, id string, path types.AccessPath, trials int, fn TrialFunc) (*Run, error) {
	if trials < 1 {
		return nil, apperrors.New(apperrors.ErrCategoryExecution, apperrors.CodeInvalidTrials,
			fmt.Sprintf("trials must be >= 1, got %d", trials))
	}
	run := &Run{PlanID: id, AccessPath: path, Requested: trials}

	if h.config.CacheWarmup && ctx.Err() == nil {
		s := h.trial(ctx, id, path, -1, fn)
		h.logger.Debug("warmup trial discarded", "plan_id", id, "elapsed", s.Elapsed, "succeeded", s.Succeeded)
	}

	if h.config.Workers > 1 && trials > 1 {
		h.runConcurrent(ctx, run, trials, fn)
	} else {
		h.runSequential(ctx, run, trials, fn)
	}

	if run.Incomplete {
		h.logger.Info("run cancelled", "plan_id", id, "completed", len(run.Samples), "requested", trials)
	} else {
		h.logger.Debug("run finished", "plan_id", id, "trials", trials, "succeeded", run.Succeeded())
	}
	return run, nil
}

func (h *Harness) runSequential(ctx context.Context, run *Run, trials int, fn TrialFunc) {
	for i := 0; i < trials; i++ {
		if !h.admit(ctx) {
			run.Incomplete = true
			return
		}
		run.Samples = append(run.Samples, h.trial(ctx, run.PlanID, run.AccessPath, i, fn))
	}
}

func (h *Harness) runConcurrent(ctx context.Context, run *Run, trials int, fn TrialFunc) {
	pool, err := ants.NewPool(h.config.Workers, ants.WithPanicHandler(func(v any) {
		h.logger.Error("trial worker panic", "plan_id", run.PlanID, "panic", v)
	}))
	if err != nil {
		h.logger.Warn("worker pool unavailable, running trials sequentially", "error", err)
		h.runSequential(ctx, run, trials, fn)
		return
	}
	defer func() { _ = pool.ReleaseTimeout(3 * time.Second) }()

	samples := make([]types.TimingSample, trials)
	done := make([]bool, trials)
	var wg sync.WaitGroup
	for i := 0; i < trials; i++ {
		if !h.admit(ctx) {
			run.Incomplete = true
			break
		}
		wg.Add(1)
		i := i
		if err := pool.Submit(func() {
			defer wg.Done()
			samples[i] = h.trial(ctx, run.PlanID, run.AccessPath, i, fn)
			done[i] = true
		}); err != nil {
			wg.Done()
			h.logger.Warn("trial submission failed", "plan_id", run.PlanID, "trial", i, "error", err)
			run.Incomplete = true
			break
		}
	}
	wg.Wait()

	for i := range samples {
		if done[i] {
			run.Samples = append(run.Samples, samples[i])
		}
	}
}

// admit waits for the trial pacing limiter and reports whether another
// trial may start.
func (h *Harness) admit(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return true
}

// trial executes fn once. The trial runs on a context detached from ctx's
// cancellation so a cancelled run does not abort it midway.
func (h *Harness) trial(ctx context.Context, id string, path types.AccessPath, i int, fn TrialFunc) (sample types.TimingSample) {
	tctx := context.WithoutCancel(ctx)
	if h.config.TrialTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(tctx, h.config.TrialTimeout)
		defer cancel()
	}

	sample = types.TimingSample{PlanID: id, Trial: i, AccessPath: path}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			sample.Elapsed = time.Since(start)
			sample.Succeeded = false
			sample.Err = fmt.Sprintf("panic: %v", r)
			h.logger.Error("trial panicked", "plan_id", id, "trial", i, "panic", r)
		}
	}()

	rows, err := fn(tctx, i)
	sample.Elapsed = time.Since(start)
	if err != nil {
		sample.Err = err.Error()
		sample.Retryable = apperrors.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
		h.logger.Warn("trial failed",
			"plan_id", id,
			"trial", i,
			"elapsed", sample.Elapsed,
			"retryable", sample.Retryable,
			"error", err)
		return sample
	}
	sample.Rows = rows
	sample.Succeeded = true
	return sample
}
