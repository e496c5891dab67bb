package executor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/query/aggregator"
	"github.com/polyquery/polyquery/pkg/types"
)

// JoinResult is the outcome of one join execution.
type JoinResult struct {
	Rows  []types.Row          `json:"rows"`
	Left  types.TimingSample   `json:"left"`
	Right types.TimingSample   `json:"right"`
	Stats aggregator.JoinStats `json:"stats"`
}

// JoinRun is the outcome of a timed join run. Run times whole joins; Left
// and Right hold the samples of each leg, merged after both legs complete.
type JoinRun struct {
	*Run
	Left  []types.TimingSample `json:"left"`
	Right []types.TimingSample `json:"right"`
}

// JoinExecutor executes cross-store join specs.
type JoinExecutor struct {
	harness *Harness
	hint    int
	logger  *slog.Logger
}

// NewJoinExecutor creates a join executor. hint presizes the join index
// (0 = unknown).
func NewJoinExecutor(harness *Harness, hint int, logger *slog.Logger) *JoinExecutor {
	return &JoinExecutor{
		harness: harness,
		hint:    hint,
		logger:  logging.Default(logger).With("component", "join-executor"),
	}
}

// Execute runs both legs of spec concurrently and inner-joins their rows on
// the shared key. If either leg fails the other is cancelled, nothing is
// returned and the error is a JoinExecutionError naming the failed leg.
func (j *JoinExecutor) Execute(ctx context.Context, spec *types.JoinSpec) (*JoinResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, apperrors.NewInternalError("invalid join spec", err)
	}

	var (
		leftRows, rightRows     []types.Row
		leftSample, rightSample types.TimingSample
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, s, err := j.harness.Execute(gctx, spec.Left)
		leftRows, leftSample = rows, s
		if err != nil {
			return apperrors.NewJoinExecutionError(spec.Left.StoreID, spec.Left.Entity, err)
		}
		return nil
	})
	g.Go(func() error {
		rows, s, err := j.harness.Execute(gctx, spec.Right)
		rightRows, rightSample = rows, s
		if err != nil {
			return apperrors.NewJoinExecutionError(spec.Right.StoreID, spec.Right.Entity, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		j.logger.Warn("join leg failed", "join_id", spec.ID, "error", err)
		return nil, err
	}

	start := time.Now()
	rows, stats := aggregator.HashJoin(leftRows, rightRows, aggregator.JoinOptions{
		Key:             spec.Key,
		LeftStore:       spec.Left.StoreID,
		RightStore:      spec.Right.StoreID,
		CardinalityHint: j.hint,
	})
	j.logger.Debug("join merged",
		"join_id", spec.ID,
		"key", spec.Key,
		"left_rows", stats.LeftRows,
		"right_rows", stats.RightRows,
		"matched", stats.Matched,
		"merge", time.Since(start))

	return &JoinResult{Rows: rows, Left: leftSample, Right: rightSample, Stats: stats}, nil
}

// Run times spec trials times through the harness. Each trial executes
// both legs and the merge; leg samples carry the trial index of the join
// trial they belong to.
func (j *JoinExecutor) Run(ctx context.Context, spec *types.JoinSpec, path types.AccessPath, trials int) (*JoinRun, error) {
	var (
		mu          sync.Mutex
		left, right []types.TimingSample
	)
	run, err := j.harness.RunFunc(ctx, spec.ID, path, trials, func(ctx context.Context, trial int) (int, error) {
		res, err := j.Execute(ctx, spec)
		if err != nil {
			return 0, err
		}
		if trial < 0 {
			return len(res.Rows), nil
		}
		mu.Lock()
		res.Left.Trial, res.Right.Trial = trial, trial
		left = append(left, res.Left)
		right = append(right, res.Right)
		mu.Unlock()
		return len(res.Rows), nil
	})
	if err != nil {
		return nil, err
	}
	byTrial := func(s []types.TimingSample) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Trial < s[j].Trial }
	}
	sort.Slice(left, byTrial(left))
	sort.Slice(right, byTrial(right))
	return &JoinRun{Run: run, Left: left, Right: right}, nil
}
