package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polyquery/polyquery/internal/config"
	"github.com/polyquery/polyquery/internal/engine"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/internal/query/aggregator"
	"github.com/polyquery/polyquery/internal/schema"
	"github.com/polyquery/polyquery/pkg/types"
)

func newSchemaCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Discover and print the schema of every store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, g, nil)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				snap, refreshErr := e.RefreshSchema(ctx)
				if snap != nil {
					if err := printJSON(cmd.OutOrStdout(), describeSnapshot(snap)); err != nil {
						return err
					}
				}
				return refreshErr
			})
		},
	}
}

type storeView struct {
	ID       string                  `json:"id"`
	Kind     types.StoreKind         `json:"kind"`
	Stale    bool                    `json:"stale,omitempty"`
	Entities []*schema.LogicalEntity `json:"entities"`
}

type snapshotView struct {
	Version uint64      `json:"version"`
	Stores  []storeView `json:"stores"`
}

func describeSnapshot(snap *schema.Snapshot) snapshotView {
	v := snapshotView{Version: snap.Version}
	for _, id := range snap.Stores() {
		v.Stores = append(v.Stores, storeView{
			ID:       id,
			Kind:     snap.StoreKind(id),
			Stale:    snap.Stale(id),
			Entities: snap.LogicalEntities(id),
		})
	}
	return v
}

func newPlanCmd(g *globalFlags) *cobra.Command {
	var (
		filters []string
		mode    string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the plans synthesized for a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			modes, err := parseModes(mode)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g, nil)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				out := make(map[types.Mode]*types.PlanSet, len(modes))
				for _, m := range modes {
					set, err := e.Plan(ctx, f, m)
					if err != nil {
						return err
					}
					out[m] = set
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as field=value (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", "both", "plan mode: optimized, naive or both")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	var (
		filters    []string
		projection []string
		orderBy    []string
		limit      int
		offset     int
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run the optimized plan for a filter once and print the rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			order, err := parseOrderBy(orderBy)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g, nil)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Query(ctx, engine.QueryRequest{
					Filters:    f,
					Projection: projection,
					OrderBy:    order,
					Limit:      limit,
					Offset:     offset,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as field=value (repeatable)")
	cmd.Flags().StringSliceVarP(&projection, "projection", "p", nil, "fields to return (default all)")
	cmd.Flags().StringSliceVar(&orderBy, "order-by", nil, "sort keys as field or field:desc")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows returned (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows skipped before the limit")
	return cmd
}

func newBenchmarkCmd(g *globalFlags) *cobra.Command {
	var (
		filters      []string
		projection   []string
		trials       int
		workers      int
		warmup       bool
		reportFormat string
		summaryOnly  bool
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Time the optimized plan against a naive scan",
		Long: `Plans the filter in both modes against one schema snapshot, runs the
requested number of timed trials of each and prints the speedup with its
statistics. Interrupting the command lets the running trial finish and
summarizes the samples collected so far.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g, func(cfg *config.Config) {
				if cmd.Flags().Changed("workers") {
					cfg.Benchmark.Workers = workers
				}
				if cmd.Flags().Changed("warmup") {
					cfg.Benchmark.CacheWarmup = warmup
				}
				if reportFormat != "" {
					cfg.Report.Enabled = true
					cfg.Report.Format = reportFormat
				}
			})
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Benchmark(ctx, engine.BenchmarkRequest{
					Filters:    f,
					Projection: projection,
					Trials:     trials,
				})
				if err != nil {
					// A cancelled run still reports the samples it collected.
					if res != nil && !summaryOnly {
						_ = printJSON(cmd.OutOrStdout(), res)
					}
					return err
				}
				if summaryOnly {
					return printJSON(cmd.OutOrStdout(), res.Verdict)
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as field=value (repeatable)")
	cmd.Flags().StringSliceVarP(&projection, "projection", "p", nil, "fields to return (default all)")
	cmd.Flags().IntVarP(&trials, "trials", "n", 0, "trials per mode (default from configuration)")
	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent trials per mode")
	cmd.Flags().BoolVar(&warmup, "warmup", false, "run one untimed trial per mode first")
	cmd.Flags().StringVar(&reportFormat, "report", "", "export a report in this format: json or csv")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print only the statistical verdict")
	return cmd
}

func newInsightsCmd(g *globalFlags) *cobra.Command {
	var (
		workload string
		top      int
	)
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Replay a workload of filters and suggest denormalized variants",
		Long: `Plans every filter of a workload file in optimized mode without executing
it, then reports the most requested filter fields and the variants worth
creating for fields that are only reachable by scans.

The workload file is a YAML or JSON list of filter objects:

  - {employee_id: 7}
  - {total_amount: 12.5}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			requests, err := loadWorkload(workload)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, g, nil)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				failed := 0
				for _, f := range requests {
					if _, err := e.Plan(ctx, f, types.ModeOptimized); err != nil {
						failed++
						fmt.Fprintf(cmd.ErrOrStderr(), "skipping %v: %v\n", f, err)
					}
				}
				return printJSON(cmd.OutOrStdout(), insightsView{
					Planned:     len(requests) - failed,
					Failed:      failed,
					TopFilters:  e.TopFilters(top),
					Suggestions: e.Suggestions(),
				})
			})
		},
	}
	cmd.Flags().StringVarP(&workload, "workload", "w", "", "YAML or JSON file listing filters")
	cmd.Flags().IntVar(&top, "top", 10, "number of top filter fields reported")
	_ = cmd.MarkFlagRequired("workload")
	return cmd
}

type insightsView struct {
	Planned     int                        `json:"planned"`
	Failed      int                        `json:"failed"`
	TopFilters  []observability.FieldStats `json:"top_filters"`
	Suggestions []schema.Suggestion        `json:"suggestions"`
}

func loadWorkload(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload: %w", err)
	}
	// JSON is a subset of YAML.
	var requests []map[string]any
	if err := yaml.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("failed to parse workload: %w", err)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("workload %s holds no filters", path)
	}
	return requests, nil
}

// parseFilters turns field=value pairs into a filter map. Values stay
// strings; the planner coerces them to each field's declared type.
func parseFilters(pairs []string) (map[string]any, error) {
	filters := make(map[string]any, len(pairs))
	for _, p := range pairs {
		field, value, ok := strings.Cut(p, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q (want field=value)", p)
		}
		if _, dup := filters[field]; dup {
			return nil, fmt.Errorf("filter field %q given twice", field)
		}
		filters[field] = value
	}
	return filters, nil
}

func parseModes(s string) ([]types.Mode, error) {
	switch strings.ToLower(s) {
	case "both", "":
		return []types.Mode{types.ModeOptimized, types.ModeNaive}, nil
	case string(types.ModeOptimized):
		return []types.Mode{types.ModeOptimized}, nil
	case string(types.ModeNaive):
		return []types.Mode{types.ModeNaive}, nil
	}
	return nil, fmt.Errorf("invalid mode %q (must be optimized, naive or both)", s)
}

func parseOrderBy(keys []string) ([]aggregator.OrderBy, error) {
	out := make([]aggregator.OrderBy, 0, len(keys))
	for _, k := range keys {
		field, dir, _ := strings.Cut(k, ":")
		if field == "" {
			return nil, fmt.Errorf("invalid sort key %q", k)
		}
		ob := aggregator.OrderBy{Field: field}
		switch strings.ToLower(dir) {
		case "", "asc":
		case "desc":
			ob.Desc = true
		default:
			return nil, fmt.Errorf("invalid sort direction %q (must be asc or desc)", dir)
		}
		out = append(out, ob)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
