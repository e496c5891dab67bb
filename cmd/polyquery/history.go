package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polyquery/polyquery/internal/history"
	"github.com/polyquery/polyquery/internal/report"
	"github.com/polyquery/polyquery/internal/storage"
)

// History commands read the run database directly; no store is contacted.
func newHistoryCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded benchmark runs",
	}
	cmd.AddCommand(newHistoryListCmd(g), newHistoryShowCmd(g), newHistoryExportCmd(g), newHistoryDeleteCmd(g))
	return cmd
}

func openHistory(g *globalFlags) (*history.Store, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, fmt.Errorf("history is disabled (set history.path or --history)")
	}
	return history.Open(cfg.History.Path, nil)
}

func newHistoryListCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(g)
			if err != nil {
				return err
			}
			defer h.Close()

			entries, err := h.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs listed")
	return cmd
}

func newHistoryShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print one run with its samples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(g)
			if err != nil {
				return err
			}
			defer h.Close()

			e, err := h.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
}

func newHistoryExportCmd(g *globalFlags) *cobra.Command {
	var (
		format string
		stdout bool
	)
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export a recorded run to the configured report storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			h, err := openHistory(g)
			if err != nil {
				return err
			}
			defer h.Close()

			e, err := h.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if format == "" {
				format = cfg.Report.Format
			}

			if stdout {
				var data []byte
				switch format {
				case report.FormatCSV:
					data, err = report.EncodeCSV(e)
				case report.FormatJSON:
					data, err = report.EncodeJSON(e)
				default:
					return fmt.Errorf("invalid report format: %s (must be json or csv)", format)
				}
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			objects, err := storage.New(cmd.Context(), cfg.Report.Storage)
			if err != nil {
				return err
			}
			exporter, err := report.NewExporter(objects, format, cfg.Report.Prefix, nil)
			if err != nil {
				return err
			}
			uri, err := exporter.Export(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "report format: json or csv (default from configuration)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "write the report to stdout instead of storage")
	return cmd
}

func newHistoryDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHistory(g)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.Delete(cmd.Context(), args[0])
		},
	}
}
