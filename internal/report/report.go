// Package report exports benchmark runs as JSON or CSV documents to object
// storage.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/polyquery/polyquery/internal/history"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/stats"
	"github.com/polyquery/polyquery/internal/storage"
	"github.com/polyquery/polyquery/pkg/types"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// CSVHeader is the header row of CSV reports.
var CSVHeader = []string{"approach", "trial", "elapsed_ms", "rows", "succeeded"}

// Document is the JSON form of an exported run.
type Document struct {
	RunID           string               `json:"run_id"`
	CreatedAt       time.Time            `json:"created_at"`
	Filters         map[string]any       `json:"filters"`
	Trials          int                  `json:"trials"`
	NaivePlanID     string               `json:"naive_plan_id"`
	OptimizedPlanID string               `json:"optimized_plan_id"`
	Incomplete      bool                 `json:"incomplete,omitempty"`
	Verdict         *stats.Verdict       `json:"verdict"`
	Naive           []types.TimingSample `json:"naive_samples"`
	Optimized       []types.TimingSample `json:"optimized_samples"`
}

// Exporter writes reports to object storage.
type Exporter struct {
	storage storage.ObjectStorage
	format  string
	prefix  string
	logger  *slog.Logger
}

// NewExporter creates an exporter writing format documents under prefix.
func NewExporter(store storage.ObjectStorage, format, prefix string, logger *slog.Logger) (*Exporter, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("report: unsupported format %q (must be json or csv)", format)
	}
	return &Exporter{
		storage: store,
		format:  format,
		prefix:  prefix,
		logger:  logging.Default(logger).With("component", "report"),
	}, nil
}

// Key returns the object key of a run's report: <prefix>/<yyyy>/<mm>/<dd>/<run>.<format>.
func (x *Exporter) Key(e *history.Entry) string {
	day := e.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(x.prefix, day, e.RunID+"."+x.format)
}

// Export encodes e and stores it, returning the report's location.
func (x *Exporter) Export(ctx context.Context, e *history.Entry) (string, error) {
	var (
		data        []byte
		err         error
		contentType string
	)
	switch x.format {
	case FormatCSV:
		data, err = EncodeCSV(e)
		contentType = "text/csv"
	default:
		data, err = EncodeJSON(e)
		contentType = "application/json"
	}
	if err != nil {
		return "", err
	}

	key := x.Key(e)
	if err := x.storage.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("report: failed to store %s: %w", key, err)
	}
	uri := x.storage.URI(key)
	x.logger.Info("report exported", "run_id", e.RunID, "format", x.format, "location", uri)
	return uri, nil
}

// EncodeJSON renders e as an indented JSON document.
func EncodeJSON(e *history.Entry) ([]byte, error) {
	doc := Document{
		RunID:           e.RunID,
		CreatedAt:       e.CreatedAt.UTC(),
		Filters:         e.Filters,
		Trials:          e.Trials,
		NaivePlanID:     e.NaivePlanID,
		OptimizedPlanID: e.OptimizedPlanID,
		Incomplete:      e.Incomplete,
		Verdict:         e.Verdict,
		Naive:           e.Naive,
		Optimized:       e.Optimized,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: failed to encode run %s: %w", e.RunID, err)
	}
	return data, nil
}

// EncodeCSV renders one row per sample, naive samples first.
func EncodeCSV(e *history.Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	for _, side := range []struct {
		name    string
		samples []types.TimingSample
	}{
		{string(types.ModeNaive), e.Naive},
		{string(types.ModeOptimized), e.Optimized},
	} {
		for _, s := range side.samples {
			record := []string{
				side.name,
				strconv.Itoa(s.Trial),
				strconv.FormatFloat(float64(s.Elapsed)/float64(time.Millisecond), 'f', 3, 64),
				strconv.Itoa(s.Rows),
				strconv.FormatBool(s.Succeeded),
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("report: failed to encode run %s: %w", e.RunID, err)
	}
	return buf.Bytes(), nil
}
