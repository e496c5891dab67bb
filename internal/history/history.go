// Package history records benchmark runs in a SQLite database so verdicts
// can be compared across sessions.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/stats"
	"github.com/polyquery/polyquery/pkg/types"
)

// ErrRunNotFound is returned when a run ID is not in the history.
var ErrRunNotFound = errors.New("history: run not found")

// Entry is one recorded benchmark run.
type Entry struct {
	RunID           string         `json:"run_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Filters         map[string]any `json:"filters"`
	Trials          int            `json:"trials"`
	NaivePlanID     string         `json:"naive_plan_id"`
	OptimizedPlanID string         `json:"optimized_plan_id"`
	Incomplete      bool           `json:"incomplete,omitempty"`

	Verdict *stats.Verdict `json:"verdict"`

	// Naive and Optimized hold the raw samples. They are left nil by List.
	Naive     []types.TimingSample `json:"naive,omitempty"`
	Optimized []types.TimingSample `json:"optimized,omitempty"`
}

type sampleBlob struct {
	Naive     []types.TimingSample `json:"naive"`
	Optimized []types.TimingSample `json:"optimized"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens or creates the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		logger: logging.Default(logger).With("component", "history"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(CreateRunsTableSQL); err != nil {
		return err
	}
	for _, stmt := range CreateRunsIndexesSQL {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Record stores e. A missing RunID or CreatedAt is filled in.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	if e.Verdict == nil {
		return fmt.Errorf("history: run %s has no verdict", e.RunID)
	}
	if e.RunID == "" {
		e.RunID = NewRunID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	filters, err := json.Marshal(e.Filters)
	if err != nil {
		return fmt.Errorf("history: failed to encode filters: %w", err)
	}
	verdict, err := json.Marshal(e.Verdict)
	if err != nil {
		return fmt.Errorf("history: failed to encode verdict: %w", err)
	}
	raw, err := json.Marshal(sampleBlob{Naive: e.Naive, Optimized: e.Optimized})
	if err != nil {
		return fmt.Errorf("history: failed to encode samples: %w", err)
	}

	var speedup sql.NullFloat64
	if e.Verdict.Speedup.Valid {
		speedup = sql.NullFloat64{Float64: e.Verdict.Speedup.Value, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, created_at, filters_json, trials,
			naive_plan_id, optimized_plan_id, speedup,
			degraded, incomplete, verdict_json, samples_blob
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.CreatedAt.UnixNano(), string(filters), e.Trials,
		e.NaivePlanID, e.OptimizedPlanID, speedup,
		e.Verdict.Degraded, e.Incomplete, string(verdict), snappy.Encode(nil, raw))
	if err != nil {
		return fmt.Errorf("history: failed to insert run %s: %w", e.RunID, err)
	}

	s.logger.Debug("run recorded", "run_id", e.RunID, "samples_bytes", len(raw))
	return nil
}

// Get returns a run with its samples.
func (s *Store) Get(ctx context.Context, runID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, created_at, filters_json, trials,
			naive_plan_id, optimized_plan_id, incomplete, verdict_json, samples_blob
		FROM runs WHERE run_id = ?`, runID)

	var blob []byte
	e, err := scanEntry(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("history: failed to read run %s: %w", runID, err)
	}

	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("history: corrupt samples for run %s: %w", runID, err)
	}
	var samples sampleBlob
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("history: corrupt samples for run %s: %w", runID, err)
	}
	e.Naive = samples.Naive
	e.Optimized = samples.Optimized
	return e, nil
}

// List returns up to limit runs, newest first, without their samples.
// A limit <= 0 returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	query := `
		SELECT run_id, created_at, filters_json, trials,
			naive_plan_id, optimized_plan_id, incomplete, verdict_json
		FROM runs ORDER BY created_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("history: failed to scan run: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a run. Deleting an unknown run is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("history: failed to delete run %s: %w", runID, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads the common columns; blob receives samples_blob when
// non-nil.
func scanEntry(sc scanner, blob *[]byte) (*Entry, error) {
	var (
		e          Entry
		createdAt  int64
		filters    string
		incomplete bool
		verdict    string
	)
	dest := []any{&e.RunID, &createdAt, &filters, &e.Trials,
		&e.NaivePlanID, &e.OptimizedPlanID, &incomplete, &verdict}
	if blob != nil {
		dest = append(dest, blob)
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	e.CreatedAt = time.Unix(0, createdAt)
	e.Incomplete = incomplete
	if err := json.Unmarshal([]byte(filters), &e.Filters); err != nil {
		return nil, err
	}
	e.Verdict = &stats.Verdict{}
	if err := json.Unmarshal([]byte(verdict), e.Verdict); err != nil {
		return nil, err
	}
	return &e, nil
}
