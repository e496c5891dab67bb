// Package cqlstore adapts a Cassandra keyspace to the store interfaces.
// Schema comes from system_schema.columns, so partition and clustering
// keys are declared rather than inferred.
package cqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// Config holds the connection settings of one column store.
type Config struct {
	ID          string
	Hosts       []string
	Port        int
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

// Store is a Cassandra-backed store.
type Store struct {
	cfg     Config
	session *gocql.Session
	logger  *slog.Logger

	mu          sync.RWMutex
	columnTypes map[string]map[string]string
}

var _ store.Store = (*Store)(nil)

// Open creates a session against the configured cluster.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Consistency == "" {
		cfg.Consistency = "ONE"
	}
	consistency, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.ID, err)
	}

	cluster := gocql.NewCluster(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = consistency
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, apperrors.NewExecutionError(apperrors.CodeConnectionUnavailable, cfg.ID, "", err)
	}

	return &Store{
		cfg:         cfg,
		session:     session,
		logger:      logging.Default(logger).With("component", "cqlstore", "store", cfg.ID),
		columnTypes: make(map[string]map[string]string),
	}, nil
}

// ID returns the configured store identifier.
func (s *Store) ID() string { return s.cfg.ID }

// Kind returns types.StoreColumn.
func (s *Store) Kind() types.StoreKind { return types.StoreColumn }

// Discover reads the keyspace's column metadata.
func (s *Store) Discover(ctx context.Context) ([]types.EntityShape, error) {
	iter := s.session.Query(selectColumnsCQL, s.cfg.Keyspace).WithContext(ctx).Iter()

	var (
		cols                       []column
		table, name, kind, cqlType string
		position                   int
	)
	for iter.Scan(&table, &name, &kind, &position, &cqlType) {
		cols = append(cols, column{Table: table, Name: name, Kind: kind, Position: position, Type: cqlType})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read system_schema.columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("keyspace %q has no tables", s.cfg.Keyspace)
	}

	columnTypes := make(map[string]map[string]string)
	for _, c := range cols {
		if columnTypes[c.Table] == nil {
			columnTypes[c.Table] = make(map[string]string)
		}
		columnTypes[c.Table][c.Name] = c.Type
	}
	s.mu.Lock()
	s.columnTypes = columnTypes
	s.mu.Unlock()

	shapes := shapesFromColumns(cols)
	s.logger.Debug("keyspace introspected", "keyspace", s.cfg.Keyspace, "tables", len(shapes))
	return shapes, nil
}

// Execute runs the plan as a CQL SELECT. Scans and non-key predicates add
// ALLOW FILTERING, which makes Cassandra touch every partition.
func (s *Store) Execute(ctx context.Context, plan *types.QueryPlan) ([]types.Row, error) {
	s.mu.RLock()
	columnTypes := s.columnTypes[plan.Entity]
	s.mu.RUnlock()

	stmt, args, err := buildSelect(s.cfg.Keyspace, plan, columnTypes)
	if err != nil {
		return nil, apperrors.NewExecutionError(apperrors.CodeStoreExecutionFailed, s.cfg.ID, plan.Entity, err)
	}

	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()
	var rows []types.Row
	for {
		m := make(map[string]any)
		if !iter.MapScan(m) {
			break
		}
		rows = append(rows, normalizeRow(m))
	}
	if err := iter.Close(); err != nil {
		return nil, s.classify(plan.Entity, err)
	}
	if rows == nil {
		rows = []types.Row{}
	}
	return rows, nil
}

func (s *Store) classify(entity string, err error) error {
	var (
		readTimeout *gocql.RequestErrReadTimeout
		unavailable *gocql.RequestErrUnavailable
	)
	code := apperrors.CodeStoreExecutionFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.As(err, &readTimeout):
		code = apperrors.CodeExecutionTimeout
	case errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, gocql.ErrSessionClosed),
		errors.As(err, &unavailable):
		code = apperrors.CodeConnectionUnavailable
	}
	return apperrors.NewExecutionError(code, s.cfg.ID, entity, err)
}

// Close closes the session.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}
