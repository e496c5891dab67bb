// Package mongostore adapts a MongoDB database to the store interfaces.
// Collections are surveyed by sampling documents; indexes decide which
// fields are partition keys.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/store"
	"github.com/polyquery/polyquery/pkg/types"
)

// Config holds the connection and survey settings of one document store.
type Config struct {
	ID       string
	URI      string
	Database string
	Timeout  time.Duration

	// SampleSize is the number of documents sampled per collection
	SampleSize int

	// MaxDepth is the deepest nested path surveyed
	MaxDepth int
}

// Store is a MongoDB-backed store.
type Store struct {
	cfg    Config
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger

	mu         sync.RWMutex
	fieldTypes map[string]map[string]types.ValueType
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.SampleSize < 1 {
		cfg.SampleSize = 100
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, apperrors.NewExecutionError(apperrors.CodeConnectionUnavailable, cfg.ID, "", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.NewExecutionError(apperrors.CodeConnectionUnavailable, cfg.ID, "", err)
	}

	return &Store{
		cfg:    cfg,
		client: client,
		db:     client.Database(cfg.Database),
		logger: logging.Default(logger).With("component", "mongostore", "store", cfg.ID),
	}, nil
}

// ID returns the configured store identifier.
func (s *Store) ID() string { return s.cfg.ID }

// Kind returns types.StoreDocument.
func (s *Store) Kind() types.StoreKind { return types.StoreDocument }

// Discover surveys every collection of the database.
func (s *Store) Discover(ctx context.Context) ([]types.EntityShape, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	var shapes []types.EntityShape
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		shape, err := s.describe(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
		shapes = append(shapes, shape)
	}

	fieldTypes := make(map[string]map[string]types.ValueType, len(shapes))
	for _, sh := range shapes {
		m := make(map[string]types.ValueType, len(sh.Fields))
		for _, f := range sh.Fields {
			m[f.Name] = f.ValueType
		}
		fieldTypes[sh.Name] = m
	}
	s.mu.Lock()
	s.fieldTypes = fieldTypes
	s.mu.Unlock()

	return shapes, nil
}

func (s *Store) describe(ctx context.Context, name string) (types.EntityShape, error) {
	coll := s.db.Collection(name)

	pipeline := mongo.Pipeline{{{Key: "$sample", Value: bson.D{{Key: "size", Value: s.cfg.SampleSize}}}}}
	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return types.EntityShape{}, fmt.Errorf("sample: %w", err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return types.EntityShape{}, fmt.Errorf("sample: %w", err)
	}

	survey := newFieldSurvey(s.cfg.MaxDepth)
	for _, d := range docs {
		survey.Add(normalizeDoc(d))
	}
	fields := survey.Fields()

	specs, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return types.EntityShape{}, fmt.Errorf("list indexes: %w", err)
	}
	indexes := make([]indexInfo, 0, len(specs))
	for _, spec := range specs {
		elems, err := spec.KeysDocument.Elements()
		if err != nil {
			continue
		}
		info := indexInfo{Name: spec.Name, Unique: spec.Unique != nil && *spec.Unique}
		for _, e := range elems {
			info.Keys = append(info.Keys, e.Key())
		}
		indexes = append(indexes, info)
	}
	classify(fields, indexes)

	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		count = 0
	}

	s.logger.Debug("collection surveyed", "collection", name, "sampled", len(docs), "fields", len(fields))
	return types.EntityShape{Name: name, Fields: fields, RowEstimate: count}, nil
}

// Execute runs an equality find. Secondary scans are forced to walk the
// collection in natural order so no index can serve them.
func (s *Store) Execute(ctx context.Context, plan *types.QueryPlan) ([]types.Row, error) {
	s.mu.RLock()
	fieldTypes := s.fieldTypes[plan.Entity]
	s.mu.RUnlock()

	filter, err := buildFilter(plan, fieldTypes)
	if err != nil {
		return nil, apperrors.NewExecutionError(apperrors.CodeStoreExecutionFailed, s.cfg.ID, plan.Entity, err)
	}

	opts := options.Find()
	if proj := buildProjection(plan.Projection); proj != nil {
		opts.SetProjection(proj)
	}
	if plan.AccessPath == types.AccessSecondaryScan {
		opts.SetHint(bson.D{{Key: "$natural", Value: 1}})
	}

	cur, err := s.db.Collection(plan.Entity).Find(ctx, filter, opts)
	if err != nil {
		return nil, s.classify(plan.Entity, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, s.classify(plan.Entity, err)
	}

	rows := make([]types.Row, len(docs))
	for i, d := range docs {
		rows[i] = store.Project(store.Flatten(normalizeDoc(d), s.cfg.MaxDepth), plan.Projection)
	}
	return rows, nil
}

func (s *Store) classify(entity string, err error) error {
	code := apperrors.CodeStoreExecutionFailed
	switch {
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		code = apperrors.CodeExecutionTimeout
	case mongo.IsNetworkError(err), errors.Is(err, mongo.ErrClientDisconnected):
		code = apperrors.CodeConnectionUnavailable
	}
	return apperrors.NewExecutionError(code, s.cfg.ID, entity, err)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
