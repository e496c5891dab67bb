package schema

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/polyquery/polyquery/internal/logging"
	"github.com/polyquery/polyquery/internal/observability"
	"github.com/polyquery/polyquery/pkg/types"
)

// Suggestion proposes a denormalized variant keyed by a field that is
// repeatedly served by secondary scans.
type Suggestion struct {
	StoreID       string          `json:"store_id"`
	Logical       string          `json:"logical"`
	Field         string          `json:"field"`
	Scans         int64           `json:"scans"`
	Entity        string          `json:"entity"`
	PartitionKey  []string        `json:"partition_key"`
	ClusteringKey []string        `json:"clustering_key,omitempty"`
	ValueType     types.ValueType `json:"value_type"`
}

// Advisor turns filter statistics into variant suggestions.
type Advisor struct {
	catalog   *Catalog
	stats     *observability.FilterStats
	threshold int64
	max       int
	metrics   *observability.Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	cache      []Suggestion
	cacheFor   uint64
	cacheUntil time.Time
	cacheTTL   time.Duration
}

// AdvisorOption configures an Advisor.
type AdvisorOption func(*Advisor)

// WithAdvisorMetrics records suggestion requests.
func WithAdvisorMetrics(m *observability.Metrics) AdvisorOption {
	return func(a *Advisor) { a.metrics = m }
}

// NewAdvisor creates an advisor.
// threshold: minimum number of scans before a field is suggested.
// max: maximum number of suggestions returned.
func NewAdvisor(catalog *Catalog, stats *observability.FilterStats, threshold int64, max int, logger *slog.Logger, opts ...AdvisorOption) *Advisor {
	if threshold <= 0 {
		threshold = 10
	}
	if max <= 0 {
		max = 5
	}
	a := &Advisor{
		catalog:   catalog,
		stats:     stats,
		threshold: threshold,
		max:       max,
		logger:    logging.Default(logger).With("component", "variant-advisor"),
		cacheTTL:  time.Minute,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InvalidateCache clears the cached result.
func (a *Advisor) InvalidateCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = nil
}

// Suggest returns variants worth creating. Fields already served by an
// existing variant's partition key are skipped. Results are cached per
// snapshot version for cacheTTL.
func (a *Advisor) Suggest() []Suggestion {
	snap := a.catalog.Current()
	if snap == nil || a.stats == nil {
		return nil
	}

	a.mu.Lock()
	if a.cache != nil && a.cacheFor == snap.Version && time.Now().Before(a.cacheUntil) {
		out := append([]Suggestion(nil), a.cache...)
		a.mu.Unlock()
		a.metrics.ObserveAdvice(true, len(out))
		return out
	}
	a.mu.Unlock()

	// Fields not filtered on within the window no longer count.
	a.stats.Prune()

	var out []Suggestion
	for _, fs := range a.stats.GetTopScanned(a.max * 4) {
		if len(out) >= a.max {
			break
		}
		if fs.Scans() < a.threshold {
			break
		}
		s, ok := a.suggest(snap, fs)
		if ok {
			out = append(out, s)
		}
	}

	a.mu.Lock()
	a.cache = out
	a.cacheFor = snap.Version
	a.cacheUntil = time.Now().Add(a.cacheTTL)
	a.mu.Unlock()
	a.metrics.ObserveAdvice(false, len(out))

	a.logger.Debug("variant suggestions computed", "count", len(out), "threshold", a.threshold)
	return append([]Suggestion(nil), out...)
}

func (a *Advisor) suggest(snap *Snapshot, fs observability.FieldStats) (Suggestion, bool) {
	var logical *LogicalEntity
	for _, l := range snap.LogicalEntities(fs.StoreID) {
		if l.Name == fs.Logical {
			logical = l
			break
		}
	}
	if logical == nil {
		return Suggestion{}, false
	}
	for _, v := range logical.Variants {
		pk := v.PartitionKey()
		if len(pk) == 1 && pk[0] == fs.Field {
			return Suggestion{}, false
		}
	}
	primary := logical.Primary()
	f, ok := primary.Field(fs.Field)
	if !ok {
		return Suggestion{}, false
	}
	return Suggestion{
		StoreID:       fs.StoreID,
		Logical:       fs.Logical,
		Field:         fs.Field,
		Scans:         fs.Scans(),
		Entity:        VariantName(fs.Logical, fs.Field),
		PartitionKey:  []string{fs.Field},
		ClusteringKey: primary.PartitionKey(),
		ValueType:     f.ValueType,
	}, true
}

// VariantName derives the conventional variant name for a key field:
// "transactions", "customer_id" -> "transactions_by_customer".
func VariantName(logical, field string) string {
	name := strings.TrimSuffix(field, "_id")
	name = strings.ReplaceAll(name, ".", "_")
	return logical + "_by_" + name
}
