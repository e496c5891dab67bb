// Package observability tracks how filters are served and exports trial
// latency metrics.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/polyquery/polyquery/pkg/types"
)

// FilterStats tracks, per requested filter field, how often each access path
// served it. Fields that are frequently served by scans are candidates for a
// new denormalized variant.
type FilterStats struct {
	mu        sync.RWMutex
	fields    map[string]*FieldStats
	window    time.Duration
	lastPrune time.Time
}

// FieldStats holds statistics for one filter field on one logical entity.
type FieldStats struct {
	StoreID   string
	Logical   string
	Field     string
	Frequency int64
	LastSeen  time.Time
	Paths     map[types.AccessPath]int64 // access path → count
}

// Scans returns how often the field was served by a secondary scan.
func (f FieldStats) Scans() int64 {
	return f.Paths[types.AccessSecondaryScan]
}

// NewFilterStats creates a new filter statistics tracker.
// window: entries not seen for this long are dropped (e.g., 1 hour);
// 0 keeps entries forever.
func NewFilterStats(window time.Duration) *FilterStats {
	return &FilterStats{
		fields:    make(map[string]*FieldStats),
		window:    window,
		lastPrune: time.Now(),
	}
}

// RecordFilter records that field, filtered on logical entity logical in
// store storeID, was served by path. Thread-safe.
func (q *FilterStats) RecordFilter(storeID, logical, field string, path types.AccessPath) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := storeID + "\x00" + logical + "\x00" + field
	stats, exists := q.fields[key]
	if !exists {
		stats = &FieldStats{
			StoreID: storeID,
			Logical: logical,
			Field:   field,
			Paths:   make(map[types.AccessPath]int64),
		}
		q.fields[key] = stats
	}

	now := time.Now()
	stats.Frequency++
	stats.LastSeen = now
	stats.Paths[path]++

	if q.window > 0 && now.Sub(q.lastPrune) >= q.window {
		q.pruneLocked(now)
	}
}

// RecordPlan records every predicate field of plan.
func (q *FilterStats) RecordPlan(plan *types.QueryPlan) {
	for _, f := range plan.PredicateFields() {
		q.RecordFilter(plan.StoreID, plan.Logical, f, plan.AccessPath)
	}
}

// GetTopFilters returns the top N fields by frequency.
func (q *FilterStats) GetTopFilters(n int) []FieldStats {
	return q.top(n, func(s *FieldStats) int64 { return s.Frequency })
}

// GetTopScanned returns the top N fields by number of secondary scans.
// Fields never scanned are omitted.
func (q *FilterStats) GetTopScanned(n int) []FieldStats {
	return q.top(n, func(s *FieldStats) int64 { return s.Paths[types.AccessSecondaryScan] })
}

func (q *FilterStats) top(n int, score func(*FieldStats) int64) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if n <= 0 || len(q.fields) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(q.fields))
	for _, s := range q.fields {
		if score(s) == 0 {
			continue
		}
		cp := *s
		cp.Paths = make(map[types.AccessPath]int64, len(s.Paths))
		for p, c := range s.Paths {
			cp.Paths[p] = c
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		si, sj := score(&stats[i]), score(&stats[j])
		if si != sj {
			return si > sj
		}
		if stats[i].StoreID != stats[j].StoreID {
			return stats[i].StoreID < stats[j].StoreID
		}
		if stats[i].Logical != stats[j].Logical {
			return stats[i].Logical < stats[j].Logical
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window. RecordFilter
// prunes on its own once per window.
func (q *FilterStats) Prune() {
	if q.window <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked(time.Now())
}

func (q *FilterStats) pruneLocked(now time.Time) {
	threshold := now.Add(-q.window)
	for key, stats := range q.fields {
		if stats.LastSeen.Before(threshold) {
			delete(q.fields, key)
		}
	}
	q.lastPrune = now
}
