package mongostore

import (
	"sort"
	"strings"

	"github.com/polyquery/polyquery/pkg/types"
)

// fieldSurvey accumulates the value types observed for each field path
// across sampled documents.
type fieldSurvey struct {
	maxDepth int
	order    []string
	counts   map[string]map[types.ValueType]int
}

func newFieldSurvey(maxDepth int) *fieldSurvey {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &fieldSurvey{
		maxDepth: maxDepth,
		counts:   make(map[string]map[types.ValueType]int),
	}
}

// Add surveys one normalized document.
func (s *fieldSurvey) Add(doc map[string]any) {
	s.walk("", doc, 1)
}

func (s *fieldSurvey) walk(prefix string, doc map[string]any, depth int) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	// _id first, then lexical, so field order is stable across samples.
	sort.Slice(keys, func(i, j int) bool {
		if (keys[i] == "_id") != (keys[j] == "_id") {
			return keys[i] == "_id"
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if strings.HasPrefix(k, "_") && k != "_id" {
			continue
		}
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		v := doc[k]
		switch x := v.(type) {
		case map[string]any:
			if depth < s.maxDepth {
				s.walk(path, x, depth+1)
				continue
			}
		case []any:
			if len(x) > 0 {
				if first, ok := x[0].(map[string]any); ok && depth < s.maxDepth {
					s.walk(path, first, depth+1)
				}
			}
		}
		s.observe(path, types.InferValueType(v))
	}
}

func (s *fieldSurvey) observe(path string, vt types.ValueType) {
	c, ok := s.counts[path]
	if !ok {
		c = make(map[types.ValueType]int)
		s.counts[path] = c
		s.order = append(s.order, path)
	}
	c[vt]++
}

// Fields returns one plain descriptor per surveyed path with its dominant
// type. Null observations only count when nothing else was seen; ties go
// to the lexically smaller type name.
func (s *fieldSurvey) Fields() []types.FieldDescriptor {
	out := make([]types.FieldDescriptor, 0, len(s.order))
	for _, path := range s.order {
		out = append(out, types.FieldDescriptor{
			Name:      path,
			Kind:      types.KindPlain,
			ValueType: dominant(s.counts[path]),
		})
	}
	return out
}

func dominant(counts map[types.ValueType]int) types.ValueType {
	best := types.TypeUnknown
	bestN := 0
	for vt, n := range counts {
		if vt == types.TypeUnknown {
			continue
		}
		if n > bestN || (n == bestN && vt < best) {
			best, bestN = vt, n
		}
	}
	return best
}

// indexInfo is the part of an index specification used for key
// classification.
type indexInfo struct {
	Name   string
	Keys   []string
	Unique bool
}

// classify marks key roles from the collection's indexes. The first unique
// single-field index (other than _id) becomes the partition key; _id and
// other single-field indexes are marked indexed. Compound indexes are
// ignored since an equality filter on their prefix is not a lookup.
func classify(fields []types.FieldDescriptor, indexes []indexInfo) {
	pos := make(map[string]int, len(fields))
	for i, f := range fields {
		pos[f.Name] = i
	}

	havePK := false
	for _, idx := range indexes {
		if len(idx.Keys) != 1 {
			continue
		}
		i, ok := pos[idx.Keys[0]]
		if !ok {
			continue
		}
		f := &fields[i]
		if idx.Unique && !havePK && f.Name != "_id" {
			f.Kind = types.KindPartitionKey
			f.KeyPosition = 0
			havePK = true
			continue
		}
		if f.Kind == types.KindPlain {
			f.Kind = types.KindIndexed
		}
	}
	if i, ok := pos["_id"]; ok && fields[i].Kind == types.KindPlain {
		fields[i].Kind = types.KindIndexed
	}
}
