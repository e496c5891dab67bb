// Package stats summarizes timing samples into a performance verdict.
//
// Summaries are pure functions of their inputs: nothing here executes,
// retries or filters trials beyond discarding failed samples.
package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	mstats "github.com/montanaflynn/stats"

	apperrors "github.com/polyquery/polyquery/internal/errors"
	"github.com/polyquery/polyquery/pkg/types"
)

const (
	// MinConfidentSamples is the smallest successful sample count per side
	// for a verdict without a confidence note.
	MinConfidentSamples = 5

	// MaxConfidentCV is the largest coefficient of variation per side for
	// a verdict without a confidence note.
	MaxConfidentCV = 0.5

	z95 = 1.96
)

// Measure is a statistic that may be undefined, such as the standard
// deviation of a single sample. Undefined measures print and encode as
// "n/a".
type Measure struct {
	Value float64
	Valid bool
}

func defined(v float64) Measure { return Measure{Value: v, Valid: true} }

// NA is the undefined measure.
var NA = Measure{}

func (m Measure) String() string {
	if !m.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", m.Value)
}

// MarshalJSON encodes m as a number, or as "n/a" when undefined.
func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte(`"n/a"`), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number or "n/a".
func (m *Measure) UnmarshalJSON(b []byte) error {
	if string(b) == `"n/a"` || string(b) == "null" {
		*m = NA
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = defined(v)
	return nil
}

// Interval is a confidence interval.
type Interval struct {
	Low  Measure `json:"low"`
	High Measure `json:"high"`
}

// Side holds the statistics of one side of a comparison. Latencies are in
// milliseconds.
type Side struct {
	Attempted   int      `json:"attempted"`
	Succeeded   int      `json:"succeeded"`
	SuccessRate float64  `json:"success_rate"`
	Mean        float64  `json:"mean_ms"`
	StdDev      Measure  `json:"stddev_ms"`
	Min         float64  `json:"min_ms"`
	Max         float64  `json:"max_ms"`
	Median      float64  `json:"median_ms"`
	CV          Measure  `json:"cv"`
	CI95        Interval `json:"ci95_ms"`
	// AccessPath is the access path every successful sample used, or
	// empty when samples disagree
	AccessPath types.AccessPath `json:"access_path,omitempty"`
}

// Verdict compares naive and optimized timings.
type Verdict struct {
	MeanNaive       float64 `json:"mean_naive_ms"`
	MeanOptimized   float64 `json:"mean_optimized_ms"`
	StdDevNaive     Measure `json:"stddev_naive_ms"`
	StdDevOptimized Measure `json:"stddev_optimized_ms"`
	// Speedup is MeanNaive / MeanOptimized
	Speedup Measure `json:"speedup_ratio"`
	// SampleSize is the smaller successful sample count of the two sides
	SampleSize     int    `json:"sample_size"`
	ConfidenceNote string `json:"confidence_note,omitempty"`

	ImprovementPct Measure `json:"improvement_pct"`
	TimeSaved      float64 `json:"time_saved_ms"`
	Significance   string  `json:"significance"`

	// Degraded is set when the optimized side ran as secondary scans, so
	// both sides measure naive behavior
	Degraded bool `json:"degraded,omitempty"`

	Naive     Side `json:"naive"`
	Optimized Side `json:"optimized"`
}

// LowConfidence reports whether the verdict carries a confidence note.
func (v *Verdict) LowConfidence() bool {
	return v.ConfidenceNote != ""
}

// Summarize compares naive and optimized samples. Only successful samples
// are used; a side without any fails with InsufficientSamplesError.
func Summarize(naive, optimized []types.TimingSample) (*Verdict, error) {
	n, err := summarizeSide("naive", naive)
	if err != nil {
		return nil, err
	}
	o, err := summarizeSide("optimized", optimized)
	if err != nil {
		return nil, err
	}

	v := &Verdict{
		MeanNaive:       n.Mean,
		MeanOptimized:   o.Mean,
		StdDevNaive:     n.StdDev,
		StdDevOptimized: o.StdDev,
		SampleSize:      min(n.Succeeded, o.Succeeded),
		TimeSaved:       n.Mean - o.Mean,
		Naive:           *n,
		Optimized:       *o,
		Speedup:         NA,
		ImprovementPct:  NA,
	}
	if o.Mean > 0 {
		v.Speedup = defined(n.Mean / o.Mean)
	}
	if n.Mean > 0 {
		v.ImprovementPct = defined((n.Mean - o.Mean) / n.Mean * 100)
	}
	v.Significance = Significance(v.Speedup)
	v.Degraded = o.AccessPath == types.AccessSecondaryScan

	var notes []string
	for _, s := range []struct {
		name string
		side *Side
	}{{"naive", n}, {"optimized", o}} {
		if s.side.Succeeded < MinConfidentSamples {
			notes = append(notes, fmt.Sprintf("%s side has %d successful samples (fewer than %d)",
				s.name, s.side.Succeeded, MinConfidentSamples))
		}
		if s.side.CV.Valid && s.side.CV.Value > MaxConfidentCV {
			notes = append(notes, fmt.Sprintf("%s side coefficient of variation %.2f exceeds %.1f",
				s.name, s.side.CV.Value, MaxConfidentCV))
		}
	}
	if len(notes) > 0 {
		v.ConfidenceNote = "low confidence: " + strings.Join(notes, "; ")
	}
	return v, nil
}

// Significance labels a speedup ratio.
func Significance(speedup Measure) string {
	switch {
	case !speedup.Valid:
		return "n/a"
	case speedup.Value <= 1.1:
		return "minimal"
	case speedup.Value <= 1.5:
		return "moderate"
	case speedup.Value <= 2:
		return "significant"
	default:
		return "high"
	}
}

func summarizeSide(name string, samples []types.TimingSample) (*Side, error) {
	ok := types.SucceededOnly(samples)
	if len(ok) == 0 {
		return nil, apperrors.NewInsufficientSamplesError(name, len(samples))
	}

	data := make(mstats.Float64Data, len(ok))
	path := ok[0].AccessPath
	for i, s := range ok {
		data[i] = float64(s.Elapsed.Nanoseconds()) / 1e6
		if s.AccessPath != path {
			path = ""
		}
	}

	side := &Side{
		Attempted:   len(samples),
		Succeeded:   len(ok),
		SuccessRate: float64(len(ok)) / float64(len(samples)),
		StdDev:      NA,
		CV:          NA,
		CI95:        Interval{Low: NA, High: NA},
		AccessPath:  path,
	}
	// Errors below only signal empty input, ruled out above.
	side.Mean, _ = mstats.Mean(data)
	side.Min, _ = mstats.Min(data)
	side.Max, _ = mstats.Max(data)
	side.Median, _ = mstats.Median(data)

	if len(ok) > 1 {
		sd, _ := mstats.StandardDeviationSample(data)
		side.StdDev = defined(sd)
		half := z95 * sd / math.Sqrt(float64(len(ok)))
		side.CI95 = Interval{Low: defined(side.Mean - half), High: defined(side.Mean + half)}
		if side.Mean > 0 {
			side.CV = defined(sd / side.Mean)
		}
	}
	return side, nil
}
