package types

import "time"

// TimingSample is the measurement of one trial of one plan.
type TimingSample struct {
	// PlanID identifies the plan (or join spec) that was executed
	PlanID string `json:"plan_id"`

	// Trial is the zero-based trial index within its run
	Trial int `json:"trial"`

	// Elapsed is the wall time of the trial; for failed trials the time to failure
	Elapsed time.Duration `json:"elapsed_ns"`

	// Rows is the number of rows returned
	Rows int `json:"rows"`

	// Succeeded is false when the store call failed
	Succeeded bool `json:"succeeded"`

	// AccessPath is the access path the trial actually used
	AccessPath AccessPath `json:"access_path"`

	// Err holds the failure message of an unsuccessful trial
	Err string `json:"error,omitempty"`

	// Retryable marks failures classified as transient
	Retryable bool `json:"retryable,omitempty"`
}

// SucceededOnly returns the successful samples of s, preserving order.
func SucceededOnly(s []TimingSample) []TimingSample {
	out := make([]TimingSample, 0, len(s))
	for _, sample := range s {
		if sample.Succeeded {
			out = append(out, sample)
		}
	}
	return out
}
