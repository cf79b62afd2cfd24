package domain

import "time"

// SourceStatus is the outcome of one source within an aggregation run.
type SourceStatus string

const (
	SourceStatusMerged SourceStatus = "merged"
	SourceStatusFailed SourceStatus = "failed"
)

// SourceReport records what one source contributed to a run.
type SourceReport struct {
	Key            string        `json:"key"`
	Name           string        `json:"name"`
	FetchURL       string        `json:"fetch_url"`
	Status         SourceStatus  `json:"status"`
	ErrorCode      ErrorCode     `json:"error_code,omitempty"`
	Error          string        `json:"error,omitempty"`
	Schemas        int           `json:"schemas"`
	Paths          int           `json:"paths"`
	DroppedPaths   []string      `json:"dropped_paths,omitempty"`
	DroppedSchemas []string      `json:"dropped_schemas,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
}

// AggregationReport summarizes one aggregation run, in registry order.
type AggregationReport struct {
	RequestID  string         `json:"request_id,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
}

// Failed returns the number of sources that did not contribute.
func (r AggregationReport) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == SourceStatusFailed {
			n++
		}
	}
	return n
}
