package ingest

import (
	"errors"
	"fmt"
	"time"
)

// RunStatus summarizes how a run ended.
type RunStatus string

// Run statuses.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether s is a final status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunPartial, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Report stages.
const (
	StageRequest    = "request"
	StageSession    = "session"
	StagePagination = "pagination"
	StageExtraction = "extraction"
	StageTransform  = "transform"
	StageDelivery   = "delivery"
	StageExport     = "export"
	StageNotify     = "notify"
	StageInternal   = "internal"
)

// ReportError is the serializable form of an error recorded in a run report.
type ReportError struct {
	Stage      string `json:"stage"`
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message"`
	Index      int    `json:"index,omitempty"`
	MessageURL string `json:"message_url,omitempty"`
}

// NewReportError converts err into a ReportError, picking the kind from the
// typed error taxonomy when present.
func NewReportError(stage string, err error) ReportError {
	re := ReportError{Stage: stage}
	if err == nil {
		return re
	}
	re.Message = err.Error()
	var (
		sessErr      *SessionError
		extractErr   *ExtractionError
		transformErr *TransformError
		deliveryErr  *DeliveryError
	)
	switch {
	case errors.As(err, &sessErr):
		re.Kind = string(sessErr.Kind)
	case errors.As(err, &transformErr):
		re.Kind = string(transformErr.Kind)
	case errors.As(err, &deliveryErr):
		re.Kind = string(deliveryErr.Class)
	case errors.As(err, &extractErr):
		re.Kind = "EXTRACTION"
		re.Index = extractErr.Index
	}
	return re
}

// DeliveryReport is the delivery orchestrator's outcome for one sequence.
type DeliveryReport struct {
	Submitted  int           `json:"submitted"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Retries    int           `json:"retries"`
	Batches    int           `json:"batches"`
	IDs        []string      `json:"ids,omitempty"`
	Errors     []ReportError `json:"errors,omitempty"`
}

// RunReport is handed to the caller for every run, successful or not.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Target      string        `json:"target"`
	SourceKind  SourceKind    `json:"source_kind"`
	EntryURL    string        `json:"entry_url,omitempty"`
	Status      RunStatus     `json:"status"`
	Outcome     string        `json:"pagination_outcome,omitempty"`
	Extracted   int           `json:"extracted"`
	Dropped     int           `json:"dropped"`
	Submitted   int           `json:"submitted"`
	Duplicates  int           `json:"duplicates"`
	Failed      int           `json:"failed"`
	Retries     int           `json:"retries"`
	Batches     int           `json:"batches"`
	SnapshotURI string        `json:"snapshot_uri,omitempty"`
	Errors      []ReportError `json:"errors"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// AddError appends err under stage.
func (r *RunReport) AddError(stage string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, NewReportError(stage, err))
}

// MergeDelivery folds a delivery outcome into the report.
func (r *RunReport) MergeDelivery(d DeliveryReport) {
	r.Submitted += d.Submitted
	r.Duplicates += d.Duplicates
	r.Failed += d.Failed
	r.Retries += d.Retries
	r.Batches += d.Batches
	r.Errors = append(r.Errors, d.Errors...)
}

// Settle derives the final status from counters and errors.
func (r *RunReport) Settle(canceled bool) {
	if r.Errors == nil {
		r.Errors = []ReportError{}
	}
	switch {
	case canceled:
		r.Status = RunCanceled
	case len(r.Errors) == 0:
		r.Status = RunSucceeded
	case r.Submitted > 0 || r.Duplicates > 0:
		r.Status = RunPartial
	default:
		r.Status = RunFailed
	}
}

// Summary is a one-line human description used by the CLI.
func (r RunReport) Summary() string {
	return fmt.Sprintf("%s %s: extracted=%d submitted=%d duplicates=%d failed=%d dropped=%d retries=%d errors=%d",
		r.Target, r.Status, r.Extracted, r.Submitted, r.Duplicates, r.Failed, r.Dropped, r.Retries, len(r.Errors))
}
