package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ScrapeRequest is the inbound run request shared by the CLI, the HTTP API and
// the worker pool.
type ScrapeRequest struct {
	Target     string     `json:"target"`
	Kind       SourceKind `json:"source_kind"`
	Platform   string     `json:"platform,omitempty"`
	SourceName string     `json:"source_name,omitempty"`
	Alternates []string   `json:"alternates,omitempty"`

	MaxRecords         int     `json:"max_records,omitempty"`
	MaxScrollAttempts  int     `json:"max_scroll_attempts,omitempty"`
	ScrollDelaySeconds float64 `json:"scroll_delay_seconds,omitempty"`
	// IncludeReplies and IncludeReposts override the configured filter when set.
	IncludeReplies *bool `json:"include_replies,omitempty"`
	IncludeReposts *bool `json:"include_reposts,omitempty"`
	// DateLimitDays excludes records older than this many days when set.
	DateLimitDays *int `json:"date_limit_days,omitempty"`
}

// Validate checks the request before a run is queued.
func (r ScrapeRequest) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return &ValidationError{Field: "target", Reason: "is required"}
	}
	if !r.Kind.Valid() {
		return &ValidationError{Field: "source_kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	if r.MaxRecords < 0 {
		return &ValidationError{Field: "max_records", Reason: "must not be negative"}
	}
	if r.MaxScrollAttempts < 0 {
		return &ValidationError{Field: "max_scroll_attempts", Reason: "must not be negative"}
	}
	if r.ScrollDelaySeconds < 0 {
		return &ValidationError{Field: "scroll_delay_seconds", Reason: "must not be negative"}
	}
	if r.DateLimitDays != nil && *r.DateLimitDays < 0 {
		return &ValidationError{Field: "date_limit_days", Reason: "must not be negative"}
	}
	return nil
}

// Run tracks a submitted request through the worker pool.
type Run struct {
	ID         string        `json:"run_id"`
	Request    ScrapeRequest `json:"request"`
	Status     RunStatus     `json:"status"`
	Report     *RunReport    `json:"report,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// RunStore persists run lifecycle state.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, report *RunReport) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// QueueItem is one queued run.
type QueueItem struct {
	RunID   string        `json:"run_id"`
	Request ScrapeRequest `json:"request"`
}

// Queue hands queued runs to workers.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
