package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// RunStore keeps run lifecycle records in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]ingest.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]ingest.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ ingest.RunStore = (*RunStore)(nil)

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = ingest.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus moves a run to status and attaches report when given.
// Terminal runs are not updated again.
func (s *RunStore) UpdateRunStatus(_ context.Context, runID string, status ingest.RunStatus, report *ingest.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already %s", runID, run.Status)
	}
	run.Status = status
	if report != nil {
		copied := *report
		run.Report = &copied
	}
	now := s.now()
	if status == ingest.RunRunning && run.StartedAt == nil {
		run.StartedAt = pointerTime(now)
	}
	if status.Terminal() {
		run.FinishedAt = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return ingest.Run{}, fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	return run, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
