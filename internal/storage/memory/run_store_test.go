package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := ingest.Run{ID: "run-1", Request: ingest.ScrapeRequest{Target: "@candidate", Kind: ingest.SourceKindSocialPost}}

	require.NoError(t, store.CreateRun(ctx, run))
	require.Error(t, store.CreateRun(ctx, run), "duplicate run")

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunQueued, got.Status)
	require.False(t, got.CreatedAt.IsZero())

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", ingest.RunRunning, nil))
	got, _ = store.GetRun(ctx, "run-1")
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.FinishedAt)

	report := &ingest.RunReport{RunID: "run-1", Submitted: 4, Status: ingest.RunSucceeded}
	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", ingest.RunSucceeded, report))
	report.Submitted = 99

	got, _ = store.GetRun(ctx, "run-1")
	require.Equal(t, ingest.RunSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, 4, got.Report.Submitted)

	require.Error(t, store.UpdateRunStatus(ctx, "run-1", ingest.RunCanceled, nil), "terminal runs are frozen")
}

func TestRunStoreMissing(t *testing.T) {
	t.Parallel()
	store := NewRunStore()
	_, err := store.GetRun(context.Background(), "nope")
	require.ErrorIs(t, err, ingest.ErrNotFound)
	require.ErrorIs(t, store.UpdateRunStatus(context.Background(), "nope", ingest.RunRunning, nil), ingest.ErrNotFound)
}
