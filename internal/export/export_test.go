package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
	"github.com/JakeFAU/polmsg-collector/internal/storage/memory"
)

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func snapshot() Snapshot {
	return Snapshot{
		RunID:      "run-7",
		Target:     "@candidate",
		SourceKind: ingest.SourceKindSocialPost,
		EntryURL:   "https://x.com/candidate",
		CapturedAt: time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)),
		Records: []ingest.RawRecord{
			{Content: "Vote early", SourceKind: ingest.SourceKindSocialPost},
		},
	}
}

func TestPath(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		prefix string
		want   string
	}{
		{"snapshots", "snapshots/social_post/2024/03/10/run-7.json"},
		{"/nested/dir/", "nested/dir/social_post/2024/03/10/run-7.json"},
		{"", "social_post/2024/03/10/run-7.json"},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, New(memory.NewBlobStore(), tc.prefix, nil).Path(snapshot()))
		})
	}
}

func TestExportWritesSnapshot(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	exp := New(store, "snapshots", nil)

	uri, err := exp.Export(context.Background(), snapshot())
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/social_post/2024/03/10/run-7.json", uri)

	data, ok := store.Object("snapshots/social_post/2024/03/10/run-7.json")
	require.True(t, ok)
	var got Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "run-7", got.RunID)
	require.Len(t, got.Records, 1)
	require.Equal(t, "Vote early", got.Records[0].Content)
}

func TestExportEmptyRecordsIsArray(t *testing.T) {
	t.Parallel()
	store := memory.NewBlobStore()
	s := snapshot()
	s.Records = nil

	_, err := New(store, "", nil).Export(context.Background(), s)
	require.NoError(t, err)
	data, ok := store.Object("social_post/2024/03/10/run-7.json")
	require.True(t, ok)
	require.Contains(t, string(data), `"records":[]`)
}

func TestExportErrors(t *testing.T) {
	t.Parallel()
	_, err := New(failingStore{}, "p", nil).Export(context.Background(), snapshot())
	require.ErrorContains(t, err, "bucket gone")

	s := snapshot()
	s.RunID = ""
	_, err = New(memory.NewBlobStore(), "p", nil).Export(context.Background(), s)
	require.Error(t, err)

	_, err = New(nil, "p", nil).Export(context.Background(), snapshot())
	require.Error(t, err)
}
