package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "snapshots/website/run.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/website/run.json", uri)

	payload[0] = 'C'
	stored, ok := store.Object("snapshots/website/run.json")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Object("snapshots/website/run.json")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"snapshots/website/run.json"}, store.Paths())

	_, ok = store.Object("missing")
	require.False(t, ok)
}
