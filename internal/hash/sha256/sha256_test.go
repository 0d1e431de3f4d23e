package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got := h.Hash([]byte("hello world"))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
	require.Equal(t, got, h.Hash([]byte("hello world")))
}

func TestHasherFieldsBoundaries(t *testing.T) {
	t.Parallel()

	h := New()
	require.NotEqual(t, h.Fields("ab", "c"), h.Fields("a", "bc"))
	require.Equal(t, h.Fields("a", "b"), h.Fields("a", "b"))
	require.NotEqual(t, h.Fields(), h.Fields(""))
}

func TestHasherContentKeyNormalizes(t *testing.T) {
	t.Parallel()

	h := New()
	require.Equal(t, h.ContentKey("Vote  Early\n today"), h.ContentKey("vote early today"))
	require.NotEqual(t, h.ContentKey("vote early"), h.ContentKey("vote late"))
}
