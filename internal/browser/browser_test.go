package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseViewport(t *testing.T) {
	t.Parallel()

	v, err := ParseViewport(" 1280X800 ")
	require.NoError(t, err)
	require.Equal(t, Viewport{Width: 1280, Height: 800}, v)
	require.Equal(t, "1280x800", v.String())

	_, err = ParseViewport("wide")
	require.Error(t, err)
	_, err = ParseViewport("0x10")
	require.Error(t, err)
}
