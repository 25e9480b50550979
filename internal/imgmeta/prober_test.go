package imgmeta

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeReportsPNGDimensions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 3, 7))
	require.NoError(t, png.Encode(&buf, img))

	dims, ok := New().Probe(buf.Bytes())
	require.True(t, ok)
	require.Equal(t, Dimensions{Width: 3, Height: 7}, dims)
}

func TestProbeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, ok := New().Probe([]byte("definitely not an image"))
	require.False(t, ok)
}
