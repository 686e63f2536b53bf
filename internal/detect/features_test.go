package detect

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func redImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	return img
}

func TestExtractFeatures_AspectRatioMatchesBox(t *testing.T) {
	img := redImage(200, 100)
	box := Box{X1: 0, Y1: 0, X2: 200, Y2: 100}
	f := ExtractFeatures(img, box)
	require.InDelta(t, 2.0, f.AspectRatio, 1e-9)
}

func TestExtractFeatures_HueHistogramSumsToOne(t *testing.T) {
	img := redImage(50, 50)
	box := Box{X1: 0, Y1: 0, X2: 50, Y2: 50}
	f := ExtractFeatures(img, box)
	var sum float64
	for _, v := range f.HueHist {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6)
}

func TestEnhance_DoesNotPanicOnSmallImage(t *testing.T) {
	img := redImage(10, 10)
	require.NotPanics(t, func() {
		Enhance(img, 30)
	})
}
