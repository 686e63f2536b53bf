package quality

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func flatImage(w, h int, v uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

func defaultThresholds() Thresholds {
	return Thresholds{BrightnessLow: 40, BrightnessHigh: 220, ClarityThreshold: 100}
}

func TestAnalyze_DarkFlatImageIsUnderexposedAndBlurry(t *testing.T) {
	img := flatImage(64, 64, 10)
	r := Analyze(img, defaultThresholds(), -1)
	require.True(t, r.IsUnderexposed)
	require.True(t, r.IsBlurry) // perfectly flat image has zero Laplacian variance
	require.Equal(t, Night, r.DayNight)
}

func TestAnalyze_BrightFlatImageIsOverexposed(t *testing.T) {
	img := flatImage(64, 64, 250)
	r := Analyze(img, defaultThresholds(), -1)
	require.True(t, r.IsOverexposed)
	require.Equal(t, Day, r.DayNight)
}

func TestAnalyze_HourOverridesDayNightBrightnessHeuristic(t *testing.T) {
	img := flatImage(64, 64, 200) // would be "day" by brightness alone
	r := Analyze(img, defaultThresholds(), 2)
	require.Equal(t, Night, r.DayNight)
}
