package capture

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestNormalize_OutputIsAlwaysTargetSize(t *testing.T) {
	resolutions := [][2]int{
		{1920, 1080}, {1280, 720}, {640, 480}, {800, 600}, {352, 288},
		{1024, 768}, {3840, 2160}, {320, 240}, {1600, 900}, {704, 576},
	}
	for _, res := range resolutions {
		src := solidImage(res[0], res[1], color.White)
		out := Normalize(src)
		require.Equal(t, TargetWidth, out.Bounds().Dx(), "width for %v", res)
		require.Equal(t, TargetHeight, out.Bounds().Dy(), "height for %v", res)
	}
}

func TestNormalize_MatchingAspectDoesNotLetterbox(t *testing.T) {
	src := solidImage(960, 540, color.White) // exactly 16:9
	out := Normalize(src)
	// a corner pixel should not be black padding
	r, g, b, _ := out.At(0, 0).RGBA()
	require.NotZero(t, r+g+b)
}

func TestNormalize_MismatchedAspectLetterboxes(t *testing.T) {
	src := solidImage(100, 100, color.White) // 1:1, needs padding against 16:9
	out := Normalize(src)
	// top-left corner should be black padding since a square can't fill 16:9
	r, g, b, _ := out.At(0, 0).RGBA()
	require.Equal(t, uint32(0), r)
	require.Equal(t, uint32(0), g)
	require.Equal(t, uint32(0), b)
}
