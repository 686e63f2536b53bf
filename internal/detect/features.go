package detect

import (
	"image"
	"math"

	"github.com/technosupport/parking-capture/internal/reid"
)

// ExtractFeatures computes the opaque-to-upstream vehicle feature vector
// for one accepted detection, cropped from the full frame by its box.
func ExtractFeatures(img image.Image, box Box) reid.Features {
	crop := cropBox(img, box)

	hueHist, satHist := hsvHistograms(crop)
	aspect := 0.0
	if h := box.Y2 - box.Y1; h > 0 {
		aspect = (box.X2 - box.X1) / h
	}

	return reid.Features{
		HueHist:      hueHist,
		SatHist:      satHist,
		AspectRatio:  aspect,
		HasRearWiper: hasRearWiper(crop),
	}
}

func cropBox(img image.Image, box Box) image.Image {
	b := img.Bounds()
	x1 := clampInt(int(box.X1), b.Min.X, b.Max.X)
	y1 := clampInt(int(box.Y1), b.Min.Y, b.Max.Y)
	x2 := clampInt(int(box.X2), b.Min.X, b.Max.X)
	y2 := clampInt(int(box.Y2), b.Min.Y, b.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return img
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(image.Rect(x1, y1, x2, y2))
	}
	return img
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hsvHistograms builds normalized 32-bin hue and saturation histograms.
func hsvHistograms(img image.Image) (hue, sat [32]float64) {
	b := img.Bounds()
	var n int
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h, s := rgbToHS(float64(r>>8)/255, float64(g>>8)/255, float64(bl>>8)/255)
			hue[binOf(h, 360, 32)]++
			sat[binOf(s, 1, 32)]++
			n++
		}
	}
	if n == 0 {
		return hue, sat
	}
	for i := range hue {
		hue[i] /= float64(n)
		sat[i] /= float64(n)
	}
	return hue, sat
}

func binOf(v, max float64, bins int) int {
	idx := int(v / max * float64(bins))
	if idx >= bins {
		idx = bins - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func rgbToHS(r, g, b float64) (h, s float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	delta := maxC - minC

	if maxC > 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s
	}

	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s
}

// hasRearWiper is a coarse proxy: thresholded edge magnitude plus
// horizontal-line density in the lower half of the crop. A true Canny
// implementation is out of scope; this thresholds a central-difference
// gradient magnitude as the edge map.
func hasRearWiper(img image.Image) bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 6 {
		return false
	}

	gray := make([][]float64, h)
	for y := 0; y < h; y++ {
		row := make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
		gray[y] = row
	}

	lowerStart := h / 2
	var horizontalLines int
	const edgeThreshold = 40.0
	for y := lowerStart; y < h-1; y++ {
		var rowEdgeCount int
		for x := 1; x < w-1; x++ {
			gx := gray[y][x+1] - gray[y][x-1]
			gy := gray[y+1][x] - gray[y-1][x]
			mag := math.Sqrt(gx*gx + gy*gy)
			if mag > edgeThreshold && math.Abs(gx) < math.Abs(gy) {
				rowEdgeCount++
			}
		}
		if float64(rowEdgeCount)/float64(w) > 0.3 {
			horizontalLines++
		}
	}
	return horizontalLines >= 2
}
