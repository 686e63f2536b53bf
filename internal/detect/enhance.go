package detect

import (
	"image"
	"image/color"
	"math"
)

// Enhance applies night-mode preprocessing before detection: histogram
// equalization on the L channel (a CLAHE stand-in — tiling is omitted,
// the equalization runs over the whole frame) and, for very dark frames,
// gamma correction.
func Enhance(img image.Image, brightness float64) image.Image {
	out := equalizeLuminance(img)
	if brightness < 60 {
		out = gammaCorrect(out, 1.8)
	}
	return out
}

func equalizeLuminance(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var hist [256]int
	lum := make([][]uint8, h)
	for y := 0; y < h; y++ {
		row := make([]uint8, w)
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			l := uint8(0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8))
			row[x] = l
			hist[l]++
		}
		lum[y] = row
	}

	total := w * h
	var cdf [256]float64
	var running int
	for i, count := range hist {
		running += count
		cdf[i] = float64(running) / float64(total)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			oldL := lum[y][x]
			newL := cdf[oldL] * 255
			scale := 1.0
			if oldL > 0 {
				scale = newL / float64(oldL)
			}
			out.Set(x, y, color.RGBA{
				R: scaleChannel(r, scale),
				G: scaleChannel(g, scale),
				B: scaleChannel(bl, scale),
				A: uint8(a >> 8),
			})
		}
	}
	return out
}

func scaleChannel(c uint32, scale float64) uint8 {
	v := float64(c>>8) * scale
	if v > 255 {
		v = 255
	}
	if v < 0 {
		v = 0
	}
	return uint8(v)
}

func gammaCorrect(img image.Image, gamma float64) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	invGamma := 1.0 / gamma
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			out.Set(x, y, color.RGBA{
				R: gammaChannel(r, invGamma),
				G: gammaChannel(g, invGamma),
				B: gammaChannel(bl, invGamma),
				A: uint8(a >> 8),
			})
		}
	}
	return out
}

func gammaChannel(c uint32, invGamma float64) uint8 {
	normalized := float64(c>>8) / 255
	corrected := math.Pow(normalized, invGamma)
	return uint8(clampFloat01(corrected) * 255)
}

func clampFloat01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
