package capture

import (
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	ximage "golang.org/x/image/draw"
)

// TargetWidth/TargetHeight are the fixed output resolution every persisted
// screenshot must match.
const (
	TargetWidth  = 1920
	TargetHeight = 1080
)

// Normalize resizes src to exactly TargetWidth x TargetHeight: a direct
// scale if the aspect ratio already matches, otherwise a centered
// equal-aspect scale padded onto a black canvas.
func Normalize(src image.Image) *image.RGBA {
	sb := src.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()
	if srcW == 0 || srcH == 0 {
		return image.NewRGBA(image.Rect(0, 0, TargetWidth, TargetHeight))
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(TargetWidth) / float64(TargetHeight)

	dst := image.NewRGBA(image.Rect(0, 0, TargetWidth, TargetHeight))

	const aspectTolerance = 0.01
	if absFloat(srcAspect-dstAspect) <= aspectTolerance {
		ximage.CatmullRom.Scale(dst, dst.Bounds(), src, sb, ximage.Over, nil)
		return dst
	}

	// Letterbox: fill black, then scale preserving aspect and center it.
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	scale := float64(TargetWidth) / float64(srcW)
	if float64(srcH)*scale > float64(TargetHeight) {
		scale = float64(TargetHeight) / float64(srcH)
	}
	scaledW := int(float64(srcW)*scale + 0.5)
	scaledH := int(float64(srcH)*scale + 0.5)
	offsetX := (TargetWidth - scaledW) / 2
	offsetY := (TargetHeight - scaledH) / 2

	target := image.Rect(offsetX, offsetY, offsetX+scaledW, offsetY+scaledH)
	ximage.CatmullRom.Scale(dst, target, src, sb, ximage.Over, nil)
	return dst
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// EncodeJPEG writes img as a baseline JPEG at the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}
