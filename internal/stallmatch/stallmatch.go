// Package stallmatch matches detections to stall polygons by IoU, with
// dynamic confidence floors. Pure geometry over internal/configmodel.Rect's
// AABB form; see DESIGN.md for why no third-party library covers this.
package stallmatch

// Box is an axis-aligned detection or stall region (x1, y1, x2, y2).
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Detection is one accepted vehicle-detector output.
type Detection struct {
	Box        Box
	Confidence float64
}

// Match is the best detection found for a stall, or the zero value with
// Occupied=false when nothing qualifies.
type Match struct {
	Occupied   bool
	Detection  Detection
	IoU        float64
}

// FindMatch returns the detection with maximum IoU against stall, and
// whether it clears both the IoU floor (fixed at 0.3) and the caller's
// confidence floor (0.35 day / 0.25 night by default, chosen by
// internal/changeworker from the frame's day/night reading).
func FindMatch(stall Box, detections []Detection, minConfidence float64) Match {
	const minIoU = 0.3

	var best Match
	for _, d := range detections {
		iou := IoU(stall, d.Box)
		if iou > best.IoU {
			best = Match{Detection: d, IoU: iou}
		}
	}
	if best.IoU >= minIoU && best.Detection.Confidence >= minConfidence {
		best.Occupied = true
	}
	return best
}

// IoU computes intersection-over-union of two axis-aligned boxes.
func IoU(a, b Box) float64 {
	ix1, iy1 := maxF(a.X1, b.X1), maxF(a.Y1, b.Y1)
	ix2, iy2 := minF(a.X2, b.X2), minF(a.Y2, b.Y2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih

	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
