package stallmatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIoU_IdenticalBoxes(t *testing.T) {
	b := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	require.InDelta(t, 1.0, IoU(b, b), 1e-9)
}

func TestIoU_NonOverlapping(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 20, Y1: 20, X2: 30, Y2: 30}
	require.Equal(t, 0.0, IoU(a, b))
}

func TestFindMatch_RespectsConfidenceFloor(t *testing.T) {
	stall := Box{X1: 100, Y1: 200, X2: 400, Y2: 350}
	dets := []Detection{{Box: Box{X1: 110, Y1: 210, X2: 390, Y2: 340}, Confidence: 0.2}}

	dayMatch := FindMatch(stall, dets, 0.35)
	require.False(t, dayMatch.Occupied)

	nightMatch := FindMatch(stall, dets, 0.1)
	require.True(t, nightMatch.Occupied)
}

func TestFindMatch_PicksHighestIoU(t *testing.T) {
	stall := Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	dets := []Detection{
		{Box: Box{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.9},
		{Box: Box{X1: 0, Y1: 0, X2: 100, Y2: 100}, Confidence: 0.9},
	}
	m := FindMatch(stall, dets, 0.35)
	require.True(t, m.Occupied)
	require.InDelta(t, 1.0, m.IoU, 1e-9)
}
