package reid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func uniformHist() [32]float64 {
	var h [32]float64
	for i := range h {
		h[i] = 1.0 / 32
	}
	return h
}

func TestSimilarity_IdenticalFeaturesIsOne(t *testing.T) {
	f := Features{HueHist: uniformHist(), SatHist: uniformHist(), AspectRatio: 1.5, HasRearWiper: true}
	require.InDelta(t, 1.0, Similarity(f, f), 1e-9)
}

func TestSimilarity_DifferentHueModeLowersScore(t *testing.T) {
	var redHist, blueHist [32]float64
	redHist[2] = 1.0
	blueHist[20] = 1.0

	cur := Features{HueHist: redHist, SatHist: uniformHist(), AspectRatio: 1.5, HasRearWiper: true}
	prev := Features{HueHist: blueHist, SatHist: uniformHist(), AspectRatio: 1.5, HasRearWiper: true}

	s := Similarity(cur, prev)
	require.Less(t, s, 0.8)
}

func TestSimilarity_IsBoundedToUnitInterval(t *testing.T) {
	var h1, h2 [32]float64
	h1[0] = 1.0
	h2[31] = 1.0
	f1 := Features{HueHist: h1, SatHist: h1, AspectRatio: 0.1, HasRearWiper: false}
	f2 := Features{HueHist: h2, SatHist: h2, AspectRatio: 10, HasRearWiper: true}

	s := Similarity(f1, f2)
	require.GreaterOrEqual(t, s, 0.0)
	require.LessOrEqual(t, s, 1.0)
}
