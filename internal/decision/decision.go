package decision

import (
	"math"

	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/reid"
)

// Evaluate applies the arrive/leave decision rules, in order, for one stall.
func Evaluate(t config.Tunables, in Input) Output {
	// Rule 1: no history.
	if in.PriorHasCar == nil {
		conf := 0.0
		if in.CurrentHasCar {
			conf = 0.8
		}
		return Output{CurrOccupied: in.CurrentHasCar, Confidence: conf, ChangeType: ChangeNone}
	}
	priorOccupied := *in.PriorHasCar

	if locked, ok := stateLock(t, in); ok && locked && !in.CurrentHasCar {
		// State lock forces "still occupied" regardless of the current
		// empty reading, unless enough consecutive empties have landed.
		return Output{CurrOccupied: true, Confidence: in.CurrentConfidence * 0.5, ChangeType: ChangeNone}
	}

	if !in.CurrentHasCar {
		return evaluateEmpty(t, in)
	}
	return evaluateOccupied(t, in, priorOccupied)
}

// evaluateEmpty handles rules 2 and 3: current frame shows no car.
func evaluateEmpty(t config.Tunables, in Input) Output {
	if !*in.PriorHasCar {
		return Output{CurrOccupied: false, Confidence: 0.8, ChangeType: ChangeNone}
	}

	if in.CurrentQuality.InterferenceLevel == "high" && t.HighRobustnessMode {
		return Output{CurrOccupied: true, Confidence: in.CurrentConfidence * 0.5, ChangeType: ChangeNone}
	}

	return Output{CurrOccupied: false, Confidence: 0.7, ChangeType: ChangeLeave}
}

// evaluateOccupied handles rule 4: current frame shows a car.
func evaluateOccupied(t config.Tunables, in Input, priorOccupied bool) Output {
	confFloor := t.MinYoloConfForChange
	if in.CurrentQuality.Brightness < 80 {
		confFloor = math.Max(0.40, 0.80*t.MinYoloConfForChange)
	}

	if in.CurrentConfidence < confFloor {
		// Observation too unreliable to use for re-identification.
		if priorOccupied {
			return Output{CurrOccupied: true, Confidence: in.CurrentConfidence, ChangeType: ChangeNone}
		}
		// Prior was empty: a low-confidence reading must not flip the
		// stall to occupied, or a later frame has to tear it down again
		// with a spurious leave.
		return Output{CurrOccupied: false, Confidence: in.CurrentConfidence * 0.5, ChangeType: ChangeNone}
	}

	if !priorOccupied {
		conf := 0.6
		if in.CurrentFeatures != nil {
			conf = 0.8
		}
		return Output{CurrOccupied: true, Confidence: conf, ChangeType: ChangeArrive}
	}

	if in.CurrentFeatures == nil || in.PriorFeatures == nil {
		// Missing features on either side: preserve prior occupancy.
		return Output{CurrOccupied: true, Confidence: 0.5, ChangeType: ChangeNone}
	}

	similarity := reid.Similarity(*in.CurrentFeatures, *in.PriorFeatures)
	threshold := dynamicThreshold(t, in)

	if similarity >= threshold {
		return Output{CurrOccupied: true, Confidence: similarity, ChangeType: ChangeNone}
	}

	if stateContinuationProtects(t, in, similarity, threshold) {
		return Output{CurrOccupied: true, Confidence: similarity, ChangeType: ChangeNone}
	}

	// Vehicle swap: stall stays occupied, but no arrival event since the
	// stall was never actually vacated.
	return Output{CurrOccupied: true, Confidence: in.CurrentConfidence, ChangeType: ChangeNone}
}

// stateContinuationProtects implements the short-gap, small-movement,
// near-threshold carve-out that keeps a momentarily-misdetected same car
// from being treated as a swap.
func stateContinuationProtects(t config.Tunables, in Input, similarity, threshold float64) bool {
	dt := in.CurrentTime.Sub(in.PriorTime).Seconds()
	if dt < 0 {
		dt = -dt
	}
	if dt > t.StateContinuationTimeSec {
		return false
	}

	if in.StallWidth <= 0 {
		return false
	}
	cx1, cy1 := in.CurrentRegion.center()
	cx2, cy2 := in.PriorRegion.center()
	dist := math.Hypot(cx1-cx2, cy1-cy2)
	if dist/in.StallWidth >= t.StateContinuationPosition {
		return false
	}

	margin := t.StateContinuationMargin
	if isDark(in.CurrentQuality) && isDark(in.PreviousQuality) {
		margin *= 1.5
	}
	return similarity >= threshold-margin
}

// stateLock implements the optional consecutive-observation lock: if the
// last StateLockFrames recorded observations were all occupied, a single
// empty frame cannot unlock the stall; StateUnlockFrames consecutive
// empty frames are required. Runs before rule 2.
func stateLock(t config.Tunables, in Input) (locked bool, applicable bool) {
	if !t.StateLockEnabled {
		return false, false
	}
	if len(in.RecentOccupied) < t.StateLockFrames {
		return false, false
	}
	for i := 0; i < t.StateLockFrames; i++ {
		if !in.RecentOccupied[i] {
			return false, true
		}
	}

	// Locked. Check whether enough consecutive empties have accumulated to
	// unlock, counting the current frame first — RecentOccupied holds only
	// prior frames.
	consecutiveEmpty := 0
	if !in.CurrentHasCar {
		consecutiveEmpty = 1
	}
	for _, occupied := range in.RecentOccupied {
		if occupied {
			break
		}
		consecutiveEmpty++
	}
	if consecutiveEmpty >= t.StateUnlockFrames {
		return false, true
	}
	return true, true
}
