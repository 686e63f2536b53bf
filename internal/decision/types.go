// Package decision is the state-decision engine: the heart of the system.
// It follows a load-prior-state, compute-new-state, conditionally-emit
// pattern — "occupied/empty + arrive/leave" — including an optional
// consecutive-observation state lock to damp single-frame noise.
package decision

import (
	"time"

	"github.com/technosupport/parking-capture/internal/quality"
	"github.com/technosupport/parking-capture/internal/reid"
)

// ChangeType mirrors store.ChangeType without introducing a dependency
// from decision (pure logic) onto store (persistence). changeworker maps
// between the two.
type ChangeType string

const (
	ChangeNone   ChangeType = ""
	ChangeArrive ChangeType = "arrive"
	ChangeLeave  ChangeType = "leave"
)

// Box is an axis-aligned region in original-image pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b Box) width() float64 {
	return b.X2 - b.X1
}

// Input is everything the engine needs to decide one stall's next state.
type Input struct {
	CurrentHasCar     bool
	CurrentConfidence float64
	CurrentRegion     Box
	CurrentFeatures   *reid.Features

	// PriorHasCar is nil when there is no recorded history for this stall
	// (rule 1, "no history").
	PriorHasCar   *bool
	PriorFeatures *reid.Features
	PriorRegion   Box
	PriorTime     time.Time

	CurrentTime time.Time
	StallWidth  float64

	CurrentQuality  quality.Report
	PreviousQuality quality.Report

	// RecentOccupied holds the last StateLockFrames persisted occupied
	// flags for this stall, most-recent-first; empty when unavailable or
	// when state locking is disabled. Index 0 is the most recent frame
	// before the current one. internal/changeworker does not fill it, so
	// the state lock never engages in the change worker, even with
	// StateLockEnabled set.
	RecentOccupied []bool

	CrossDay        bool
	IntervalSeconds float64
}

// Output is the engine's verdict for one stall in one screenshot.
type Output struct {
	CurrOccupied bool
	Confidence   float64
	ChangeType   ChangeType
}
