package changeworker

import (
	"context"
	"database/sql"
	"image"

	"github.com/technosupport/parking-capture/internal/configmodel"
	"github.com/technosupport/parking-capture/internal/decision"
	"github.com/technosupport/parking-capture/internal/detect"
	"github.com/technosupport/parking-capture/internal/quality"
	"github.com/technosupport/parking-capture/internal/reid"
	"github.com/technosupport/parking-capture/internal/stallmatch"
	"github.com/technosupport/parking-capture/internal/store"
)

// evaluateStall matches a detection against the stall's region, loads the
// prior recorded state, extracts re-identification features, and hands
// everything to decision.Evaluate. It returns the decision output, the
// features extracted from the current frame (if any), and the
// prior-occupied flag actually used (for persistence).
func (w *Worker) evaluateStall(
	ctx context.Context,
	tx *sql.Tx,
	channel configmodel.Channel,
	stall configmodel.Stall,
	detections []stallmatch.Detection,
	img image.Image,
	q quality.Report,
	s *store.Screenshot,
) (decision.Output, *reid.Features, *bool, error) {
	x1, y1, x2, y2 := stall.Region.AABB()
	stallBox := stallmatch.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}

	confFloor := w.cfg.MinMatchConfDay
	if q.DayNight == quality.Night {
		confFloor = w.cfg.MinMatchConfNight
	}
	match := stallmatch.FindMatch(stallBox, detections, confFloor)

	var curFeatures *reid.Features
	var curRegion decision.Box
	if match.Occupied {
		curRegion = decision.Box{X1: match.Detection.Box.X1, Y1: match.Detection.Box.Y1, X2: match.Detection.Box.X2, Y2: match.Detection.Box.Y2}
		f := detect.ExtractFeatures(img, detect.Box{X1: match.Detection.Box.X1, Y1: match.Detection.Box.Y1, X2: match.Detection.Box.X2, Y2: match.Detection.Box.Y2})
		curFeatures = &f
	}

	prior, found, err := (store.ParkingChangeModel{DB: tx}).LatestPriorChange(ctx, channel.Code, stall.ID, s.CreatedAt, w.cfg.MaxTimeGap())
	if err != nil {
		return decision.Output{}, nil, nil, err
	}

	in := decision.Input{
		CurrentHasCar:     match.Occupied,
		CurrentConfidence: match.Detection.Confidence,
		CurrentRegion:     curRegion,
		CurrentFeatures:   curFeatures,
		CurrentTime:       s.CreatedAt,
		StallWidth:        stallBox.X2 - stallBox.X1,
		CurrentQuality: q,
		// Quality is not a persisted column on ParkingChange, so the prior
		// frame's own reading is unavailable here; using the current
		// frame's reading for both sides is conservative, since the
		// "both dark"/"both bad weather" widenings in dynamicThreshold
		// only make the threshold easier to satisfy, never harder.
		PreviousQuality: q,
	}

	var priorOccupied *bool
	if found {
		occ := prior.CurrOccupied
		priorOccupied = &occ
		in.PriorHasCar = &occ
		in.PriorFeatures = decodeFeatures(prior.VehicleFeatures)
		in.PriorRegion = decision.Box{} // original detection box is not retained; only features drive re-id
		in.PriorTime = prior.DetectedAt
		in.IntervalSeconds = s.CreatedAt.Sub(prior.DetectedAt).Seconds()
		in.CrossDay = s.CreatedAt.Format("2006-01-02") != prior.DetectedAt.Format("2006-01-02")
	}

	out := decision.Evaluate(w.cfg, in)
	return out, curFeatures, priorOccupied, nil
}
