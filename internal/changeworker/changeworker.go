// Package changeworker is a long-running process that pulls pending
// screenshots and drives the quality/detect/match/decide pipeline,
// persisting per-stall rows and snapshot rows: load prior state, compute,
// conditionally persist, per screenshot.
package changeworker

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/configmodel"
	"github.com/technosupport/parking-capture/internal/decision"
	"github.com/technosupport/parking-capture/internal/detect"
	"github.com/technosupport/parking-capture/internal/logging"
	"github.com/technosupport/parking-capture/internal/metrics"
	"github.com/technosupport/parking-capture/internal/quality"
	"github.com/technosupport/parking-capture/internal/reid"
	"github.com/technosupport/parking-capture/internal/stallmatch"
	"github.com/technosupport/parking-capture/internal/store"
)

// ChannelLookup resolves the config_model.Channel a Task belongs to, by
// (ip, channel code). The core has no notion of a channel's stalls on its
// own — that lives in the externally-owned parking-lot configuration.
type ChannelLookup interface {
	Lookup(ip, channelCode string) (configmodel.Channel, bool)
}

// ChangeEvent is the fan-out notification for one emitted arrive/leave.
type ChangeEvent struct {
	IP          string
	ChannelCode string
	SpaceID     string
	SpaceName   string
	ChangeType  decision.ChangeType
	Confidence  float64
	DetectedAt  time.Time
}

// ChangePublisher fans out emitted changes to the outside world. Left
// unset, a Worker simply doesn't publish — cmd/captured wires the
// NATS-backed implementation in.
type ChangePublisher interface {
	Publish(ev ChangeEvent) error
}

// Worker is one parking_change_detector loop instance.
type Worker struct {
	db        *sql.DB
	cfg       config.Tunables
	channels  ChannelLookup
	detector  *detect.Detector
	log       logging.Logger
	Publisher ChangePublisher

	batches        store.BatchModel
	tasks          store.TaskModel
	screenshots    store.ScreenshotModel
	parkingChanges store.ParkingChangeModel

	// priorCache is allocated by New but not read or written anywhere;
	// every stall evaluation queries LatestPriorChange directly.
	priorCache *lru.Cache[string, cachedPrior]
}

type cachedPrior struct {
	hasCar     bool
	recordedAt time.Time
}

// New builds a Worker. Screenshot file paths are opened as stored on the
// Screenshot row (the scheduler already joins cfg.ScreenshotRoot into them).
func New(db *sql.DB, cfg config.Tunables, channels ChannelLookup, detector *detect.Detector) *Worker {
	cache, _ := lru.New[string, cachedPrior](4096)
	return &Worker{
		db:             db,
		cfg:            cfg,
		channels:       channels,
		detector:       detector,
		log:            logging.New("ParkingChangeDetector"),
		batches:        store.BatchModel{DB: db},
		tasks:          store.TaskModel{DB: db},
		screenshots:    store.ScreenshotModel{DB: db},
		parkingChanges: store.ParkingChangeModel{DB: db},
		priorCache:     cache,
	}
}

// RunOnce performs one backfill-then-process tick.
func (w *Worker) RunOnce(ctx context.Context, backfillLimit, batchSize int) {
	if n, err := w.screenshots.MarkLegacyPending(ctx, backfillLimit); err != nil {
		w.log.Printf("legacy backfill scan failed: %v", err)
	} else if n > 0 {
		w.log.Printf("backfilled %d legacy screenshots to pending", n)
	}

	if pending, err := w.screenshots.CountPending(ctx); err == nil {
		metrics.ChangeWorkerBacklog.Set(float64(pending))
	}

	shots, err := w.screenshots.ClaimPendingBatch(ctx, batchSize)
	if err != nil {
		w.log.Printf("claim pending batch failed: %v", err)
		return
	}

	for _, s := range shots {
		if err := w.processScreenshot(ctx, s); err != nil {
			w.log.Printf("screenshot %d failed: %v", s.ID, err)
			if markErr := w.screenshots.MarkFailed(ctx, s.ID, err.Error()); markErr != nil {
				w.log.Printf("failed to record failure for screenshot %d: %v", s.ID, markErr)
			}
		}
	}
}

// processScreenshot runs the full quality/detect/match/decide pipeline and
// persists its result inside one transaction.
func (w *Worker) processScreenshot(ctx context.Context, s *store.Screenshot) error {
	task, err := w.tasks.GetByID(ctx, s.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	channel, ok := w.channels.Lookup(task.IP, task.Channel)
	if !ok {
		return fmt.Errorf("no channel configuration for %s/%s", task.IP, task.Channel)
	}

	img, err := loadImage(s.FilePath)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	qualityReport := quality.Analyze(img, quality.Thresholds{
		BrightnessLow:    w.cfg.BrightnessLow,
		BrightnessHigh:   w.cfg.BrightnessHigh,
		ClarityThreshold: w.cfg.ClarityThreshold,
	}, s.CreatedAt.Hour())

	detections, err := w.detector.Detect(s.FilePath, qualityReport.Brightness)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	stallDetections := make([]stallmatch.Detection, 0, len(detections))
	for _, d := range detections {
		stallDetections = append(stallDetections, stallmatch.Detection{
			Box:        stallmatch.Box{X1: d.Box.X1, Y1: d.Box.Y1, X2: d.Box.X2, Y2: d.Box.Y2},
			Confidence: d.Confidence,
		})
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	txParkingChanges := store.ParkingChangeModel{DB: tx}

	changedCount := 0
	var emitted []ChangeEvent
	for _, stall := range channel.Stalls {
		out, detectedFeatures, priorOccupied, err := w.evaluateStall(ctx, tx, channel, stall, stallDetections, img, qualityReport, s)
		if err != nil {
			return fmt.Errorf("evaluate stall %s: %w", stall.ID, err)
		}

		pc := &store.ParkingChange{
			TaskID:          task.ID,
			ScreenshotID:    s.ID,
			ChannelConfigID: channel.Code,
			SpaceID:         stall.ID,
			SpaceName:       stall.Name,
			PrevOccupied:    priorOccupied,
			CurrOccupied:    out.CurrOccupied,
			DetectedAt:      s.CreatedAt,
		}
		if out.Confidence > 0 || out.CurrOccupied {
			c := out.Confidence
			pc.DetectionConfidence = &c
		}
		if out.ChangeType != decision.ChangeNone {
			pc.ChangeType = store.ChangeType(out.ChangeType)
			changedCount++
			metrics.ParkingChangesTotal.WithLabelValues(string(out.ChangeType)).Inc()
			emitted = append(emitted, ChangeEvent{
				IP: task.IP, ChannelCode: channel.Code, SpaceID: stall.ID, SpaceName: stall.Name,
				ChangeType: out.ChangeType, Confidence: out.Confidence, DetectedAt: s.CreatedAt,
			})
		}
		pc.VehicleFeatures = encodeFeatures(detectedFeatures)

		if err := txParkingChanges.Insert(ctx, tx, pc); err != nil {
			return fmt.Errorf("insert parking change: %w", err)
		}

		if out.CurrOccupied {
			if err := w.revokeFalseLeave(ctx, tx, channel.Code, stall.ID, s.CreatedAt); err != nil {
				return fmt.Errorf("revoke false leave: %w", err)
			}
		}
	}

	if changedCount > 0 {
		snap := &store.ParkingChangeSnapshot{
			TaskID:          task.ID,
			ScreenshotID:    s.ID,
			ChannelConfigID: channel.Code,
			IP:              task.IP,
			ChannelCode:     channel.Code,
			ParkingName:     channel.Name,
			ChangeCount:     changedCount,
			DetectedAt:      s.CreatedAt,
		}
		if err := txParkingChanges.UpsertSnapshot(ctx, tx, snap); err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
	}

	if err := w.screenshots.MarkDone(ctx, tx, s.ID); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Publish only after the transaction is durable — a rolled-back
	// change must never be announced.
	if w.Publisher != nil {
		for _, ev := range emitted {
			if err := w.Publisher.Publish(ev); err != nil {
				w.log.Printf("publish change (%s/%s) failed: %v", ev.ChannelCode, ev.SpaceID, err)
			}
		}
	}
	return nil
}

// revokeFalseLeave implements the delayed-confirmation rule: for a stall
// now occupied, find a `leave` dated 5-15 minutes earlier and undo it.
func (w *Worker) revokeFalseLeave(ctx context.Context, tx *sql.Tx, channelCode, spaceID string, now time.Time) error {
	pcModel := store.ParkingChangeModel{DB: tx}
	candidate, err := pcModel.FindRevocableLeave(ctx, tx, channelCode, spaceID, now, w.cfg.FalseLeaveWindowMin(), w.cfg.FalseLeaveWindowMax())
	if err != nil {
		return err
	}
	if candidate == nil {
		return nil
	}
	if err := pcModel.RevokeLeave(ctx, tx, candidate.ID); err != nil {
		return err
	}
	if err := pcModel.DecrementSnapshot(ctx, tx, candidate.ScreenshotID); err != nil {
		return err
	}
	metrics.FalseLeaveRevocations.Inc()
	return nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func encodeFeatures(f *reid.Features) []byte {
	if f == nil {
		return nil
	}
	// Opaque blob: a compact fixed-layout encoding is sufficient since only
	// this package's own decode path reads it back.
	buf := make([]byte, 0, 32*8*2+16)
	for _, v := range f.HueHist {
		buf = appendFloat64(buf, v)
	}
	for _, v := range f.SatHist {
		buf = appendFloat64(buf, v)
	}
	buf = appendFloat64(buf, f.AspectRatio)
	if f.HasRearWiper {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeFeatures(blob []byte) *reid.Features {
	const histBytes = 32 * 8
	if len(blob) < 2*histBytes+8+1 {
		return nil
	}
	var f reid.Features
	off := 0
	for i := range f.HueHist {
		f.HueHist[i] = readFloat64(blob[off:])
		off += 8
	}
	for i := range f.SatHist {
		f.SatHist[i] = readFloat64(blob[off:])
		off += 8
	}
	f.AspectRatio = readFloat64(blob[off:])
	off += 8
	f.HasRearWiper = blob[off] == 1
	return &f
}
