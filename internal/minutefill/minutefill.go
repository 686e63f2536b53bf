// Package minutefill is the minute back-fill worker: for every completed
// capture task, it produces up to ceil((end-start)/60) minute-granularity
// screenshots for forensic drill-down, over a bounded worker pool sized
// independently of the main capture scheduler's.
package minutefill

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/technosupport/parking-capture/internal/capture"
	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/logging"
	"github.com/technosupport/parking-capture/internal/metrics"
	"github.com/technosupport/parking-capture/internal/slicing"
	"github.com/technosupport/parking-capture/internal/store"
)

// Worker is one minute_fill scanner plus its bounded capture pool.
type Worker struct {
	tasks   store.TaskModel
	batches store.BatchModel
	minutes store.MinuteScreenshotModel
	grabber *capture.Grabber
	cfg     config.Tunables
	log     logging.Logger
}

func New(tasks store.TaskModel, batches store.BatchModel, minutes store.MinuteScreenshotModel, grabber *capture.Grabber, cfg config.Tunables) *Worker {
	return &Worker{tasks: tasks, batches: batches, minutes: minutes, grabber: grabber, cfg: cfg, log: logging.New("MinuteFill")}
}

// RunOnce scans at most FillLimit recently completed tasks, preferring the
// most recent date, and back-fills any task whose minute count is short.
func (w *Worker) RunOnce(ctx context.Context) error {
	limit := w.cfg.FillLimit
	if limit <= 0 {
		limit = 50
	}
	tasks, err := w.tasks.ListRecentCompleted(ctx, limit)
	if err != nil {
		return fmt.Errorf("list recent completed: %w", err)
	}
	metrics.MinuteFillQueueDepth.Set(float64(len(tasks)))

	workers := w.cfg.MinuteScreenshotWorkers
	if workers <= 0 {
		workers = 4
	}
	jobs := make(chan *store.Task)
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for t := range jobs {
				w.fillTask(ctx, t)
				metrics.MinuteFillQueueDepth.Dec()
			}
			done <- struct{}{}
		}()
	}
	for _, t := range tasks {
		jobs <- t
	}
	close(jobs)
	for i := 0; i < workers; i++ {
		<-done
	}
	return nil
}

// fillTask applies the skip gate, then walks the task's minute range,
// capturing any minute not already completed.
func (w *Worker) fillTask(ctx context.Context, t *store.Task) {
	gated, err := w.shouldSkip(ctx, t)
	if err != nil {
		w.log.Printf("task %d: gate check failed: %v", t.ID, err)
		return
	}
	if gated {
		return
	}

	expected := expectedMinutes(t.StartTS, t.EndTS)
	completed, err := w.minutes.CountCompleted(ctx, t.ID)
	if err != nil {
		w.log.Printf("task %d: count completed failed: %v", t.ID, err)
		return
	}
	if completed >= expected {
		return
	}

	baseURL, channel, _, _, err := slicing.ParseReplayURL(t.ReplayURL)
	if err != nil {
		w.log.Printf("task %d: cannot recover base url from %q: %v", t.ID, t.ReplayURL, err)
		return
	}

	for idx := 0; idx < expected; idx++ {
		minuteStart := t.StartTS.Add(time.Duration(idx) * time.Minute)
		minuteEnd := minuteStart.Add(time.Minute)
		if minuteEnd.After(t.EndTS) {
			minuteEnd = t.EndTS
		}

		row, err := w.minutes.EnsureRow(ctx, t.ID, idx, minuteStart, minuteEnd)
		if err != nil {
			w.log.Printf("task %d minute %d: ensure row failed: %v", t.ID, idx, err)
			continue
		}
		if row.Status == store.MinuteCompleted {
			continue
		}

		if err := w.minutes.MarkProcessing(ctx, row.ID); err != nil {
			w.log.Printf("task %d minute %d: mark processing failed: %v", t.ID, idx, err)
			continue
		}

		innerURL := slicing.MinuteReplayURL(baseURL, channel, minuteStart.Unix(), minuteEnd.Unix())
		destPath := filepath.Join(w.cfg.ScreenshotRoot, fmt.Sprintf("%s_%s_%d_%d_min.jpg", t.IP, channel, minuteStart.Unix(), minuteEnd.Unix()))

		captureCtx, cancel := context.WithTimeout(ctx, w.cfg.CaptureTimeout())
		result := w.grabber.Grab(captureCtx, innerURL, destPath)
		cancel()

		if !result.Success {
			metrics.MinuteFillTotal.WithLabelValues("failed").Inc()
			if err := w.minutes.MarkFailed(ctx, row.ID, result.Error); err != nil {
				w.log.Printf("task %d minute %d: mark failed write failed: %v", t.ID, idx, err)
			}
			continue
		}
		metrics.MinuteFillTotal.WithLabelValues("completed").Inc()
		if err := w.minutes.MarkCompleted(ctx, row.ID, destPath); err != nil {
			w.log.Printf("task %d minute %d: mark completed write failed: %v", t.ID, idx, err)
		}
	}
}

// shouldSkip implements the gate: the owning batch must be terminal, or
// the task itself must be completed; never block, a later tick retries.
func (w *Worker) shouldSkip(ctx context.Context, t *store.Task) (bool, error) {
	if t.Status == store.TaskCompleted {
		return false, nil
	}
	batch, err := w.batches.GetByID(ctx, t.BatchID)
	if err != nil {
		return false, err
	}
	terminal := batch.Status == store.BatchCompleted || batch.Status == store.BatchFailed || batch.Status == store.BatchPartialFailed
	return !terminal, nil
}

func expectedMinutes(start, end time.Time) int {
	seconds := end.Sub(start).Seconds()
	n := int(seconds) / 60
	if int(seconds)%60 != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
