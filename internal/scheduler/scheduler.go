// Package scheduler handles task provisioning, bounded parallel capture,
// and status reconciliation: a semaphore-gated dispatch loop per
// combination, backed by a fixed worker pool over a job channel.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/technosupport/parking-capture/internal/capture"
	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/logging"
	"github.com/technosupport/parking-capture/internal/metrics"
	"github.com/technosupport/parking-capture/internal/slicing"
	"github.com/technosupport/parking-capture/internal/store"
)

// ComboKey identifies one (date, base_url, channel) combination.
type ComboKey struct {
	Date    string
	BaseURL string
	Channel string
}

func (k ComboKey) String() string {
	return k.Date + "::" + k.BaseURL + "::" + k.Channel
}

// CaptureScheduler owns task provisioning and bounded-parallel capture runs
// for every (date, base_url, channel) combination.
type CaptureScheduler struct {
	db      store.Beginner
	batches store.BatchModel
	tasks   store.TaskModel
	shots   store.ScreenshotModel
	grabber *capture.Grabber
	cfg     config.Tunables
	lock    ComboLock
	log     logging.Logger

	comboSem chan struct{}
}

// New builds a CaptureScheduler. comboConcurrency/workersPerCombo of 0 mean
// "not yet auto-sized" — callers should run AutoSize first.
func New(db store.Beginner, tasks store.TaskModel, batches store.BatchModel, shots store.ScreenshotModel, grabber *capture.Grabber, cfg config.Tunables, lock ComboLock) *CaptureScheduler {
	comboConcurrency := cfg.MaxComboConcurrency
	if comboConcurrency <= 0 {
		comboConcurrency = 4
	}
	metrics.ComboSemaphorePermits.Set(float64(comboConcurrency))
	return &CaptureScheduler{
		db:       db,
		batches:  batches,
		tasks:    tasks,
		shots:    shots,
		grabber:  grabber,
		cfg:      cfg,
		lock:     lock,
		log:      logging.New("CaptureScheduler"),
		comboSem: make(chan struct{}, comboConcurrency),
	}
}

// EnsureTasks is idempotent: it creates the TaskBatch if needed and a Task
// row per slice only if that slice's (date, ip, channel, start_ts, end_ts)
// doesn't already exist. It never recreates or deletes existing slices.
func (s *CaptureScheduler) EnsureTasks(ctx context.Context, date, baseURL, ip, channel string, intervalMinutes int) error {
	slices, err := slicing.BuildSlices(date, intervalMinutes, baseURL, channel, nil)
	if err != nil {
		return err
	}
	dayStart, dayEnd, err := slicing.DayBounds(date, nil)
	if err != nil {
		return err
	}

	batch := &store.TaskBatch{
		Date: date, IP: ip, Channel: channel, BaseURL: baseURL,
		StartTS: dayStart, EndTS: dayEnd, IntervalMinutes: intervalMinutes,
	}
	if _, err := s.batches.GetOrCreate(ctx, batch); err != nil {
		return fmt.Errorf("ensure batch: %w", err)
	}

	created := 0
	for _, sl := range slices {
		exists, err := s.tasks.Exists(ctx, date, ip, channel, sl.StartTS, sl.EndTS)
		if err != nil {
			return fmt.Errorf("check existing task: %w", err)
		}
		if exists {
			continue
		}
		t := &store.Task{
			BatchID: batch.ID, Date: date, Index: sl.Index,
			StartTS: sl.StartTS, EndTS: sl.EndTS, ReplayURL: sl.ReplayURL,
			IP: ip, Channel: channel,
		}
		if err := s.tasks.Create(ctx, t); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		created++
	}
	if created > 0 {
		if err := s.batches.SetTaskCount(ctx, batch.ID, len(slices)); err != nil {
			return err
		}
	}
	return nil
}

// RunCombo executes every task of one combination, bounded by the
// process-wide combo semaphore, the in-flight combo key-set, and a
// per-combo worker pool. If the combination has no tasks yet it calls
// EnsureTasks once before giving up.
func (s *CaptureScheduler) RunCombo(ctx context.Context, date, baseURL, ip, channel string, intervalMinutes int) error {
	key := ComboKey{Date: date, BaseURL: baseURL, Channel: channel}
	if !s.lock.TryAcquire(key.String()) {
		return nil // already running elsewhere
	}
	defer s.lock.Release(key.String())

	select {
	case s.comboSem <- struct{}{}:
		defer func() { <-s.comboSem }()
	default:
		s.log.Printf("combo %s: combo semaphore full, skipping until the next tick", key)
		return nil
	}
	metrics.CombosRunning.Inc()
	defer metrics.CombosRunning.Dec()

	tasks, err := s.tasks.ListByCombo(ctx, date, ip, channel)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		if err := s.EnsureTasks(ctx, date, baseURL, ip, channel, intervalMinutes); err != nil {
			return err
		}
		tasks, err = s.tasks.ListByCombo(ctx, date, ip, channel)
		if err != nil {
			return fmt.Errorf("list tasks after ensure: %w", err)
		}
		if len(tasks) == 0 {
			return nil
		}
	}

	workers := s.cfg.MaxWorkersPerCombo
	if workers <= 0 {
		workers = 4
	}
	jobs := make(chan *store.Task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				s.runTask(ctx, t)
			}
		}()
	}
	for _, t := range tasks {
		if t.Status == store.TaskCompleted {
			continue
		}
		jobs <- t
	}
	close(jobs)
	wg.Wait()

	return s.closeBatchIfTerminal(ctx, tasks[0].BatchID)
}

// runTask captures and persists one slice, isolated in its own transaction.
func (s *CaptureScheduler) runTask(ctx context.Context, t *store.Task) {
	start := time.Now()
	if err := s.tasks.MarkPlaying(ctx, t.ID); err != nil {
		s.log.Printf("task %d: mark playing failed: %v", t.ID, err)
		return
	}

	destPath := filepath.Join(s.cfg.ScreenshotRoot, fmt.Sprintf("%s_%s_%d_%d.jpg", t.IP, t.Channel, t.StartTS.Unix(), t.EndTS.Unix()))
	captureCtx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout())
	result := s.grabber.Grab(captureCtx, t.ReplayURL, destPath)
	cancel()
	metrics.TaskCaptureSeconds.Observe(time.Since(start).Seconds())

	if !result.Success {
		metrics.TasksTotal.WithLabelValues("failed").Inc()
		s.recordFailure(ctx, t, result.Error)
		return
	}
	metrics.TasksTotal.WithLabelValues("completed").Inc()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Printf("task %d: begin tx failed: %v", t.ID, err)
		s.recordFailure(ctx, t, err.Error())
		return
	}
	defer tx.Rollback()
	if err := (store.ScreenshotModel{DB: tx}).Upsert(ctx, &store.Screenshot{TaskID: t.ID, FilePath: destPath}); err != nil {
		s.log.Printf("task %d: screenshot upsert failed: %v", t.ID, err)
		s.recordFailure(ctx, t, err.Error())
		return
	}
	if err := (store.TaskModel{DB: tx}).MarkCompleted(ctx, t.ID, destPath); err != nil {
		s.log.Printf("task %d: mark completed failed: %v", t.ID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		s.log.Printf("task %d: commit failed: %v", t.ID, err)
	}
}

func (s *CaptureScheduler) upsertScreenshot(ctx context.Context, taskID int64, path string) error {
	shot := &store.Screenshot{TaskID: taskID, FilePath: path}
	return s.shots.Upsert(ctx, shot)
}

// recordFailure applies the retry-time backoff policy. retry_count is not
// touched here: it is incremented exactly once, at the moment a retry
// attempt is dispatched (see TaskModel.MarkRetrying), not again on a
// renewed failure of that same attempt.
func (s *CaptureScheduler) recordFailure(ctx context.Context, t *store.Task, errMsg string) {
	retryCount := t.RetryCount
	var nextRetryAt *time.Time
	now := time.Now()
	var next time.Time
	if now.Before(t.EndTS) {
		next = t.EndTS.Add(time.Hour)
	} else {
		next = now.Add(time.Hour)
	}
	nextRetryAt = &next
	if err := s.tasks.MarkFailed(ctx, t.ID, errMsg, retryCount, nextRetryAt); err != nil {
		s.log.Printf("task %d: mark failed write failed: %v", t.ID, err)
	}
}

// closeBatchIfTerminal implements the batch-close rule: if every task is
// terminal, move the batch to completed/failed/partial_failed.
func (s *CaptureScheduler) closeBatchIfTerminal(ctx context.Context, batchID int64) error {
	allTerminal, anyFailed, err := s.tasks.AllTerminal(ctx, batchID)
	if err != nil {
		return err
	}
	if !allTerminal {
		return nil
	}
	status := store.BatchCompleted
	if anyFailed {
		tasks, err := s.tasks.ListByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		allFailed := true
		for _, t := range tasks {
			if t.Status != store.TaskFailed {
				allFailed = false
				break
			}
		}
		if allFailed {
			status = store.BatchFailed
		} else {
			status = store.BatchPartialFailed
		}
	}
	return s.batches.SetStatus(ctx, batchID, status)
}

// ReconcileStatuses forces any task with a saved screenshot but a
// non-completed status back to completed, then re-evaluates its batch.
func (s *CaptureScheduler) ReconcileStatuses(ctx context.Context, limit int) error {
	inconsistent, err := s.tasks.ListInconsistent(ctx, limit)
	if err != nil {
		return err
	}
	seenBatches := map[int64]bool{}
	for _, t := range inconsistent {
		if err := s.tasks.ForceCompleted(ctx, t.ID); err != nil {
			s.log.Printf("task %d: force completed failed: %v", t.ID, err)
			continue
		}
		seenBatches[t.BatchID] = true
	}
	for batchID := range seenBatches {
		if err := s.closeBatchIfTerminal(ctx, batchID); err != nil {
			s.log.Printf("batch %d: close check failed: %v", batchID, err)
		}
	}
	return nil
}

// RetryFailed implements the hourly retry_failed loop.
func (s *CaptureScheduler) RetryFailed(ctx context.Context, limit int) error {
	now := time.Now()
	tasks, err := s.tasks.ListRetryable(ctx, now, limit)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.NextRetryAt == nil {
			next := now.Add(time.Hour)
			if err := s.tasks.InitRetryTimer(ctx, t.ID, next); err != nil {
				s.log.Printf("task %d: init retry timer failed: %v", t.ID, err)
			}
			continue
		}
		retryCount, err := s.tasks.MarkRetrying(ctx, t.ID)
		if err != nil {
			s.log.Printf("task %d: mark retrying failed: %v", t.ID, err)
			continue
		}
		t.RetryCount = retryCount
		t.Status = store.TaskPlaying
		t.NextRetryAt = nil
		s.runTask(ctx, t)
	}
	return nil
}
