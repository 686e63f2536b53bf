package scheduler

import (
	"context"
	"time"

	"github.com/technosupport/parking-capture/internal/changeworker"
	"github.com/technosupport/parking-capture/internal/logging"
	"github.com/technosupport/parking-capture/internal/minutefill"
)

// Loops runs the four periodic background loops for the life of the
// process: one goroutine per loop, a ticker, a done channel, errors logged
// and swallowed so a single
// bad tick never aborts the process.
type Loops struct {
	capture *CaptureScheduler
	fill    *minutefill.Worker
	changes *changeworker.Worker
	combos  ComboSource
	cfg     LoopIntervals
	log     logging.Logger
}

// ComboSource enumerates distinct (date, base_url, ip, channel, interval)
// combinations currently known to have pending or playing tasks.
type ComboSource interface {
	PendingCombos(ctx context.Context, limit int) ([]Combo, error)
}

// Combo is one schedulable (date, base_url, channel) unit.
type Combo struct {
	Date            string
	BaseURL         string
	IP              string
	Channel         string
	IntervalMinutes int
}

// LoopIntervals overrides the default tick periods; zero values use the
// package defaults.
type LoopIntervals struct {
	PendingRunner          time.Duration
	FailedTaskRetry        time.Duration
	MinuteFill             time.Duration
	ParkingChangeDetector  time.Duration
}

func (l LoopIntervals) withDefaults() LoopIntervals {
	if l.PendingRunner == 0 {
		l.PendingRunner = 5 * time.Second
	}
	if l.FailedTaskRetry == 0 {
		l.FailedTaskRetry = time.Hour
	}
	if l.MinuteFill == 0 {
		l.MinuteFill = 120 * time.Second
	}
	if l.ParkingChangeDetector == 0 {
		l.ParkingChangeDetector = 5 * time.Second
	}
	return l
}

// NewLoops builds the loop runner.
func NewLoops(cap *CaptureScheduler, fill *minutefill.Worker, changes *changeworker.Worker, combos ComboSource, intervals LoopIntervals) *Loops {
	return &Loops{
		capture: cap,
		fill:    fill,
		changes: changes,
		combos:  combos,
		cfg:     intervals.withDefaults(),
		log:     logging.New("Loops"),
	}
}

// Start launches all four loops as goroutines; they run until ctx is
// cancelled.
func (l *Loops) Start(ctx context.Context) {
	go l.pendingRunner(ctx)
	go l.failedTaskRetry(ctx)
	go l.minuteFill(ctx)
	go l.parkingChangeDetector(ctx)
}

func (l *Loops) pendingRunner(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PendingRunner)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			combos, err := l.combos.PendingCombos(ctx, 100)
			if err != nil {
				l.log.Printf("pending_runner: list combos failed: %v", err)
				continue
			}
			for _, c := range combos {
				combo := c
				go func() {
					if err := l.capture.RunCombo(ctx, combo.Date, combo.BaseURL, combo.IP, combo.Channel, combo.IntervalMinutes); err != nil {
						l.log.Printf("pending_runner: run_combo(%s/%s/%s) failed: %v", combo.Date, combo.IP, combo.Channel, err)
					}
				}()
			}
		}
	}
}

func (l *Loops) failedTaskRetry(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.FailedTaskRetry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.capture.RetryFailed(ctx, 500); err != nil {
				l.log.Printf("failed_task_retry: %v", err)
			}
		}
	}
}

func (l *Loops) minuteFill(ctx context.Context) {
	l.runMinuteFillOnce(ctx)
	ticker := time.NewTicker(l.cfg.MinuteFill)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runMinuteFillOnce(ctx)
		}
	}
}

func (l *Loops) runMinuteFillOnce(ctx context.Context) {
	if err := l.fill.RunOnce(ctx); err != nil {
		l.log.Printf("minute_fill: %v", err)
	}
}

func (l *Loops) parkingChangeDetector(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.ParkingChangeDetector)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.changes.RunOnce(ctx, 200, 50)
		}
	}
}
