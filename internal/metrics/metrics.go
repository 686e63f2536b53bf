// Package metrics collects Prometheus gauges/counters for the capture
// pipeline, using package-level promauto registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CombosRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_combos_running",
		Help: "Current number of (date, ip, channel) combinations holding the global semaphore",
	})

	ComboSemaphorePermits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_combo_semaphore_permits",
		Help: "Total permits in the combination concurrency semaphore",
	})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_tasks_total",
		Help: "Total capture task attempts by outcome",
	}, []string{"result"})

	TaskCaptureSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_task_duration_seconds",
		Help:    "Wall-clock duration of one slice capture",
		Buckets: prometheus.DefBuckets,
	})

	FrameSynthesized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_frame_synthesized_total",
		Help: "Frames produced via the no-CGO-decoder synthesis fallback",
	})

	MinuteFillQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "minutefill_queue_depth",
		Help: "Minute back-fill jobs waiting for a free pool worker",
	})

	MinuteFillTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "minutefill_results_total",
		Help: "Minute back-fill results by outcome",
	}, []string{"result"})

	DetectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "detector_detections_total",
		Help: "Vehicle detector invocations by outcome",
	}, []string{"result"})

	DetectorMockFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "detector_mock_fallback_total",
		Help: "Detections served by the smart-mock fallback instead of a real ONNX session",
	})

	ParkingChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_changes_total",
		Help: "Persisted ParkingChange rows by change_type",
	}, []string{"change_type"})

	FalseLeaveRevocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_false_leave_revocations_total",
		Help: "Historical leave events revoked by delayed confirmation",
	})

	ChangeWorkerBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "changeworker_pending_screenshots",
		Help: "Screenshots currently in yolo_status=pending",
	})
)
