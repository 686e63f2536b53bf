package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/parking-capture/internal/capture"
	"github.com/technosupport/parking-capture/internal/changeworker"
	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/configmodel"
	"github.com/technosupport/parking-capture/internal/detect"
	"github.com/technosupport/parking-capture/internal/minutefill"
	"github.com/technosupport/parking-capture/internal/notify"
	"github.com/technosupport/parking-capture/internal/scheduler"
	"github.com/technosupport/parking-capture/internal/store"
)

const serviceName = "parking-capture-daemon"

func main() {
	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	cfg := watcher.Current()
	scheduler.AutoSize(&cfg.Tunables)

	// The watcher keeps reloading cfgPath in the background, but nothing
	// below re-reads watcher.Current(): components capture today's
	// Tunables by value at construction time and the topology index is
	// built once here, so a live edit to either tunables or topology takes
	// effect only on the next start.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	watcher.Start(watchCtx)

	topology := configmodel.BuildIndex(cfg.NVRs)

	// 2. DB
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), dbHostOrDefault(), dbPortOrDefault(), os.Getenv("DB_NAME"), dbSSLModeOrDefault())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Tunables.DBPoolSize + cfg.Tunables.DBMaxOverflow)
	db.SetMaxIdleConns(cfg.Tunables.DBPoolSize)
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping error: %v", err)
	}

	// 3. Combo lock: Redis-backed if configured, in-memory otherwise.
	var lock scheduler.ComboLock
	if cfg.Tunables.RedisAddr != "" {
		lock = scheduler.NewRedisLock(cfg.Tunables.RedisAddr)
	} else {
		lock = scheduler.NewMemoryLock()
	}

	// 4. Repositories
	tasks := store.TaskModel{DB: db}
	batches := store.BatchModel{DB: db}
	shots := store.ScreenshotModel{DB: db}
	minutes := store.MinuteScreenshotModel{DB: db}

	// 5. Capture + detection components
	grabber := capture.New(capture.Config{WarmupFrames: cfg.Tunables.WarmupFrames, Timeout: cfg.Tunables.CaptureTimeout()})
	detector := detect.New(os.Getenv("DETECTOR_MODEL_DIR"))

	// 6. Scheduler, minute back-fill, change detector
	captureScheduler := scheduler.New(db, tasks, batches, shots, grabber, cfg.Tunables, lock)
	fillWorker := minutefill.New(tasks, batches, minutes, grabber, cfg.Tunables)
	changeDetector := changeworker.New(db, cfg.Tunables, topology, detector)

	// 7. NATS publisher for emitted parking changes (optional — a
	// connect failure degrades to "no fan-out" with a warning logged,
	// rather than aborting startup over an optional dependency).
	natsURL := cfg.Tunables.NATSURL
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	if nc, err := nats.Connect(natsURL, nats.Name(serviceName)); err != nil {
		log.Printf("Warning: NATS connect failed: %v. Change events will not be published.", err)
	} else {
		defer nc.Close()
		changeDetector.Publisher = notify.New(nc, notify.Subject, 3)
	}

	// 8. Periodic loops
	combos := scheduler.TaskComboSource{Tasks: tasks, Batches: batches}
	loops := scheduler.NewLoops(captureScheduler, fillWorker, changeDetector, combos, scheduler.LoopIntervals{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	loops.Start(ctx)

	// 9. Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	port := os.Getenv("METRICS_PORT")
	if port == "" {
		port = "9090"
	}
	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	log.Printf("parking-capture daemon started, metrics on :%s", port)
	<-ctx.Done()
	log.Println("shutdown requested, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}

func dbHostOrDefault() string {
	if v := os.Getenv("DB_HOST"); v != "" {
		return v
	}
	return "localhost"
}

func dbPortOrDefault() string {
	if v := os.Getenv("DB_PORT"); v != "" {
		return v
	}
	return "5432"
}

func dbSSLModeOrDefault() string {
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		return v
	}
	return "disable"
}
