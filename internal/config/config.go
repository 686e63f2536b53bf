// Package config loads the tunable constants and parking-lot topology for
// the capture-and-change-detection engine: a YAML file on disk, overridden
// by environment variables, hot-reloaded by watching the file for writes.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/parking-capture/internal/configmodel"
)

// Tunables mirrors the named constants table: every field has a default
// and can be overridden by an identically-named environment variable.
type Tunables struct {
	MaxComboConcurrency     int     `yaml:"max_combo_concurrency"`
	MaxWorkersPerCombo      int     `yaml:"max_workers_per_combo"`
	MinuteScreenshotWorkers int     `yaml:"minute_screenshot_workers"`
	WarmupFrames            int     `yaml:"warmup_frames"`
	CaptureTimeoutSec       int     `yaml:"capture_timeout_sec"`
	MaxRetryCount           int     `yaml:"max_retry_count"`
	FillLimit               int     `yaml:"fill_limit"`

	VehicleSimilaritySameDay     float64 `yaml:"vehicle_similarity_same_day"`
	VehicleSimilarityCrossDay    float64 `yaml:"vehicle_similarity_cross_day"`
	VehicleSimilarityShortInterval float64 `yaml:"vehicle_similarity_short_interval"`
	ShortIntervalSeconds         int     `yaml:"short_interval_seconds"`

	BrightnessLow      float64 `yaml:"brightness_low"`
	BrightnessHigh     float64 `yaml:"brightness_high"`
	ClarityThreshold   float64 `yaml:"clarity_threshold"`

	MinYoloConfForChange float64 `yaml:"min_yolo_conf_for_change"`
	MinMatchConfDay      float64 `yaml:"min_match_conf_day"`
	MinMatchConfNight    float64 `yaml:"min_match_conf_night"`

	StateContinuationTime     time.Duration `yaml:"-"`
	StateContinuationTimeSec  float64       `yaml:"state_continuation_time_sec"`
	StateContinuationPosition float64       `yaml:"state_continuation_position"`
	StateContinuationMargin   float64       `yaml:"state_continuation_margin"`

	StateLockEnabled bool `yaml:"state_lock_enabled"`
	StateLockFrames  int  `yaml:"state_lock_frames"`
	StateUnlockFrames int `yaml:"state_unlock_frames"`

	// HighRobustnessMode gates the rule-2 veto: a high-interference frame
	// (poor exposure together with blur, or either one with contrast below
	// 15) never emits `leave` on its own.
	// Defaulted on.
	HighRobustnessMode bool `yaml:"high_robustness_mode"`

	MaxTimeGapSec int `yaml:"max_time_gap_sec"`

	FalseLeaveWindowMinMin int `yaml:"false_leave_window_min_minutes"`
	FalseLeaveWindowMaxMin int `yaml:"false_leave_window_max_minutes"`

	BatchSize int `yaml:"batch_size"`

	// DBPoolSize/DBMaxOverflow describe the configured database connection
	// pool ceiling (base size + overflow) that internal/scheduler.AutoSize
	// uses as one of its three concurrency budgets.
	DBPoolSize    int `yaml:"db_pool_size"`
	DBMaxOverflow int `yaml:"db_max_overflow"`

	RedisAddr string `yaml:"redis_addr"`
	NATSURL   string `yaml:"nats_url"`

	ScreenshotRoot string `yaml:"screenshot_root"`
}

// MaxTimeGap, FalseLeaveWindowMin/Max, ShortInterval, CaptureTimeout and
// StateContinuationWindow expose the second/minute fields as time.Duration
// for callers.
func (t Tunables) MaxTimeGap() time.Duration {
	return time.Duration(t.MaxTimeGapSec) * time.Second
}

func (t Tunables) FalseLeaveWindowMin() time.Duration {
	return time.Duration(t.FalseLeaveWindowMinMin) * time.Minute
}

func (t Tunables) FalseLeaveWindowMax() time.Duration {
	return time.Duration(t.FalseLeaveWindowMaxMin) * time.Minute
}

func (t Tunables) ShortInterval() time.Duration {
	return time.Duration(t.ShortIntervalSeconds) * time.Second
}

func (t Tunables) CaptureTimeout() time.Duration {
	return time.Duration(t.CaptureTimeoutSec) * time.Second
}

func (t Tunables) StateContinuationWindow() time.Duration {
	return time.Duration(t.StateContinuationTimeSec * float64(time.Second))
}

// Defaults returns the built-in tunable values, before any YAML/env override.
func Defaults() Tunables {
	return Tunables{
		MaxComboConcurrency:     0, // 0 means "auto-size", see internal/scheduler/autosize.go
		MaxWorkersPerCombo:      0,
		MinuteScreenshotWorkers: 4,
		WarmupFrames:            20,
		CaptureTimeoutSec:       10,
		MaxRetryCount:           3,
		FillLimit:               50,

		VehicleSimilaritySameDay:       0.70,
		VehicleSimilarityCrossDay:      0.65,
		VehicleSimilarityShortInterval: 0.60,
		ShortIntervalSeconds:           300,

		BrightnessLow:    40,
		BrightnessHigh:   220,
		ClarityThreshold: 100,

		MinYoloConfForChange: 0.50,
		MinMatchConfDay:      0.35,
		MinMatchConfNight:    0.25,

		StateContinuationTimeSec:  3.0,
		StateContinuationPosition: 0.15,
		StateContinuationMargin:   0.10,

		StateLockEnabled:  false,
		StateLockFrames:   3,
		StateUnlockFrames: 1,
		HighRobustnessMode: true,

		MaxTimeGapSec: 900,

		FalseLeaveWindowMinMin: 5,
		FalseLeaveWindowMaxMin: 15,

		BatchSize: 20,

		DBPoolSize:    20,
		DBMaxOverflow: 40,

		ScreenshotRoot: "screenshots",
	}
}

// Config is the process-wide configuration: tunables plus the parking-lot
// topology (NVRs, channels, stalls).
type Config struct {
	Tunables Tunables          `yaml:",inline"`
	NVRs     []configmodel.NVR `yaml:"nvrs"`
}

// Load reads a YAML file (if path is non-empty and exists) on top of
// Defaults(), then applies environment-variable overrides: YAML, then env,
// with env always winning.
func Load(path string) (*Config, error) {
	cfg := &Config{Tunables: Defaults()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg.Tunables)
	return cfg, nil
}

func applyEnvOverrides(t *Tunables) {
	envInt(&t.MaxComboConcurrency, "MAX_COMBO_CONCURRENCY")
	envInt(&t.MaxWorkersPerCombo, "MAX_WORKERS_PER_COMBO")
	envInt(&t.MinuteScreenshotWorkers, "MINUTE_SCREENSHOT_WORKERS")
	envInt(&t.WarmupFrames, "WARMUP_FRAMES")
	envInt(&t.CaptureTimeoutSec, "CAPTURE_TIMEOUT_SEC")
	envInt(&t.MaxRetryCount, "MAX_RETRY_COUNT")
	envInt(&t.FillLimit, "FILL_LIMIT")
	envFloat(&t.VehicleSimilaritySameDay, "VEHICLE_SIMILARITY_SAME_DAY")
	envFloat(&t.VehicleSimilarityCrossDay, "VEHICLE_SIMILARITY_CROSS_DAY")
	envFloat(&t.VehicleSimilarityShortInterval, "VEHICLE_SIMILARITY_SHORT_INTERVAL")
	envInt(&t.ShortIntervalSeconds, "SHORT_INTERVAL_SECONDS")
	envFloat(&t.BrightnessLow, "BRIGHTNESS_LOW")
	envFloat(&t.BrightnessHigh, "BRIGHTNESS_HIGH")
	envFloat(&t.ClarityThreshold, "CLARITY_THRESHOLD")
	envFloat(&t.MinYoloConfForChange, "MIN_YOLO_CONF_FOR_CHANGE")
	envFloat(&t.MinMatchConfDay, "MIN_MATCH_CONF_DAY")
	envFloat(&t.MinMatchConfNight, "MIN_MATCH_CONF_NIGHT")
	envFloat(&t.StateContinuationTimeSec, "STATE_CONTINUATION_TIME")
	envFloat(&t.StateContinuationPosition, "STATE_CONTINUATION_POSITION")
	envFloat(&t.StateContinuationMargin, "STATE_CONTINUATION_MARGIN")
	envBool(&t.StateLockEnabled, "STATE_LOCK_ENABLED")
	envBool(&t.HighRobustnessMode, "HIGH_ROBUSTNESS_MODE")
	envInt(&t.StateLockFrames, "STATE_LOCK_FRAMES")
	envInt(&t.StateUnlockFrames, "STATE_UNLOCK_FRAMES")
	envInt(&t.MaxTimeGapSec, "MAX_TIME_GAP")
	envInt(&t.FalseLeaveWindowMinMin, "FALSE_LEAVE_WINDOW_MIN_MINUTES")
	envInt(&t.FalseLeaveWindowMaxMin, "FALSE_LEAVE_WINDOW_MAX_MINUTES")
	envInt(&t.BatchSize, "BATCH_SIZE")
	envInt(&t.DBPoolSize, "DB_POOL_SIZE")
	envInt(&t.DBMaxOverflow, "DB_MAX_OVERFLOW")
	envString(&t.RedisAddr, "REDIS_ADDR")
	envString(&t.NATSURL, "NATS_URL")
	envString(&t.ScreenshotRoot, "SCREENSHOT_ROOT")
}

func envInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}
