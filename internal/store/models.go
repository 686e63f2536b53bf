// Package store is the persistence layer for the capture-and-change-
// detection engine: one XxxModel{DB DBTX} per entity, hand-written SQL
// against Postgres via lib/pq, no ORM.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrRecordNotFound is returned in place of sql.ErrNoRows.
var ErrRecordNotFound = errors.New("store: record not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx, so repositories can run
// inside or outside a transaction transparently.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Beginner is satisfied by *sql.DB; used where a repository needs to open
// its own transaction (e.g. batch delete).
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BatchStatus enumerates TaskBatch.status.
type BatchStatus string

const (
	BatchPending       BatchStatus = "pending"
	BatchRunning       BatchStatus = "running"
	BatchCompleted     BatchStatus = "completed"
	BatchFailed        BatchStatus = "failed"
	BatchPartialFailed BatchStatus = "partial_failed"
)

// TaskStatus enumerates Task.status.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskPlaying   TaskStatus = "playing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// YoloStatus enumerates Screenshot.yolo_status.
type YoloStatus string

const (
	YoloPending    YoloStatus = "pending"
	YoloProcessing YoloStatus = "processing"
	YoloDone       YoloStatus = "done"
	YoloFailed     YoloStatus = "failed"
)

// MinuteStatus enumerates MinuteScreenshot.status.
type MinuteStatus string

const (
	MinutePending    MinuteStatus = "pending"
	MinuteProcessing MinuteStatus = "processing"
	MinuteCompleted  MinuteStatus = "completed"
	MinuteFailed     MinuteStatus = "failed"
)

// ChangeType enumerates ParkingChange.change_type. The zero value ("") is
// stored as SQL NULL — "no transition this frame".
type ChangeType string

const (
	ChangeNone    ChangeType = ""
	ChangeArrive  ChangeType = "arrive"
	ChangeLeave   ChangeType = "leave"
)

const maxRetryCount = 3

// TaskBatch groups the slice Tasks generated for one (date, ip, channel).
type TaskBatch struct {
	ID              int64
	Date            string
	IP              string
	Channel         string
	BaseURL         string
	StartTS         time.Time
	EndTS           time.Time
	IntervalMinutes int
	Status          BatchStatus
	TaskCount       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Task is one time-sliced capture unit within a TaskBatch.
type Task struct {
	ID              int64
	BatchID         int64
	Date            string
	Index           int
	StartTS         time.Time
	EndTS           time.Time
	ReplayURL       string
	IP              string
	Channel         string
	Status          TaskStatus
	ScreenshotPath  string
	Error           string
	RetryCount      int
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanRetry reports whether the task's retry_count allows another attempt.
func (t Task) CanRetry() bool {
	return t.RetryCount < maxRetryCount
}

// Screenshot is the single captured frame for a Task, plus its
// change-detection status.
type Screenshot struct {
	ID            int64
	TaskID        int64
	FilePath      string
	YoloStatus    YoloStatus
	YoloLastError string
	CreatedAt     time.Time
}

// MinuteScreenshot is one per-minute back-fill capture within a Task's span.
type MinuteScreenshot struct {
	ID          int64
	TaskID      int64
	MinuteIndex int
	StartTS     time.Time
	EndTS       time.Time
	FilePath    string
	Status      MinuteStatus
	Error       string
}

// ParkingChange is one state-log row: a stall's occupancy as of one
// screenshot, and the arrive/leave transition if any.
type ParkingChange struct {
	ID                  int64
	TaskID              int64
	ScreenshotID         int64
	ChannelConfigID      string
	SpaceID              string
	SpaceName            string
	PrevOccupied         *bool
	CurrOccupied         bool
	ChangeType           ChangeType
	DetectionConfidence  *float64
	VehicleFeatures      []byte
	DetectedAt           time.Time
}

// ParkingChangeSnapshot tracks one screenshot's transition count. A
// screenshot with zero transitions gets no snapshot row, though its
// per-stall ParkingChange rows are still written.
type ParkingChangeSnapshot struct {
	ID              int64
	TaskID          int64
	ScreenshotID    int64
	ChannelConfigID string
	IP              string
	ChannelCode     string
	ParkingName     string
	ChangeCount     int
	DetectedAt      time.Time
}
