package minutefill

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/store"
)

func TestExpectedMinutes_RoundsUpPartialMinute(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 5, expectedMinutes(start, start.Add(5*time.Minute)))
	require.Equal(t, 6, expectedMinutes(start, start.Add(5*time.Minute+30*time.Second)))
	require.Equal(t, 1, expectedMinutes(start, start.Add(10*time.Second)))
}

func TestShouldSkip_CompletedTaskNeverSkipped(t *testing.T) {
	w := New(store.TaskModel{}, store.BatchModel{}, store.MinuteScreenshotModel{}, nil, config.Defaults())
	skip, err := w.shouldSkip(context.Background(), &store.Task{Status: store.TaskCompleted})
	require.NoError(t, err)
	require.False(t, skip)
}

func TestShouldSkip_RunningBatchIsSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := New(store.TaskModel{DB: db}, store.BatchModel{DB: db}, store.MinuteScreenshotModel{DB: db}, nil, config.Defaults())

	rows := sqlmock.NewRows([]string{
		"id", "date", "ip", "channel", "base_url", "start_ts", "end_ts",
		"interval_minutes", "status", "task_count", "created_at", "updated_at",
	}).AddRow(7, "2026-01-01", "10.0.0.1", "ch1", "rtsp://x", time.Now(), time.Now(), 60, store.BatchRunning, 4, time.Now(), time.Now())
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	skip, err := w.shouldSkip(context.Background(), &store.Task{Status: store.TaskPlaying, BatchID: 7})
	require.NoError(t, err)
	require.True(t, skip)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestShouldSkip_TerminalBatchIsNotSkipped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := New(store.TaskModel{DB: db}, store.BatchModel{DB: db}, store.MinuteScreenshotModel{DB: db}, nil, config.Defaults())

	rows := sqlmock.NewRows([]string{
		"id", "date", "ip", "channel", "base_url", "start_ts", "end_ts",
		"interval_minutes", "status", "task_count", "created_at", "updated_at",
	}).AddRow(7, "2026-01-01", "10.0.0.1", "ch1", "rtsp://x", time.Now(), time.Now(), 60, store.BatchPartialFailed, 4, time.Now(), time.Now())
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	skip, err := w.shouldSkip(context.Background(), &store.Task{Status: store.TaskFailed, BatchID: 7})
	require.NoError(t, err)
	require.False(t, skip)
	require.NoError(t, mock.ExpectationsWereMet())
}
