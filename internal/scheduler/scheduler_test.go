package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/store"
)

var taskCols = []string{
	"id", "batch_id", "date", "index", "start_ts", "end_ts", "replay_url", "ip", "channel",
	"status", "screenshot_path", "error", "retry_count", "next_retry_at", "created_at", "updated_at",
}

func TestComboKey_StringJoinsWithDoubleColon(t *testing.T) {
	k := ComboKey{Date: "2026-01-01", BaseURL: "rtsp://host/replay", Channel: "ch1"}
	require.Equal(t, "2026-01-01::rtsp://host/replay::ch1", k.String())
}

func newScheduler(db *sql.DB) *CaptureScheduler {
	return New(db, store.TaskModel{DB: db}, store.BatchModel{DB: db}, store.ScreenshotModel{DB: db}, nil, config.Defaults(), NewMemoryLock())
}

func TestCloseBatchIfTerminal_AllCompletedSetsCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newScheduler(db)

	now := time.Now()
	rows := sqlmock.NewRows(taskCols).
		AddRow(1, 7, "2026-01-01", 0, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskCompleted, "shot.jpg", "", 0, nil, now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)
	mock.ExpectExec("UPDATE task_batches SET status").
		WithArgs(store.BatchCompleted, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.closeBatchIfTerminal(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseBatchIfTerminal_PartialFailureSetsPartialFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newScheduler(db)

	now := time.Now()
	rowsFirst := sqlmock.NewRows(taskCols).
		AddRow(1, 7, "2026-01-01", 0, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskCompleted, "shot.jpg", "", 0, nil, now, now).
		AddRow(2, 7, "2026-01-01", 1, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskFailed, "", "boom", 3, nil, now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rowsFirst)

	rowsSecond := sqlmock.NewRows(taskCols).
		AddRow(1, 7, "2026-01-01", 0, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskCompleted, "shot.jpg", "", 0, nil, now, now).
		AddRow(2, 7, "2026-01-01", 1, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskFailed, "", "boom", 3, nil, now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rowsSecond)

	mock.ExpectExec("UPDATE task_batches SET status").
		WithArgs(store.BatchPartialFailed, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.closeBatchIfTerminal(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseBatchIfTerminal_NotAllTerminalIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newScheduler(db)

	now := time.Now()
	rows := sqlmock.NewRows(taskCols).
		AddRow(1, 7, "2026-01-01", 0, now, now, "rtsp://x", "10.0.0.1", "ch1", store.TaskPlaying, "", "", 0, nil, now, now)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	require.NoError(t, s.closeBatchIfTerminal(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

// recordFailure never bumps retry_count itself: per spec.md §4.C the
// increment happens exactly once, when a retry attempt is dispatched
// (TaskModel.MarkRetrying), not again when that attempt's own capture
// fails. A task failing for the first time (RetryCount still 0, never
// having gone through a retry dispatch) must be persisted with
// retry_count unchanged at 0.
func TestRecordFailure_FutureEndTSSchedulesRetryOneHourAfterEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newScheduler(db)

	endTS := time.Now().Add(2 * time.Hour)
	task := &store.Task{ID: 5, EndTS: endTS, RetryCount: 0}

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskFailed, "timeout", 0, endTS.Add(time.Hour), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.recordFailure(context.Background(), task, "timeout")
	require.NoError(t, mock.ExpectationsWereMet())
}

// recordFailure persists whatever retry_count the task already carries
// (set by a prior MarkRetrying call), rather than incrementing again.
func TestRecordFailure_PreservesAlreadyIncrementedRetryCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := newScheduler(db)

	endTS := time.Now().Add(-time.Hour)
	task := &store.Task{ID: 5, EndTS: endTS, RetryCount: 2}

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(store.TaskFailed, "timeout", 2, sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.recordFailure(context.Background(), task, "timeout")
	require.NoError(t, mock.ExpectationsWereMet())
}

// MarkRetrying is the only place retry_count is incremented: at dispatch
// of a retry attempt, per Scenario S5 ("at 11:10 it must pick it up, set
// retry_count = 1, status = playing").
func TestMarkRetrying_IncrementsRetryCountAndClearsTimer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE tasks SET status").
		WithArgs(store.TaskPlaying, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(1))

	tasks := store.TaskModel{DB: db}
	n, err := tasks.MarkRetrying(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
