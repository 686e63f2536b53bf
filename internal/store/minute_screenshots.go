package store

import (
	"context"
	"database/sql"
	"time"
)

// MinuteScreenshotModel is the MinuteScreenshot repository.
type MinuteScreenshotModel struct {
	DB DBTX
}

const minuteColumns = `id, task_id, minute_index, start_ts, end_ts, file_path, status, error`

func scanMinute(row interface {
	Scan(dest ...any) error
}) (*MinuteScreenshot, error) {
	var m MinuteScreenshot
	var filePath, errMsg sql.NullString
	err := row.Scan(&m.ID, &m.TaskID, &m.MinuteIndex, &m.StartTS, &m.EndTS, &filePath, &m.Status, &errMsg)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if filePath.Valid {
		m.FilePath = filePath.String
	}
	if errMsg.Valid {
		m.Error = errMsg.String
	}
	return &m, nil
}

// EnsureRow creates the MinuteScreenshot row in status pending if it
// doesn't already exist for (task_id, minute_index); a no-op otherwise.
func (m MinuteScreenshotModel) EnsureRow(ctx context.Context, taskID int64, minuteIndex int, startTS, endTS time.Time) (*MinuteScreenshot, error) {
	existing, err := m.Get(ctx, taskID, minuteIndex)
	if err == nil {
		return existing, nil
	}
	if err != ErrRecordNotFound {
		return nil, err
	}

	row := &MinuteScreenshot{TaskID: taskID, MinuteIndex: minuteIndex, StartTS: startTS, EndTS: endTS, Status: MinutePending}
	err = m.DB.QueryRowContext(ctx, `
		INSERT INTO minute_screenshots (task_id, minute_index, start_ts, end_ts, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (task_id, minute_index) DO UPDATE SET task_id = EXCLUDED.task_id
		RETURNING id
	`, taskID, minuteIndex, startTS, endTS, MinutePending).Scan(&row.ID)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Get fetches one minute row by (task_id, minute_index).
func (m MinuteScreenshotModel) Get(ctx context.Context, taskID int64, minuteIndex int) (*MinuteScreenshot, error) {
	row := m.DB.QueryRowContext(ctx, `
		SELECT `+minuteColumns+` FROM minute_screenshots WHERE task_id = $1 AND minute_index = $2
	`, taskID, minuteIndex)
	return scanMinute(row)
}

// ListByTask returns every minute row for a task.
func (m MinuteScreenshotModel) ListByTask(ctx context.Context, taskID int64) ([]*MinuteScreenshot, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT `+minuteColumns+` FROM minute_screenshots WHERE task_id = $1 ORDER BY minute_index`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MinuteScreenshot
	for rows.Next() {
		r, err := scanMinute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountCompleted returns how many minute rows for a task are completed,
// used by the minute_fill reconciler to detect a partially-backfilled task.
func (m MinuteScreenshotModel) CountCompleted(ctx context.Context, taskID int64) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM minute_screenshots WHERE task_id = $1 AND status = $2
	`, taskID, MinuteCompleted).Scan(&n)
	return n, err
}

// MarkProcessing transitions a minute row to processing.
func (m MinuteScreenshotModel) MarkProcessing(ctx context.Context, id int64) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE minute_screenshots SET status = $1 WHERE id = $2`, MinuteProcessing, id)
	return err
}

// MarkCompleted records a successful minute capture.
func (m MinuteScreenshotModel) MarkCompleted(ctx context.Context, id int64, filePath string) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE minute_screenshots SET status = $1, file_path = $2, error = NULL WHERE id = $3`, MinuteCompleted, filePath, id)
	return err
}

// MarkFailed records a failed minute capture.
func (m MinuteScreenshotModel) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE minute_screenshots SET status = $1, error = $2 WHERE id = $3`, MinuteFailed, errMsg, id)
	return err
}
