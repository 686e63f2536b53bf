package store

import (
	"context"
	"database/sql"
	"time"
)

// TaskModel is the Task (slice) repository.
type TaskModel struct {
	DB DBTX
}

// Exists reports whether (date, ip, channel, start_ts, end_ts) is already
// present, enforcing the uniqueness of one task per time slice.
func (m TaskModel) Exists(ctx context.Context, date, ip, channel string, startTS, endTS time.Time) (bool, error) {
	var id int64
	err := m.DB.QueryRowContext(ctx, `
		SELECT id FROM tasks WHERE date = $1 AND ip = $2 AND channel = $3 AND start_ts = $4 AND end_ts = $5
	`, date, ip, channel, startTS, endTS).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create inserts a new Task row in status pending.
func (m TaskModel) Create(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	query := `
		INSERT INTO tasks (batch_id, date, index, start_ts, end_ts, replay_url, ip, channel, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
		RETURNING id, created_at, updated_at`
	return m.DB.QueryRowContext(ctx, query,
		t.BatchID, t.Date, t.Index, t.StartTS, t.EndTS, t.ReplayURL, t.IP, t.Channel, t.Status,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var t Task
	var screenshotPath, errMsg sql.NullString
	var nextRetry sql.NullTime

	err := row.Scan(
		&t.ID, &t.BatchID, &t.Date, &t.Index, &t.StartTS, &t.EndTS, &t.ReplayURL, &t.IP, &t.Channel,
		&t.Status, &screenshotPath, &errMsg, &t.RetryCount, &nextRetry, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if screenshotPath.Valid {
		t.ScreenshotPath = screenshotPath.String
	}
	if errMsg.Valid {
		t.Error = errMsg.String
	}
	if nextRetry.Valid {
		nr := nextRetry.Time
		t.NextRetryAt = &nr
	}
	return &t, nil
}

const taskColumns = `id, batch_id, date, index, start_ts, end_ts, replay_url, ip, channel, status, screenshot_path, error, retry_count, next_retry_at, created_at, updated_at`

// GetByID fetches one task.
func (m TaskModel) GetByID(ctx context.Context, id int64) (*Task, error) {
	row := m.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListByBatch returns every task belonging to a batch.
func (m TaskModel) ListByBatch(ctx context.Context, batchID int64) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE batch_id = $1 ORDER BY index`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByCombo returns tasks for (date, ip/base_url, channel), used by
// scheduler.RunCombo to load existing slices before calling EnsureTasks.
func (m TaskModel) ListByCombo(ctx context.Context, date, ip, channel string) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE date = $1 AND ip = $2 AND channel = $3 ORDER BY index
	`, date, ip, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkPlaying transitions a task to "playing" ahead of a capture attempt.
func (m TaskModel) MarkPlaying(ctx context.Context, id int64) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`, TaskPlaying, id)
	return err
}

// MarkRetrying transitions a failed task back to "playing" ahead of a
// retry attempt: increments retry_count and clears next_retry_at in the
// same write. Per spec.md §4.C ("On each attempt, increment retry_count,
// clear next_retry_at, set status=playing") the increment happens at
// dispatch time, once per retry attempt, regardless of whether the
// attempt itself goes on to succeed or fail.
func (m TaskModel) MarkRetrying(ctx context.Context, id int64) (int, error) {
	var retryCount int
	err := m.DB.QueryRowContext(ctx, `
		UPDATE tasks SET status = $1, retry_count = retry_count + 1, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $2
		RETURNING retry_count
	`, TaskPlaying, id).Scan(&retryCount)
	return retryCount, err
}

// MarkCompleted records a successful capture: status=completed,
// screenshot_path set, error cleared, next_retry_at cleared.
func (m TaskModel) MarkCompleted(ctx context.Context, id int64, screenshotPath string) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status = $1, screenshot_path = $2, error = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3
	`, TaskCompleted, screenshotPath, id)
	return err
}

// MarkFailed records a failed capture attempt: writes the caller-supplied
// retry_count as-is (the increment happens in MarkRetrying), and sets the
// error string and next_retry_at.
func (m TaskModel) MarkFailed(ctx context.Context, id int64, errMsg string, retryCount int, nextRetryAt *time.Time) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status = $1, error = $2, retry_count = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5
	`, TaskFailed, errMsg, retryCount, nextRetryAt, id)
	return err
}

// ForceCompleted is used by the reconciler: any task with a non-empty
// screenshot_path but status != completed is forced to completed.
func (m TaskModel) ForceCompleted(ctx context.Context, id int64) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = NOW()
		WHERE id = $2 AND screenshot_path IS NOT NULL AND screenshot_path != '' AND status != $1
	`, TaskCompleted, id)
	return err
}

// ListInconsistent returns tasks with a non-empty screenshot_path but
// status != completed, for the reconciler to fix.
func (m TaskModel) ListInconsistent(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE screenshot_path IS NOT NULL AND screenshot_path != '' AND status != $1
		LIMIT $2
	`, TaskCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRetryable returns failed tasks with retry_count < 3 whose
// next_retry_at has elapsed (or is unset).
func (m TaskModel) ListRetryable(ctx context.Context, now time.Time, limit int) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND retry_count < 3 AND (next_retry_at IS NULL OR next_retry_at <= $2)
		LIMIT $3
	`, TaskFailed, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InitRetryTimer sets next_retry_at for a failed task that has none yet,
// without incrementing retry_count.
func (m TaskModel) InitRetryTimer(ctx context.Context, id int64, nextRetryAt time.Time) error {
	_, err := m.DB.ExecContext(ctx, `
		UPDATE tasks SET next_retry_at = $1, updated_at = NOW() WHERE id = $2 AND next_retry_at IS NULL
	`, nextRetryAt, id)
	return err
}

// ListPendingOrPlaying returns tasks without a screenshot that are pending
// or playing, grouped for the pending_runner loop.
func (m TaskModel) ListPendingOrPlaying(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ($1, $2) AND (screenshot_path IS NULL OR screenshot_path = '')
		ORDER BY date DESC
		LIMIT $3
	`, TaskPending, TaskPlaying, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecentCompleted returns recently completed tasks, descending by date,
// for the minute_fill reconciliation loop.
func (m TaskModel) ListRecentCompleted(ctx context.Context, limit int) ([]*Task, error) {
	rows, err := m.DB.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1
		ORDER BY date DESC
		LIMIT $2
	`, TaskCompleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllTerminal reports whether every task in a batch is terminal
// (completed, or failed with retry_count=3) and whether any failed — used
// to decide the batch's close status.
func (m TaskModel) AllTerminal(ctx context.Context, batchID int64) (allTerminal, anyFailed bool, err error) {
	tasks, err := m.ListByBatch(ctx, batchID)
	if err != nil {
		return false, false, err
	}
	if len(tasks) == 0 {
		return false, false, nil
	}
	allTerminal = true
	anyFailed = false
	for _, t := range tasks {
		switch {
		case t.Status == TaskCompleted:
			// terminal, ok
		case t.Status == TaskFailed && t.RetryCount >= 3:
			anyFailed = true
		default:
			allTerminal = false
		}
	}
	return allTerminal, anyFailed, nil
}
