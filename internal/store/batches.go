package store

import (
	"context"
	"database/sql"
	"time"
)

// BatchModel is the TaskBatch repository.
type BatchModel struct {
	DB DBTX
}

// GetOrCreate returns the existing batch for
// (date, ip, channel, start_ts, end_ts) or creates one in status
// "pending". interval_minutes is not part of the lookup: an existing batch
// for the same day window is returned as-is even if its interval differs.
// Idempotent — used by scheduler.EnsureTasks.
func (m BatchModel) GetOrCreate(ctx context.Context, b *TaskBatch) (created bool, err error) {
	existing, err := m.getByKey(ctx, b.Date, b.IP, b.Channel, b.StartTS, b.EndTS)
	if err == nil {
		*b = *existing
		return false, nil
	}
	if err != ErrRecordNotFound {
		return false, err
	}

	query := `
		INSERT INTO task_batches (date, ip, channel, base_url, start_ts, end_ts, interval_minutes, status, task_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		RETURNING id, created_at, updated_at`
	if b.Status == "" {
		b.Status = BatchPending
	}
	err = m.DB.QueryRowContext(ctx, query, b.Date, b.IP, b.Channel, b.BaseURL, b.StartTS, b.EndTS, b.IntervalMinutes, b.Status).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m BatchModel) getByKey(ctx context.Context, date, ip, channel string, startTS, endTS time.Time) (*TaskBatch, error) {
	query := `
		SELECT id, date, ip, channel, base_url, start_ts, end_ts, interval_minutes, status, task_count, created_at, updated_at
		FROM task_batches
		WHERE date = $1 AND ip = $2 AND channel = $3 AND start_ts = $4 AND end_ts = $5`
	var b TaskBatch
	err := m.DB.QueryRowContext(ctx, query, date, ip, channel, startTS, endTS).Scan(
		&b.ID, &b.Date, &b.IP, &b.Channel, &b.BaseURL, &b.StartTS, &b.EndTS, &b.IntervalMinutes,
		&b.Status, &b.TaskCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SetTaskCount updates task_count after EnsureTasks inserts new slices.
func (m BatchModel) SetTaskCount(ctx context.Context, batchID int64, count int) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE task_batches SET task_count = $1, updated_at = NOW() WHERE id = $2`, count, batchID)
	return err
}

// SetStatus transitions a batch's status (running/completed/failed/partial_failed).
func (m BatchModel) SetStatus(ctx context.Context, batchID int64, status BatchStatus) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE task_batches SET status = $1, updated_at = NOW() WHERE id = $2`, status, batchID)
	return err
}

// GetByID fetches one batch by ID.
func (m BatchModel) GetByID(ctx context.Context, batchID int64) (*TaskBatch, error) {
	query := `
		SELECT id, date, ip, channel, base_url, start_ts, end_ts, interval_minutes, status, task_count, created_at, updated_at
		FROM task_batches WHERE id = $1`
	var b TaskBatch
	err := m.DB.QueryRowContext(ctx, query, batchID).Scan(
		&b.ID, &b.Date, &b.IP, &b.Channel, &b.BaseURL, &b.StartTS, &b.EndTS, &b.IntervalMinutes,
		&b.Status, &b.TaskCount, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Delete removes a batch in one transaction: it first deletes the
// parking_change_snapshots and parking_changes rows of the batch's tasks,
// then the batch row, which cascades via FK ON DELETE CASCADE to its
// tasks, screenshots and minute screenshots.
func (m BatchModel) Delete(ctx context.Context, db Beginner, batchID int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM parking_change_snapshots WHERE task_id IN (SELECT id FROM tasks WHERE batch_id = $1)
	`, batchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM parking_changes WHERE task_id IN (SELECT id FROM tasks WHERE batch_id = $1)
	`, batchID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_batches WHERE id = $1`, batchID); err != nil {
		return err
	}
	return tx.Commit()
}
