package store

import (
	"context"
	"database/sql"
)

// ScreenshotModel is the Screenshot repository.
type ScreenshotModel struct {
	DB DBTX
}

// Upsert inserts or updates the single Screenshot row for a task. At most
// one Screenshot exists per Task; a re-capture updates the existing row and
// resets yolo_status=pending.
func (m ScreenshotModel) Upsert(ctx context.Context, s *Screenshot) error {
	query := `
		INSERT INTO screenshots (task_id, file_path, yolo_status, yolo_last_error)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (task_id) DO UPDATE SET
			file_path = EXCLUDED.file_path,
			yolo_status = $3,
			yolo_last_error = NULL
		RETURNING id, created_at`
	if s.YoloStatus == "" {
		s.YoloStatus = YoloPending
	}
	return m.DB.QueryRowContext(ctx, query, s.TaskID, s.FilePath, s.YoloStatus).Scan(&s.ID, &s.CreatedAt)
}

func scanScreenshot(row interface {
	Scan(dest ...any) error
}) (*Screenshot, error) {
	var s Screenshot
	var lastErr sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.FilePath, &s.YoloStatus, &lastErr, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastErr.Valid {
		s.YoloLastError = lastErr.String
	}
	return &s, nil
}

const screenshotColumns = `id, task_id, file_path, yolo_status, yolo_last_error, created_at`

// GetByTaskID fetches the screenshot owned by a task, if any.
func (m ScreenshotModel) GetByTaskID(ctx context.Context, taskID int64) (*Screenshot, error) {
	row := m.DB.QueryRowContext(ctx, `SELECT `+screenshotColumns+` FROM screenshots WHERE task_id = $1`, taskID)
	return scanScreenshot(row)
}

// GetByID fetches one screenshot.
func (m ScreenshotModel) GetByID(ctx context.Context, id int64) (*Screenshot, error) {
	row := m.DB.QueryRowContext(ctx, `SELECT `+screenshotColumns+` FROM screenshots WHERE id = $1`, id)
	return scanScreenshot(row)
}

// MarkLegacyPending flips yolo_status to pending for every screenshot currently in
// (NULL, done, failed) — the change-detection worker's one-time legacy
// backfill pass.
func (m ScreenshotModel) MarkLegacyPending(ctx context.Context, limit int) (int64, error) {
	res, err := m.DB.ExecContext(ctx, `
		UPDATE screenshots SET yolo_status = $1
		WHERE id IN (
			SELECT id FROM screenshots
			WHERE yolo_status IS NULL OR yolo_status IN ($2, $3)
			ORDER BY created_at
			LIMIT $4
		)
	`, YoloPending, YoloDone, YoloFailed, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimPendingBatch marks up to batchSize pending screenshots as
// processing and returns them, for internal/changeworker. The yolo_status
// transition pending -> processing is the serialization point that keeps
// two workers from processing the same screenshot twice.
func (m ScreenshotModel) ClaimPendingBatch(ctx context.Context, batchSize int) ([]*Screenshot, error) {
	rows, err := m.DB.QueryContext(ctx, `
		UPDATE screenshots SET yolo_status = $1
		WHERE id IN (
			SELECT id FROM screenshots WHERE yolo_status = $2 ORDER BY created_at LIMIT $3
		)
		RETURNING `+screenshotColumns, YoloProcessing, YoloPending, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Screenshot
	for rows.Next() {
		s, err := scanScreenshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkDone finalizes successful change detection for a screenshot.
func (m ScreenshotModel) MarkDone(ctx context.Context, tx DBTX, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE screenshots SET yolo_status = $1, yolo_last_error = NULL WHERE id = $2`, YoloDone, id)
	return err
}

// MarkFailed finalizes a failed change-detection run with an error string,
// surfaced to the operator who may flip it back to pending.
func (m ScreenshotModel) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := m.DB.ExecContext(ctx, `UPDATE screenshots SET yolo_status = $1, yolo_last_error = $2 WHERE id = $3`, YoloFailed, errMsg, id)
	return err
}

// CountPending reports how many screenshots are currently waiting to be
// claimed by a change-detection pass.
func (m ScreenshotModel) CountPending(ctx context.Context) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT count(*) FROM screenshots WHERE yolo_status = $1`, YoloPending).Scan(&n)
	return n, err
}
