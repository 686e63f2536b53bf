package store

import (
	"context"
	"database/sql"
	"time"
)

// ParkingChangeModel is the ParkingChange / ParkingChangeSnapshot
// repository. Both entities are written together, inside one transaction
// per screenshot, by internal/changeworker.
type ParkingChangeModel struct {
	DB DBTX
}

// LatestPriorChange finds the most recent ParkingChange for
// (channel_config_id, space_id) strictly before the given screenshot time,
// ordered by Screenshot.created_at DESC (not by ID — screenshots are not
// ingested in time order, so ID order is unsafe). Discards anything older
// than maxGap.
func (m ParkingChangeModel) LatestPriorChange(ctx context.Context, channelConfigID, spaceID string, before time.Time, maxGap time.Duration) (*ParkingChange, bool, error) {
	query := `
		SELECT pc.id, pc.task_id, pc.screenshot_id, pc.channel_config_id, pc.space_id, pc.space_name,
		       pc.prev_occupied, pc.curr_occupied, pc.change_type, pc.detection_confidence, pc.vehicle_features, pc.detected_at
		FROM parking_changes pc
		JOIN screenshots s ON s.id = pc.screenshot_id
		WHERE pc.channel_config_id = $1 AND pc.space_id = $2 AND s.created_at < $3
		ORDER BY s.created_at DESC
		LIMIT 1`
	row := m.DB.QueryRowContext(ctx, query, channelConfigID, spaceID, before)

	pc, err := scanParkingChange(row)
	if err == ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if before.Sub(pc.DetectedAt) > maxGap {
		return nil, false, nil
	}
	return pc, true, nil
}

func scanParkingChange(row interface {
	Scan(dest ...any) error
}) (*ParkingChange, error) {
	var pc ParkingChange
	var prevOccupied sql.NullBool
	var changeType sql.NullString
	var confidence sql.NullFloat64
	var features []byte

	err := row.Scan(
		&pc.ID, &pc.TaskID, &pc.ScreenshotID, &pc.ChannelConfigID, &pc.SpaceID, &pc.SpaceName,
		&prevOccupied, &pc.CurrOccupied, &changeType, &confidence, &features, &pc.DetectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if prevOccupied.Valid {
		v := prevOccupied.Bool
		pc.PrevOccupied = &v
	}
	if changeType.Valid {
		pc.ChangeType = ChangeType(changeType.String)
	}
	if confidence.Valid {
		v := confidence.Float64
		pc.DetectionConfidence = &v
	}
	pc.VehicleFeatures = features
	return &pc, nil
}

// Insert writes one ParkingChange row, unconditionally, for a processed
// stall: one row per stall per screenshot, forming the occupancy state log.
func (m ParkingChangeModel) Insert(ctx context.Context, tx DBTX, pc *ParkingChange) error {
	var changeType any
	if pc.ChangeType != ChangeNone {
		changeType = string(pc.ChangeType)
	}
	query := `
		INSERT INTO parking_changes
			(task_id, screenshot_id, channel_config_id, space_id, space_name, prev_occupied, curr_occupied, change_type, detection_confidence, vehicle_features, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	return tx.QueryRowContext(ctx, query,
		pc.TaskID, pc.ScreenshotID, pc.ChannelConfigID, pc.SpaceID, pc.SpaceName,
		pc.PrevOccupied, pc.CurrOccupied, changeType, pc.DetectionConfidence, pc.VehicleFeatures, pc.DetectedAt,
	).Scan(&pc.ID)
}

// UpsertSnapshot creates the ParkingChangeSnapshot row for a screenshot,
// or overwrites change_count on an existing one. Called once per screenshot with the number of stalls that
// transitioned; a screenshot with zero transitions never gets a row.
func (m ParkingChangeModel) UpsertSnapshot(ctx context.Context, tx DBTX, snap *ParkingChangeSnapshot) error {
	query := `
		INSERT INTO parking_change_snapshots (task_id, screenshot_id, channel_config_id, ip, channel_code, parking_name, change_count, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (screenshot_id) DO UPDATE SET change_count = EXCLUDED.change_count
		RETURNING id`
	return tx.QueryRowContext(ctx, query,
		snap.TaskID, snap.ScreenshotID, snap.ChannelConfigID, snap.IP, snap.ChannelCode, snap.ParkingName, snap.ChangeCount, snap.DetectedAt,
	).Scan(&snap.ID)
}

// GetSnapshotByScreenshot fetches the snapshot row for a screenshot, if any.
func (m ParkingChangeModel) GetSnapshotByScreenshot(ctx context.Context, tx DBTX, screenshotID int64) (*ParkingChangeSnapshot, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, screenshot_id, channel_config_id, ip, channel_code, parking_name, change_count, detected_at
		FROM parking_change_snapshots WHERE screenshot_id = $1
	`, screenshotID)
	var s ParkingChangeSnapshot
	err := row.Scan(&s.ID, &s.TaskID, &s.ScreenshotID, &s.ChannelConfigID, &s.IP, &s.ChannelCode, &s.ParkingName, &s.ChangeCount, &s.DetectedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DecrementSnapshot lowers change_count by one as part of false-leave
// revocation. Per DESIGN.md's Open Question decision, the row is deleted
// once change_count reaches zero rather than retaining a zero-count row.
func (m ParkingChangeModel) DecrementSnapshot(ctx context.Context, tx DBTX, screenshotID int64) error {
	snap, err := m.GetSnapshotByScreenshot(ctx, tx, screenshotID)
	if err == ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if snap.ChangeCount <= 1 {
		_, err := tx.ExecContext(ctx, `DELETE FROM parking_change_snapshots WHERE id = $1`, snap.ID)
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE parking_change_snapshots SET change_count = change_count - 1 WHERE id = $1`, snap.ID)
	return err
}

// FindRevocableLeave searches backward in the same channel for a `leave`
// ParkingChange on this stall, detected between minWindow and maxWindow
// before now — the delayed-confirmation false-leave revocation candidate.
func (m ParkingChangeModel) FindRevocableLeave(ctx context.Context, tx DBTX, channelConfigID, spaceID string, now time.Time, minWindow, maxWindow time.Duration) (*ParkingChange, error) {
	earliest := now.Add(-maxWindow)
	latest := now.Add(-minWindow)
	query := `
		SELECT id, task_id, screenshot_id, channel_config_id, space_id, space_name,
		       prev_occupied, curr_occupied, change_type, detection_confidence, vehicle_features, detected_at
		FROM parking_changes
		WHERE channel_config_id = $1 AND space_id = $2 AND change_type = 'leave'
		  AND detected_at BETWEEN $3 AND $4
		ORDER BY detected_at DESC
		LIMIT 1`
	row := tx.QueryRowContext(ctx, query, channelConfigID, spaceID, earliest, latest)
	pc, err := scanParkingChange(row)
	if err == ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// RevokeLeave mutates a historical `leave` row in place: change_type is
// cleared to null and curr_occupied is forced true. Must run inside the
// same transaction that writes the current screenshot's rows, to avoid
// racing with readers.
func (m ParkingChangeModel) RevokeLeave(ctx context.Context, tx DBTX, id int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE parking_changes SET change_type = NULL, curr_occupied = true WHERE id = $1
	`, id)
	return err
}

// CountChanged returns how many ParkingChange rows for a screenshot have a
// non-null change_type, used to cross-check the snapshot's change_count.
func (m ParkingChangeModel) CountChanged(ctx context.Context, tx DBTX, screenshotID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM parking_changes WHERE screenshot_id = $1 AND change_type IS NOT NULL
	`, screenshotID).Scan(&n)
	return n, err
}
