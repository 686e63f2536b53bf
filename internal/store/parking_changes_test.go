package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func parkingChangeRow(id int64, detectedAt time.Time, changeType any, prevOccupied any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "task_id", "screenshot_id", "channel_config_id", "space_id", "space_name",
		"prev_occupied", "curr_occupied", "change_type", "detection_confidence", "vehicle_features", "detected_at",
	}).AddRow(id, int64(1), int64(1), "ch1", "A1", "Row A - 1", prevOccupied, true, changeType, nil, nil, detectedAt)
}

func TestParkingChangeModel_LatestPriorChange_FoundWithinMaxGap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	prior := now.Add(-10 * time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM parking_changes pc").
		WithArgs("ch1", "A1", now).
		WillReturnRows(parkingChangeRow(1, prior, "arrive", nil))

	m := ParkingChangeModel{DB: db}
	pc, ok, err := m.LatestPriorChange(context.Background(), "ch1", "A1", now, 15*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ChangeType("arrive"), pc.ChangeType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_LatestPriorChange_DiscardedBeyondMaxGap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	prior := now.Add(-time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM parking_changes pc").
		WithArgs("ch1", "A1", now).
		WillReturnRows(parkingChangeRow(1, prior, nil, nil))

	m := ParkingChangeModel{DB: db}
	pc, ok, err := m.LatestPriorChange(context.Background(), "ch1", "A1", now, 15*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, pc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_LatestPriorChange_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM parking_changes pc").
		WithArgs("ch1", "A1", now).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "screenshot_id", "channel_config_id", "space_id", "space_name",
			"prev_occupied", "curr_occupied", "change_type", "detection_confidence", "vehicle_features", "detected_at",
		}))

	m := ParkingChangeModel{DB: db}
	pc, ok, err := m.LatestPriorChange(context.Background(), "ch1", "A1", now, 15*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, pc)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_Insert_NoneChangeTypeWritesNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO parking_changes").
		WithArgs(int64(1), int64(1), "ch1", "A1", "Row A - 1", nil, true, nil, nil, []byte(nil), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	m := ParkingChangeModel{DB: db}
	pc := &ParkingChange{
		TaskID: 1, ScreenshotID: 1, ChannelConfigID: "ch1", SpaceID: "A1", SpaceName: "Row A - 1",
		CurrOccupied: true, ChangeType: ChangeNone, DetectedAt: now,
	}
	err = m.Insert(context.Background(), db, pc)
	require.NoError(t, err)
	require.Equal(t, int64(42), pc.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_Insert_ArriveChangeTypeWritesString(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	conf := 0.82
	mock.ExpectQuery("INSERT INTO parking_changes").
		WithArgs(int64(1), int64(1), "ch1", "A1", "Row A - 1", false, true, "arrive", &conf, []byte(nil), now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(43)))

	m := ParkingChangeModel{DB: db}
	prev := false
	pc := &ParkingChange{
		TaskID: 1, ScreenshotID: 1, ChannelConfigID: "ch1", SpaceID: "A1", SpaceName: "Row A - 1",
		PrevOccupied: &prev, CurrOccupied: true, ChangeType: ChangeArrive, DetectionConfidence: &conf, DetectedAt: now,
	}
	err = m.Insert(context.Background(), db, pc)
	require.NoError(t, err)
	require.Equal(t, int64(43), pc.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_UpsertSnapshot_InsertsRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("INSERT INTO parking_change_snapshots").
		WithArgs(int64(1), int64(1), "ch1", "10.0.0.5", "ch1", "Lot A North", 2, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	m := ParkingChangeModel{DB: db}
	snap := &ParkingChangeSnapshot{
		TaskID: 1, ScreenshotID: 1, ChannelConfigID: "ch1", IP: "10.0.0.5", ChannelCode: "ch1",
		ParkingName: "Lot A North", ChangeCount: 2, DetectedAt: now,
	}
	err = m.UpsertSnapshot(context.Background(), db, snap)
	require.NoError(t, err)
	require.Equal(t, int64(9), snap.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_DecrementSnapshot_DeletesAtCountOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM parking_change_snapshots WHERE screenshot_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "screenshot_id", "channel_config_id", "ip", "channel_code", "parking_name", "change_count", "detected_at",
		}).AddRow(int64(9), int64(1), int64(5), "ch1", "10.0.0.5", "ch1", "Lot A North", 1, now))
	mock.ExpectExec("DELETE FROM parking_change_snapshots WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := ParkingChangeModel{DB: db}
	err = m.DecrementSnapshot(context.Background(), db, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_DecrementSnapshot_DecrementsAboveOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM parking_change_snapshots WHERE screenshot_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "screenshot_id", "channel_config_id", "ip", "channel_code", "parking_name", "change_count", "detected_at",
		}).AddRow(int64(9), int64(1), int64(5), "ch1", "10.0.0.5", "ch1", "Lot A North", 3, now))
	mock.ExpectExec("UPDATE parking_change_snapshots SET change_count = change_count - 1 WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := ParkingChangeModel{DB: db}
	err = m.DecrementSnapshot(context.Background(), db, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_DecrementSnapshot_NoRowIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM parking_change_snapshots WHERE screenshot_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "screenshot_id", "channel_config_id", "ip", "channel_code", "parking_name", "change_count", "detected_at",
		}))

	m := ParkingChangeModel{DB: db}
	err = m.DecrementSnapshot(context.Background(), db, 5)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_FindRevocableLeave_FoundWithinWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	leaveAt := now.Add(-10 * time.Minute)
	mock.ExpectQuery("SELECT (.+) FROM parking_changes").
		WithArgs("ch1", "A1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(parkingChangeRow(3, leaveAt, "leave", nil))

	m := ParkingChangeModel{DB: db}
	candidate, err := m.FindRevocableLeave(context.Background(), db, "ch1", "A1", now, 5*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, int64(3), candidate.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_FindRevocableLeave_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM parking_changes").
		WithArgs("ch1", "A1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "task_id", "screenshot_id", "channel_config_id", "space_id", "space_name",
			"prev_occupied", "curr_occupied", "change_type", "detection_confidence", "vehicle_features", "detected_at",
		}))

	m := ParkingChangeModel{DB: db}
	candidate, err := m.FindRevocableLeave(context.Background(), db, "ch1", "A1", now, 5*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	require.Nil(t, candidate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_RevokeLeave_ClearsChangeTypeAndForcesOccupied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE parking_changes SET change_type = NULL, curr_occupied = true WHERE id = \\$1").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := ParkingChangeModel{DB: db}
	err = m.RevokeLeave(context.Background(), db, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParkingChangeModel_CountChanged_CountsNonNullChangeType(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM parking_changes WHERE screenshot_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	m := ParkingChangeModel{DB: db}
	n, err := m.CountChanged(context.Background(), db, 5)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
