package changeworker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/parking-capture/internal/config"
	"github.com/technosupport/parking-capture/internal/reid"
)

func TestEncodeDecodeFeatures_RoundTrips(t *testing.T) {
	var hue, sat [32]float64
	hue[5] = 0.4
	hue[6] = 0.6
	sat[10] = 1.0
	f := &reid.Features{HueHist: hue, SatHist: sat, AspectRatio: 1.75, HasRearWiper: true}

	blob := encodeFeatures(f)
	require.NotNil(t, blob)

	got := decodeFeatures(blob)
	require.NotNil(t, got)
	require.InDelta(t, f.AspectRatio, got.AspectRatio, 1e-9)
	require.Equal(t, f.HasRearWiper, got.HasRearWiper)
	for i := range hue {
		require.InDelta(t, f.HueHist[i], got.HueHist[i], 1e-9)
		require.InDelta(t, f.SatHist[i], got.SatHist[i], 1e-9)
	}
}

func TestDecodeFeatures_NilOnShortBlob(t *testing.T) {
	require.Nil(t, decodeFeatures(nil))
	require.Nil(t, decodeFeatures([]byte{1, 2, 3}))
}

func TestEncodeFeatures_NilInputProducesNilBlob(t *testing.T) {
	require.Nil(t, encodeFeatures(nil))
}

func TestRevokeFalseLeave_NoCandidateIsANoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := New(db, config.Defaults(), nil, nil)

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "task_id", "screenshot_id", "channel_config_id", "space_id", "space_name",
		"prev_occupied", "curr_occupied", "change_type", "detection_confidence", "vehicle_features", "detected_at",
	})
	mock.ExpectQuery("SELECT id, task_id, screenshot_id").WillReturnRows(rows)
	mock.ExpectRollback()

	err = w.revokeFalseLeave(context.Background(), tx, "ch1", "stall-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
