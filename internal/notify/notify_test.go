package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/technosupport/parking-capture/internal/changeworker"
	"github.com/technosupport/parking-capture/internal/decision"
)

func TestChangeMessage_MarshalsExpectedFields(t *testing.T) {
	ev := changeworker.ChangeEvent{
		IP: "10.0.0.1", ChannelCode: "ch1", SpaceID: "A1", SpaceName: "Row A - 1",
		ChangeType: decision.ChangeArrive, Confidence: 0.91, DetectedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	msg := changeMessage{
		IP: ev.IP, ChannelCode: ev.ChannelCode, SpaceID: ev.SpaceID, SpaceName: ev.SpaceName,
		ChangeType: string(ev.ChangeType), Confidence: ev.Confidence, DetectedAt: ev.DetectedAt,
	}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"ip": "10.0.0.1",
		"channel_code": "ch1",
		"space_id": "A1",
		"space_name": "Row A - 1",
		"change_type": "arrive",
		"confidence": 0.91,
		"detected_at": "2026-01-01T12:00:00Z"
	}`, string(data))
}
