// Package notify fans out emitted parking changes to a parking.change
// NATS subject, for the out-of-scope HTTP/UI layer to subscribe to.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/parking-capture/internal/changeworker"
)

// Subject is the default parking.change NATS subject.
const Subject = "parking.change"

// ChangePublisher implements changeworker.ChangePublisher over a live NATS
// connection.
type ChangePublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func New(conn *nats.Conn, subject string, maxRetries int) *ChangePublisher {
	if subject == "" {
		subject = Subject
	}
	return &ChangePublisher{conn: conn, subject: subject, maxRetries: maxRetries}
}

// changeMessage is the wire payload for one emitted arrive/leave.
type changeMessage struct {
	IP          string    `json:"ip"`
	ChannelCode string    `json:"channel_code"`
	SpaceID     string    `json:"space_id"`
	SpaceName   string    `json:"space_name"`
	ChangeType  string    `json:"change_type"`
	Confidence  float64   `json:"confidence"`
	DetectedAt  time.Time `json:"detected_at"`
}

func (p *ChangePublisher) Publish(ev changeworker.ChangeEvent) error {
	msg := changeMessage{
		IP: ev.IP, ChannelCode: ev.ChannelCode, SpaceID: ev.SpaceID, SpaceName: ev.SpaceName,
		ChangeType: string(ev.ChangeType), Confidence: ev.Confidence, DetectedAt: ev.DetectedAt,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	var publishErr error
	for i := 0; i <= p.maxRetries; i++ {
		publishErr = p.conn.Publish(p.subject, data)
		if publishErr == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, publishErr)
}
