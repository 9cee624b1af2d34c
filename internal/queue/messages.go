package queue

import (
	"encoding/json"
	"fmt"

	"github.com/acme/campaign-dialer/internal/domain"
)

// RunEventVersion is the schema version written with every run event.
const RunEventVersion = 1

// RunEventMessage is the wire envelope of a run event.
type RunEventMessage struct {
	Version int             `json:"version"`
	Event   domain.RunEvent `json:"event"`
}

// EncodeRunEvent marshals ev into its wire form.
func EncodeRunEvent(ev domain.RunEvent) ([]byte, error) {
	value, err := json.Marshal(RunEventMessage{Version: RunEventVersion, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("queue: marshal run event: %w", err)
	}
	return value, nil
}

// DecodeRunEvent unmarshals a wire run event, rejecting unknown versions
// and events without an id.
func DecodeRunEvent(value []byte) (domain.RunEvent, error) {
	var msg RunEventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.RunEvent{}, fmt.Errorf("queue: unmarshal run event: %w", err)
	}
	if msg.Version != RunEventVersion {
		return domain.RunEvent{}, fmt.Errorf("queue: unsupported run event version %d", msg.Version)
	}
	if msg.Event.ID == "" || msg.Event.CampaignID == "" {
		return domain.RunEvent{}, fmt.Errorf("queue: run event without id or campaign")
	}
	return msg.Event, nil
}
