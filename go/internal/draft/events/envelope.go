package events

import (
	"encoding/json"

	"github.com/mcdev12/draftroom/go/internal/models"
)

// WireEventName is the real-time event name viewers subscribe to.
const WireEventName = "draft:event"

// Envelope is the versioned event as seen by subscribers.
type Envelope struct {
	DraftID   int64           `json:"draft_id"`
	EventType string          `json:"event_type"`
	Version   int64           `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// Message frames an envelope for the websocket channel.
type Message struct {
	Event string   `json:"event"`
	Data  Envelope `json:"data"`
}

// EnvelopeOf converts a stored event into its wire form.
func EnvelopeOf(ev models.DraftEvent) Envelope {
	return Envelope{
		DraftID:   ev.DraftID,
		EventType: ev.Type,
		Version:   ev.Version,
		Payload:   ev.Payload,
	}
}

// Encode renders the websocket frame for an event.
func Encode(ev models.DraftEvent) ([]byte, error) {
	return json.Marshal(Message{Event: WireEventName, Data: EnvelopeOf(ev)})
}
