package events

import (
	"encoding/json"
	"fmt"

	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

// MessageEvent carries a committed chat message to the other gateways.
// Origin names the gateway process that already delivered it locally.
type MessageEvent struct {
	Origin  string        `json:"origin"`
	Message model.Message `json:"message"`
}

func DecodeMessage(b []byte) (MessageEvent, error) {
	var ev MessageEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode message event: %w", err)
	}
	if ev.Message.ID == 0 || ev.Message.NegotiationID == "" {
		return ev, fmt.Errorf("decode message event: missing message id or negotiation_id")
	}
	return ev, nil
}
