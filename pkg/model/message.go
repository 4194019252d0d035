package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// UnknownSender is shown when the sender has no profile row.
const UnknownSender = "Unknown"

// NegotiationID is the string form of a negotiation's numeric key. Clients
// may send it as a JSON number or string; it is always written as a string.
type NegotiationID string

func (id *NegotiationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NegotiationID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("negotiation_id: %w", err)
	}
	*id = NegotiationID(n.String())
	return nil
}

// Int64 parses the id. Only positive integers are valid.
func (id NegotiationID) Int64() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Field: "negotiation_id", Reason: fmt.Sprintf("invalid negotiation id %q", string(id))}
	}
	return n, nil
}

func NegotiationIDFromInt(n int64) NegotiationID {
	return NegotiationID(strconv.FormatInt(n, 10))
}

// Message is one persisted chat utterance inside a negotiation.
type Message struct {
	ID            int64         `json:"id"`
	NegotiationID NegotiationID `json:"negotiation_id"`
	SenderID      string        `json:"sender_id"`
	SenderName    string        `json:"sender_name,omitempty"`
	Text          string        `json:"message"`
	CreatedAt     time.Time     `json:"timestamp"`
}
