package events

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

type Type string

const (
	TypeProposed  Type = "proposed"
	TypeCountered Type = "countered"
	TypeAccepted  Type = "accepted"
	TypeRejected  Type = "rejected"
	TypeClosed    Type = "closed"
)

// NegotiationEvent announces a committed status transition.
type NegotiationEvent struct {
	ID            string              `json:"id"`
	Type          Type                `json:"type"`
	NegotiationID model.NegotiationID `json:"negotiation_id"`
	ListingID     int64               `json:"listing_id"`
	Status        model.Status        `json:"status"`
	Amount        float64             `json:"amount"`
	ActorID       string              `json:"actor_id"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewNegotiationEvent describes the state n is in after actorID's action.
func NewNegotiationEvent(typ Type, n *model.Negotiation, actorID string) NegotiationEvent {
	now := time.Now().UTC()
	return NegotiationEvent{
		ID:            newID(now),
		Type:          typ,
		NegotiationID: model.NegotiationIDFromInt(n.ID),
		ListingID:     n.ListingID,
		Status:        n.Status,
		Amount:        n.CurrentAmount,
		ActorID:       actorID,
		OccurredAt:    now,
	}
}

func Decode(b []byte) (NegotiationEvent, error) {
	var ev NegotiationEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, fmt.Errorf("decode negotiation event: %w", err)
	}
	if ev.NegotiationID == "" {
		return ev, fmt.Errorf("decode negotiation event: missing negotiation_id")
	}
	return ev, nil
}
