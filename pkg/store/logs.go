package store

import (
	"context"

	"github.com/waste2worth/negotiation-realtime/pkg/events"
)

// RecordEvent appends a negotiation event to the audit log. Redelivered events
// are ignored by id; the result reports whether a new row was written.
func (s *Store) RecordEvent(ctx context.Context, ev events.NegotiationEvent) (bool, error) {
	negotiationID, err := ev.NegotiationID.Int64()
	if err != nil {
		return false, err
	}
	res, err := s.db.Execute(ctx,
		`INSERT IGNORE INTO negotiation_logs (id, negotiation_id, listing_id, event_type, status, amount, actor_id, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, negotiationID, ev.ListingID, string(ev.Type), string(ev.Status), ev.Amount, ev.ActorID, ev.OccurredAt)
	if err != nil {
		return false, err
	}
	return res.RowsAffected == 1, nil
}
