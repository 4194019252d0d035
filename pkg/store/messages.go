package store

import (
	"context"
	"log"
	"strings"

	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	MaxMessageLen   = 4000
)

// Store is the only reader and writer of negotiation, offer and message rows.
type Store struct {
	db *db.Executor
}

func New(e *db.Executor) *Store {
	return &Store{db: e}
}

// Page selects messages with id greater than AfterID, oldest first.
type Page struct {
	AfterID int64
	Limit   int
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageSize
	case p.Limit > MaxPageSize:
		return MaxPageSize
	}
	return p.Limit
}

// InsertMessage persists a message and returns it with the id and created_at
// assigned by the store. The row is committed when this returns nil.
func (s *Store) InsertMessage(ctx context.Context, negotiationID int64, senderID, text string) (*model.Message, error) {
	if err := validateMessage(negotiationID, senderID, text); err != nil {
		return nil, err
	}

	msg := &model.Message{
		NegotiationID: model.NegotiationIDFromInt(negotiationID),
		SenderID:      senderID,
		Text:          text,
	}
	err := s.db.InTx(ctx, func(tx *db.Tx) error {
		res, err := tx.Execute(ctx,
			`INSERT INTO negotiation_messages (negotiation_id, sender_id, message_text) VALUES (?, ?, ?)`,
			negotiationID, senderID, text)
		if err != nil {
			return err
		}
		msg.ID = res.LastInsertID

		found, err := tx.FetchOne(ctx, func(row db.Scanner) error {
			return row.Scan(&msg.CreatedAt)
		}, `SELECT created_at FROM negotiation_messages WHERE id = ?`, msg.ID)
		if err != nil {
			return err
		}
		if !found {
			return &db.StoreError{Op: "insert message", Err: errMissingRow}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetSenderDisplayName never fails: a missing profile or a failed lookup both
// yield model.UnknownSender so message delivery is not held up.
func (s *Store) GetSenderDisplayName(ctx context.Context, userID string) string {
	var name string
	found, err := s.db.FetchOne(ctx, func(row db.Scanner) error {
		return row.Scan(&name)
	}, `SELECT name FROM users WHERE id = ?`, userID)
	if err != nil {
		log.Printf("[store] sender name lookup for %s failed: %v", userID, err)
		return model.UnknownSender
	}
	if !found || strings.TrimSpace(name) == "" {
		return model.UnknownSender
	}
	return name
}

// ListMessages returns one page of a negotiation's history in ascending id order.
func (s *Store) ListMessages(ctx context.Context, negotiationID int64, page Page) ([]model.Message, error) {
	msgs := make([]model.Message, 0)
	err := s.db.FetchAll(ctx, func(row db.Scanner) error {
		var (
			m      model.Message
			negoID int64
		)
		if err := row.Scan(&m.ID, &negoID, &m.SenderID, &m.SenderName, &m.Text, &m.CreatedAt); err != nil {
			return err
		}
		m.NegotiationID = model.NegotiationIDFromInt(negoID)
		msgs = append(msgs, m)
		return nil
	}, `SELECT m.id, m.negotiation_id, m.sender_id, COALESCE(u.name, ?), m.message_text, m.created_at
		FROM negotiation_messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.negotiation_id = ? AND m.id > ?
		ORDER BY m.id ASC
		LIMIT ?`, model.UnknownSender, negotiationID, page.AfterID, page.limit())
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func validateMessage(negotiationID int64, senderID, text string) error {
	switch {
	case negotiationID <= 0:
		return &model.ValidationError{Field: "negotiation_id", Reason: "is required"}
	case senderID == "":
		return &model.ValidationError{Field: "sender_id", Reason: "is required"}
	case strings.TrimSpace(text) == "":
		return &model.ValidationError{Field: "message", Reason: "must not be empty"}
	case len(text) > MaxMessageLen:
		return &model.ValidationError{Field: "message", Reason: "is too long"}
	}
	return nil
}
