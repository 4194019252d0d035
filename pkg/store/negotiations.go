package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

var errMissingRow = errors.New("row vanished inside transaction")

const negotiationColumns = `id, listing_id, buyer_id, seller_id, status, current_amount, last_offer_by, created_at, updated_at`

// NewNegotiation is a buyer's opening proposal on a listing.
type NewNegotiation struct {
	ListingID int64
	BuyerID   string
	SellerID  string
	Amount    float64
}

type fetcher interface {
	FetchOne(ctx context.Context, scan db.ScanFunc, query string, args ...any) (bool, error)
}

// CreateNegotiation opens a negotiation and records the buyer's first offer.
func (s *Store) CreateNegotiation(ctx context.Context, in NewNegotiation) (*model.Negotiation, error) {
	switch {
	case in.ListingID <= 0:
		return nil, &model.ValidationError{Field: "listing_id", Reason: "is required"}
	case in.BuyerID == "" || in.SellerID == "":
		return nil, &model.ValidationError{Field: "seller_id", Reason: "is required"}
	case in.BuyerID == in.SellerID:
		return nil, &model.ValidationError{Field: "seller_id", Reason: "cannot negotiate with yourself"}
	case in.Amount <= 0:
		return nil, &model.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	var out *model.Negotiation
	err := s.db.InTx(ctx, func(tx *db.Tx) error {
		res, err := tx.Execute(ctx,
			`INSERT INTO negotiations (listing_id, buyer_id, seller_id, status, current_amount, last_offer_by) VALUES (?, ?, ?, ?, ?, ?)`,
			in.ListingID, in.BuyerID, in.SellerID, string(model.StatusOpen), in.Amount, in.BuyerID)
		if err != nil {
			return err
		}
		if err := insertOffer(ctx, tx, res.LastInsertID, in.BuyerID, in.Amount); err != nil {
			return err
		}
		out, err = getNegotiation(ctx, tx, res.LastInsertID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetNegotiation(ctx context.Context, id int64) (*model.Negotiation, error) {
	return getNegotiation(ctx, s.db, id, false)
}

// Counter replaces the current offer. Only the party who did not author the
// current offer may counter it.
func (s *Store) Counter(ctx context.Context, id int64, actorID string, amount float64) (*model.Negotiation, error) {
	if amount <= 0 {
		return nil, &model.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return s.transition(ctx, id, actorID, model.StatusCountered, func(tx *db.Tx, n *model.Negotiation) error {
		if _, err := tx.Execute(ctx,
			`UPDATE negotiations SET current_amount = ?, last_offer_by = ? WHERE id = ?`,
			amount, actorID, id); err != nil {
			return err
		}
		return insertOffer(ctx, tx, id, actorID, amount)
	})
}

// Accept closes the deal on the current offer. Every other live negotiation on
// the same listing is rejected in the same transaction and returned in its
// rejected state, amounts and parties intact.
func (s *Store) Accept(ctx context.Context, id int64, actorID string) (*model.Negotiation, []model.Negotiation, error) {
	var rejected []model.Negotiation
	n, err := s.transition(ctx, id, actorID, model.StatusAccepted, func(tx *db.Tx, n *model.Negotiation) error {
		rejected = rejected[:0]
		err := tx.FetchAll(ctx, func(row db.Scanner) error {
			other, err := scanNegotiation(row)
			if err != nil {
				return err
			}
			rejected = append(rejected, *other)
			return nil
		}, `SELECT `+negotiationColumns+` FROM negotiations WHERE listing_id = ? AND id <> ? AND status IN (?, ?) ORDER BY id FOR UPDATE`,
			n.ListingID, id, string(model.StatusOpen), string(model.StatusCountered))
		if err != nil {
			return err
		}

		batch := make([][]any, 0, len(rejected))
		for i := range rejected {
			batch = append(batch, []any{string(model.StatusRejected), rejected[i].ID})
			rejected[i].Status = model.StatusRejected
		}
		_, err = tx.ExecuteBatch(ctx, `UPDATE negotiations SET status = ? WHERE id = ?`, batch)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return n, rejected, nil
}

func (s *Store) Reject(ctx context.Context, id int64, actorID string) (*model.Negotiation, error) {
	return s.transition(ctx, id, actorID, model.StatusRejected, nil)
}

// Close archives an accepted or rejected negotiation. Either party may close.
func (s *Store) Close(ctx context.Context, id int64, actorID string) (*model.Negotiation, error) {
	return s.transition(ctx, id, actorID, model.StatusClosed, nil)
}

func (s *Store) ListOffers(ctx context.Context, negotiationID int64) ([]model.Offer, error) {
	offers := make([]model.Offer, 0)
	err := s.db.FetchAll(ctx, func(row db.Scanner) error {
		var o model.Offer
		if err := row.Scan(&o.ID, &o.NegotiationID, &o.ProposerID, &o.Amount, &o.CreatedAt); err != nil {
			return err
		}
		offers = append(offers, o)
		return nil
	}, `SELECT id, negotiation_id, proposer_id, amount, created_at FROM negotiation_offers WHERE negotiation_id = ? ORDER BY id ASC`,
		negotiationID)
	if err != nil {
		return nil, err
	}
	return offers, nil
}

func (s *Store) transition(ctx context.Context, id int64, actorID string, to model.Status, apply func(*db.Tx, *model.Negotiation) error) (*model.Negotiation, error) {
	var out *model.Negotiation
	err := s.db.InTx(ctx, func(tx *db.Tx) error {
		n, err := getNegotiation(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !n.IsParty(actorID) {
			return model.ErrNotParty
		}
		if !n.Status.CanTransition(to) {
			return &model.TransitionError{From: n.Status, To: to}
		}
		if to != model.StatusClosed && n.LastOfferBy == actorID {
			return model.ErrOutOfTurn
		}

		if _, err := tx.Execute(ctx, `UPDATE negotiations SET status = ? WHERE id = ?`, string(to), id); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx, n); err != nil {
				return err
			}
		}

		out, err = getNegotiation(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getNegotiation(ctx context.Context, q fetcher, id int64, forUpdate bool) (*model.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var n *model.Negotiation
	found, err := q.FetchOne(ctx, func(row db.Scanner) error {
		var err error
		n, err = scanNegotiation(row)
		return err
	}, query, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.ErrNegotiationNotFound
	}
	return n, nil
}

// scanNegotiation reads negotiationColumns. A status outside the known set
// means the row was written by something else and is reported as a store error.
func scanNegotiation(row db.Scanner) (*model.Negotiation, error) {
	var (
		n      model.Negotiation
		status string
	)
	if err := row.Scan(&n.ID, &n.ListingID, &n.BuyerID, &n.SellerID, &status,
		&n.CurrentAmount, &n.LastOfferBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Status = model.Status(status)
	if !n.Status.Valid() {
		return nil, &db.StoreError{Op: "scan negotiation", Err: fmt.Errorf("unknown status %q on negotiation %d", status, n.ID)}
	}
	return &n, nil
}

func insertOffer(ctx context.Context, tx *db.Tx, negotiationID int64, proposerID string, amount float64) error {
	_, err := tx.Execute(ctx,
		`INSERT INTO negotiation_offers (negotiation_id, proposer_id, amount) VALUES (?, ?, ?)`,
		negotiationID, proposerID, amount)
	return err
}
