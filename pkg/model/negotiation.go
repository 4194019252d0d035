package model

import "time"

type Status string

const (
	StatusOpen      Status = "open"
	StatusCountered Status = "countered"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusClosed    Status = "closed"
)

// transitions is the partial order open -> countered* -> {accepted, rejected} -> closed.
var transitions = map[Status][]Status{
	StatusOpen:      {StatusCountered, StatusAccepted, StatusRejected},
	StatusCountered: {StatusCountered, StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusClosed},
	StatusRejected:  {StatusClosed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusCountered, StatusAccepted, StatusRejected, StatusClosed:
		return true
	}
	return false
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Negotiation is an offer exchange between a buyer and a seller for one listing.
type Negotiation struct {
	ID            int64     `json:"id"`
	ListingID     int64     `json:"listing_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Status        Status    `json:"status"`
	CurrentAmount float64   `json:"current_amount"`
	LastOfferBy   string    `json:"last_offer_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (n *Negotiation) IsParty(userID string) bool {
	return userID != "" && (userID == n.BuyerID || userID == n.SellerID)
}

// Offer is one amount proposed during a negotiation.
type Offer struct {
	ID            int64     `json:"id"`
	NegotiationID int64     `json:"negotiation_id"`
	ProposerID    string    `json:"proposer_id"`
	Amount        float64   `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}
