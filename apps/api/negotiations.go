package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

const publishTimeout = 5 * time.Second

// NegotiationStore is the persistence the REST surface needs.
type NegotiationStore interface {
	CreateNegotiation(ctx context.Context, in store.NewNegotiation) (*model.Negotiation, error)
	GetNegotiation(ctx context.Context, id int64) (*model.Negotiation, error)
	Counter(ctx context.Context, id int64, actorID string, amount float64) (*model.Negotiation, error)
	Accept(ctx context.Context, id int64, actorID string) (*model.Negotiation, []model.Negotiation, error)
	Reject(ctx context.Context, id int64, actorID string) (*model.Negotiation, error)
	Close(ctx context.Context, id int64, actorID string) (*model.Negotiation, error)
	ListOffers(ctx context.Context, negotiationID int64) ([]model.Offer, error)
	ListMessages(ctx context.Context, negotiationID int64, page store.Page) ([]model.Message, error)
}

// EventPublisher announces committed transitions to the realtime gateways.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.NegotiationEvent) error
}

// PresenceReader lists the users currently joined to a negotiation room.
type PresenceReader interface {
	Members(ctx context.Context, negotiationID string) ([]string, error)
}

type NegotiationHandler struct {
	store     NegotiationStore
	publisher EventPublisher
	presence  PresenceReader
}

func NewNegotiationHandler(s NegotiationStore, p EventPublisher, presence PresenceReader) *NegotiationHandler {
	return &NegotiationHandler{store: s, publisher: p, presence: presence}
}

type createRequest struct {
	ListingID int64   `json:"listing_id"`
	SellerID  string  `json:"seller_id"`
	Amount    float64 `json:"amount"`
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

// Create opens a negotiation with the caller as buyer.
func (h *NegotiationHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	buyer := currentUser(c)
	n, err := h.store.CreateNegotiation(c.Request.Context(), store.NewNegotiation{
		ListingID: req.ListingID,
		BuyerID:   buyer,
		SellerID:  req.SellerID,
		Amount:    req.Amount,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	h.publish(c, events.TypeProposed, n, buyer)
	c.JSON(http.StatusCreated, n)
}

func (h *NegotiationHandler) Get(c *gin.Context) {
	n, ok := h.loadForParty(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *NegotiationHandler) Counter(c *gin.Context) {
	id, ok := negotiationID(c)
	if !ok {
		return
	}
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	actor := currentUser(c)
	n, err := h.store.Counter(c.Request.Context(), id, actor, req.Amount)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.publish(c, events.TypeCountered, n, actor)
	c.JSON(http.StatusOK, n)
}

// Accept settles the negotiation. Competing negotiations on the listing are
// rejected in the same transaction and announced individually, attributed to
// the listing's seller since the accepting user may not be a party to them.
func (h *NegotiationHandler) Accept(c *gin.Context) {
	id, ok := negotiationID(c)
	if !ok {
		return
	}

	actor := currentUser(c)
	n, rejected, err := h.store.Accept(c.Request.Context(), id, actor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.publish(c, events.TypeAccepted, n, actor)
	for i := range rejected {
		h.publish(c, events.TypeRejected, &rejected[i], rejected[i].SellerID)
	}
	c.JSON(http.StatusOK, gin.H{"negotiation": n, "rejected": rejectedIDs(rejected)})
}

func (h *NegotiationHandler) Reject(c *gin.Context) {
	h.simpleTransition(c, events.TypeRejected, h.store.Reject)
}

func (h *NegotiationHandler) Close(c *gin.Context) {
	h.simpleTransition(c, events.TypeClosed, h.store.Close)
}

func (h *NegotiationHandler) simpleTransition(c *gin.Context, typ events.Type, fn func(context.Context, int64, string) (*model.Negotiation, error)) {
	id, ok := negotiationID(c)
	if !ok {
		return
	}

	actor := currentUser(c)
	n, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.publish(c, typ, n, actor)
	c.JSON(http.StatusOK, n)
}

// Presence lists users with a live gateway connection in the negotiation room.
func (h *NegotiationHandler) Presence(c *gin.Context) {
	n, ok := h.loadForParty(c)
	if !ok {
		return
	}

	users, err := h.presence.Members(c.Request.Context(), string(model.NegotiationIDFromInt(n.ID)))
	if err != nil {
		log.Printf("[api] failed to fetch presence for negotiation %d: %v", n.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch presence"})
		return
	}
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"negotiation_id": model.NegotiationIDFromInt(n.ID), "users": users})
}

// loadForParty fetches the negotiation in the path and checks the caller is
// its buyer or seller.
func (h *NegotiationHandler) loadForParty(c *gin.Context) (*model.Negotiation, bool) {
	id, ok := negotiationID(c)
	if !ok {
		return nil, false
	}
	n, err := h.store.GetNegotiation(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	if !n.IsParty(currentUser(c)) {
		abortWithError(c, model.ErrNotParty)
		return nil, false
	}
	return n, true
}

// publish runs after commit; a failed publish is logged and the request
// still succeeds.
func (h *NegotiationHandler) publish(c *gin.Context, typ events.Type, n *model.Negotiation, actorID string) {
	if h.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), publishTimeout)
	defer cancel()

	ev := events.NewNegotiationEvent(typ, n, actorID)
	if err := h.publisher.Publish(ctx, ev); err != nil {
		log.Printf("[events] failed to publish %s for negotiation %d: %v", typ, n.ID, err)
	}
}

func negotiationID(c *gin.Context) (int64, bool) {
	id, err := model.NegotiationID(c.Param("id")).Int64()
	if err != nil {
		abortWithError(c, err)
		return 0, false
	}
	return id, true
}

func rejectedIDs(rejected []model.Negotiation) []model.NegotiationID {
	out := make([]model.NegotiationID, 0, len(rejected))
	for _, n := range rejected {
		out = append(out, model.NegotiationIDFromInt(n.ID))
	}
	return out
}
