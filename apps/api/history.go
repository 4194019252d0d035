package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/waste2worth/negotiation-realtime/pkg/model"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

// Messages returns the persisted chat history of a negotiation, oldest first.
// Clients page forward with after_id set to the last id they hold.
func (h *NegotiationHandler) Messages(c *gin.Context) {
	n, ok := h.loadForParty(c)
	if !ok {
		return
	}

	page, err := pageFromQuery(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	messages, err := h.store.ListMessages(c.Request.Context(), n.ID, page)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Offers returns every amount proposed in a negotiation, oldest first.
func (h *NegotiationHandler) Offers(c *gin.Context) {
	n, ok := h.loadForParty(c)
	if !ok {
		return
	}

	offers, err := h.store.ListOffers(c.Request.Context(), n.ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	c.JSON(http.StatusOK, offers)
}

func pageFromQuery(c *gin.Context) (store.Page, error) {
	var page store.Page
	if v := c.Query("after_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return page, &model.ValidationError{Field: "after_id", Reason: "must be a non-negative integer"}
		}
		page.AfterID = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return page, &model.ValidationError{Field: "limit", Reason: "must be a non-negative integer"}
		}
		page.Limit = n
	}
	return page, nil
}
