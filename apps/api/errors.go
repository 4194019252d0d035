package main

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waste2worth/negotiation-realtime/pkg/model"
)

// abortWithError maps domain errors onto HTTP statuses. Store failures are
// logged and reported without their driver detail.
func abortWithError(c *gin.Context, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
	case errors.Is(err, model.ErrNegotiationNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Negotiation not found"})
	case errors.Is(err, model.ErrNotParty):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not a party to this negotiation"})
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrOutOfTurn):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[api] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
