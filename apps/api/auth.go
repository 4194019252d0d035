package main

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/waste2worth/negotiation-realtime/pkg/auth"
)

// ContextKeyUserID holds the authenticated user id in the gin context.
const ContextKeyUserID = "userID"

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// LoginHandler issues an access token for a user id. Identity proofing
// happens upstream of this service.
func LoginHandler(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}

		token, err := tokens.GenerateToken(req.UserID)
		if err != nil {
			log.Printf("[api] failed to generate token for %s: %v", req.UserID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}
		c.JSON(http.StatusOK, LoginResponse{Token: token})
	}
}

// AuthMiddleware validates the bearer token and stores the user id for handlers.
func AuthMiddleware(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := auth.TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
