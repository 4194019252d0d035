package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/waste2worth/negotiation-realtime/pkg/auth"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the REST surface. Everything under /api except login
// requires a bearer token.
func NewRouter(h *NegotiationHandler, tokens *auth.Tokens, origins []string, db HealthChecker) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || containsWildcard(origins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				log.Printf("[api] health check failed: %v", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api")
	api.POST("/auth/login", LoginHandler(tokens))

	negotiations := api.Group("/negotiations", AuthMiddleware(tokens))
	negotiations.POST("", h.Create)
	negotiations.GET("/:id", h.Get)
	negotiations.POST("/:id/counter", h.Counter)
	negotiations.POST("/:id/accept", h.Accept)
	negotiations.POST("/:id/reject", h.Reject)
	negotiations.POST("/:id/close", h.Close)
	negotiations.GET("/:id/messages", h.Messages)
	negotiations.GET("/:id/offers", h.Offers)
	negotiations.GET("/:id/presence", h.Presence)

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
