package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waste2worth/negotiation-realtime/pkg/auth"
	"github.com/waste2worth/negotiation-realtime/pkg/config"
	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/presence"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor, err := db.Open(ctx, cfg.MySQLDSN(), cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer executor.Close()

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaNegotiationTopic)
	defer publisher.Close()

	tracker := presence.New(presence.NewClient(cfg.RedisAddr))
	defer tracker.Close()

	handler := NewNegotiationHandler(store.New(executor), publisher, tracker)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	server := &http.Server{
		Addr:         cfg.APIAddr(),
		Handler:      NewRouter(handler, tokens, cfg.CORSOrigins, executor),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("API Service Starting on %s...", cfg.APIAddr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("API Service shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown error: %v", err)
	}
}
