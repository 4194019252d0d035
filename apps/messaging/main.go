package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/waste2worth/negotiation-realtime/pkg/config"
	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

// Shared by every audit instance so each event is written once.
const groupID = "negotiation-audit"

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

	// The audit table may postdate the rest of the schema.
	if err := db.Migrate(ctx, executor, db.Schema); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	consumer := NewConsumer(events.NewDurableSubscriber(cfg.KafkaBrokers, events.Topics{Negotiation: cfg.KafkaNegotiationTopic}, groupID), store.New(executor))
	defer consumer.Close()

	log.Println("Starting negotiation audit consumer...")
	if err := consumer.Consume(ctx); err != nil {
		log.Printf("Consumer stopped: %v", err)
	}
}
