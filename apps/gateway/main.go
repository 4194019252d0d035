package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/waste2worth/negotiation-realtime/pkg/room"
	"github.com/waste2worth/negotiation-realtime/pkg/snowflake"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	executor, err := db.Open(ctx, cfg.MySQLDSN(), cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer executor.Close()

	ids, err := snowflake.NewNode(cfg.GatewayNode)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	tracker := presence.New(presence.NewClient(cfg.RedisAddr))
	defer tracker.Close()

	gateway := NewGateway(store.New(executor), room.NewRegistry(), tracker)
	go gateway.KeepPresence(ctx, presence.HeartbeatInterval)

	// The instance id names both this process's consumer group, so every
	// gateway sees every record, and the origin of the messages it relays.
	instanceID := fmt.Sprintf("gateway-%d-%d", cfg.GatewayNode, time.Now().UnixNano())

	relay := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaMessageTopic)
	defer relay.Close()
	gateway.EnableRelay(instanceID, relay)

	topics := events.Topics{Negotiation: cfg.KafkaNegotiationTopic, Message: cfg.KafkaMessageTopic}
	subscriber := events.NewSubscriber(cfg.KafkaBrokers, topics, instanceID)
	defer subscriber.Close()
	go func() {
		handler := events.Handler{
			Negotiation: gateway.BroadcastNegotiationEvent,
			Message:     gateway.DeliverRelayed,
		}
		if err := subscriber.Run(ctx, handler); err != nil {
			log.Printf("[events] subscriber stopped: %v", err)
		}
	}()

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	mux := http.NewServeMux()
	mux.Handle("/ws", NewHandler(ctx, gateway, tokens, ids, cfg.OriginAllowed))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := executor.Ping(pingCtx); err != nil {
			log.Printf("[gateway] health check failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","connections":%d}`, gateway.ClientCount())
			return
		}
		fmt.Fprintf(w, `{"status":"healthy","connections":%d}`, gateway.ClientCount())
	})

	server := &http.Server{Addr: cfg.GatewayAddr(), Handler: mux}
	go func() {
		log.Printf("Gateway Service Starting on %s...", cfg.GatewayAddr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("Gateway Service shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	gateway.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Gateway shutdown error: %v", err)
	}
}
