package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/waste2worth/negotiation-realtime/pkg/config"
	"github.com/waste2worth/negotiation-realtime/pkg/db"
)

func main() {
	drop := flag.Bool("drop", false, "drop every negotiation table before creating the schema")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	executor, err := db.Open(ctx, cfg.MySQLDSN(), 1)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer executor.Close()

	if *drop {
		log.Println("Dropping tables...")
		if err := db.Migrate(ctx, executor, db.DropSchema); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
	}

	if err := db.Migrate(ctx, executor, db.Schema); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}
	log.Println("Schema is up to date.")
}
