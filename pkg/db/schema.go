package db

import (
	"context"
	"log"
	"strings"
)

// Schema creates the tables the negotiation subsystem reads and writes.
// users is owned by the identity service; only id and name are relied on here.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255),
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS negotiations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		listing_id BIGINT NOT NULL,
		buyer_id VARCHAR(64) NOT NULL,
		seller_id VARCHAR(64) NOT NULL,
		status ENUM('open', 'countered', 'accepted', 'rejected', 'closed') NOT NULL DEFAULT 'open',
		current_amount DECIMAL(12, 2) NOT NULL,
		last_offer_by VARCHAR(64) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
		INDEX idx_negotiations_listing_status (listing_id, status),
		FOREIGN KEY (buyer_id) REFERENCES users(id),
		FOREIGN KEY (seller_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS negotiation_offers (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		negotiation_id BIGINT NOT NULL,
		proposer_id VARCHAR(64) NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_offers_negotiation (negotiation_id, id),
		FOREIGN KEY (negotiation_id) REFERENCES negotiations(id) ON DELETE CASCADE,
		FOREIGN KEY (proposer_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS negotiation_messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		negotiation_id BIGINT NOT NULL,
		sender_id VARCHAR(64) NOT NULL,
		message_text TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_messages_negotiation (negotiation_id, id),
		FOREIGN KEY (negotiation_id) REFERENCES negotiations(id) ON DELETE CASCADE,
		FOREIGN KEY (sender_id) REFERENCES users(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS negotiation_logs (
		id CHAR(26) PRIMARY KEY,
		negotiation_id BIGINT NOT NULL,
		listing_id BIGINT NOT NULL,
		event_type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		actor_id VARCHAR(64) NOT NULL,
		occurred_at DATETIME(6) NOT NULL,
		recorded_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		INDEX idx_logs_negotiation (negotiation_id, occurred_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// DropSchema removes the tables in reverse dependency order.
var DropSchema = []string{
	`DROP TABLE IF EXISTS negotiation_logs`,
	`DROP TABLE IF EXISTS negotiation_messages`,
	`DROP TABLE IF EXISTS negotiation_offers`,
	`DROP TABLE IF EXISTS negotiations`,
	`DROP TABLE IF EXISTS users`,
}

// Migrate applies statements one at a time and stops at the first failure.
func Migrate(ctx context.Context, e *Executor, statements []string) error {
	for _, stmt := range statements {
		if _, err := e.Execute(ctx, stmt); err != nil {
			return err
		}
		log.Printf("[db] applied: %.40s...", collapse(stmt))
	}
	return nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
