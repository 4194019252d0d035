package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config holds process-wide settings shared by the api and gateway binaries.
type Config struct {
	// Server
	Host        string
	APIPort     string
	GatewayPort string
	GatewayNode int64
	LogFile     string

	// MySQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int

	// JWT
	JWTSecret []byte
	JWTTTL    time.Duration

	// CORS
	CORSOrigins []string

	// Redis
	RedisAddr string

	// Kafka
	KafkaBrokers          []string
	KafkaNegotiationTopic string
	KafkaMessageTopic     string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] could not read .env: %v", err)
	}

	cfg := &Config{
		Host:                  getEnv("HOST", "0.0.0.0"),
		APIPort:               getEnv("PORT", "8081"),
		GatewayPort:           getEnv("GATEWAY_PORT", "8080"),
		LogFile:               os.Getenv("GATEWAY_LOG_FILE"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBUser:                getEnv("DB_USER", "root"),
		DBPassword:            os.Getenv("DB_PASSWORD"),
		DBName:                getEnv("DB_NAME", "waste2worth"),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "*")),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:          splitList(getEnv("KAFKA_BROKERS", "localhost:19092")),
		KafkaNegotiationTopic: getEnv("KAFKA_NEGOTIATION_TOPIC", "negotiation-events"),
		KafkaMessageTopic:     getEnv("KAFKA_MESSAGE_TOPIC", "negotiation-messages"),
	}

	var err error
	if cfg.DBPort, err = getEnvInt("DB_PORT", 3306); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns, err = getEnvInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", cfg.DBMaxConns)
	}

	node, err := getEnvInt("GATEWAY_NODE_ID", 1)
	if err != nil {
		return nil, err
	}
	cfg.GatewayNode = int64(node)

	ttl, err := getEnvInt("JWT_ACCESS_TOKEN_EXPIRES", 3600)
	if err != nil {
		return nil, err
	}
	cfg.JWTTTL = time.Duration(ttl) * time.Second

	secret := os.Getenv("JWT_SECRET_KEY")
	if secret == "" {
		return nil, errors.New("JWT_SECRET_KEY is required")
	}
	cfg.JWTSecret = []byte(secret)

	return cfg, nil
}

// MySQLDSN builds the driver DSN. parseTime is required for created_at scanning.
func (c *Config) MySQLDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort))
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// OriginAllowed reports whether a browser origin may open a realtime connection.
// Requests without an Origin header (non-browser clients) are allowed.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.CORSOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// APIAddr is the listen address of the REST service.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.Host, c.APIPort)
}

// GatewayAddr is the listen address of the realtime gateway.
func (c *Config) GatewayAddr() string {
	return net.JoinHostPort(c.Host, c.GatewayPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
