package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverScylla   = "scylla"
)

// Config aggregates configuration of the messaging-service, the chat gateway and chatctl.
type Config struct {
	Env      string
	GRPCAddr string
	HTTPAddr string

	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	Scylla      ScyllaConfig

	KafkaBrokers     []string
	KafkaTopic       string
	KafkaGroupPrefix string

	MessagingGRPCAddr string
	MessagingGRPCTime time.Duration

	MongoURI string
	MongoDB  string
	S3       S3Config

	JWTSecret        string
	ChatHistoryLimit int
	AuthDebounce     time.Duration
	// SessionIdleTTL closes HTTP chat sessions that had no event stream or request for this long.
	SessionIdleTTL time.Duration
}

type ScyllaConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       gocql.Consistency
	Timeout           time.Duration
	ReplicationFactor int
}

type S3Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PresignTTL time.Duration
}

// LoadDotEnv preloads variables from path without overriding the real environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:               getEnv("APP_ENV", "dev"),
		GRPCAddr:          getEnv("GRPC_ADDR", ":9000"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:       strings.ToLower(strings.TrimSpace(getEnv("STORE_DRIVER", DriverMemory))),
		SQLitePath:        getEnv("SQLITE_PATH", "marketchat.db"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		KafkaBrokers:      splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "chat.message_inserted"),
		KafkaGroupPrefix:  getEnv("KAFKA_GROUP_PREFIX", "marketchat-feed"),
		MessagingGRPCAddr: getEnv("MESSAGING_GRPC_ADDR", "localhost:9000"),
		MongoURI:          strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDB:           getEnv("MONGO_DB", "marketchat"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		Scylla: ScyllaConfig{
			Hosts:             splitAndTrim(getEnv("SCYLLA_HOSTS", "localhost")),
			Keyspace:          strings.TrimSpace(getEnv("SCYLLA_KEYSPACE", "marketchat_messaging")),
			Username:          strings.TrimSpace(os.Getenv("SCYLLA_USERNAME")),
			Password:          strings.TrimSpace(os.Getenv("SCYLLA_PASSWORD")),
			ReplicationFactor: parseIntWithDefault(strings.TrimSpace(os.Getenv("SCYLLA_REPLICATION_FACTOR")), 1),
		},
		S3: S3Config{
			Endpoint:  strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
			AccessKey: getEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("S3_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("S3_BUCKET", "marketchat-avatars"),
		},
	}

	var err error
	if cfg.Scylla.Timeout, err = parseDurationEnv("SCYLLA_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.Consistency, err = parseConsistency(getEnv("SCYLLA_CONSISTENCY", "quorum")); err != nil {
		return Config{}, err
	}
	if cfg.Scylla.ReplicationFactor < 1 {
		cfg.Scylla.ReplicationFactor = 1
	}
	if cfg.MessagingGRPCTime, err = parseDurationEnv("MESSAGING_GRPC_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.S3.UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.S3.PresignTTL, err = parseDurationEnv("S3_PRESIGN_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AuthDebounce, err = parseDurationEnv("AUTH_DEBOUNCE", 250*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTTL, err = parseDurationEnv("CHAT_SESSION_IDLE_TTL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	limit := strings.TrimSpace(os.Getenv("CHAT_HISTORY_LIMIT"))
	if limit == "" {
		cfg.ChatHistoryLimit = 50
	} else if cfg.ChatHistoryLimit, err = strconv.Atoi(limit); err != nil || cfg.ChatHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("invalid CHAT_HISTORY_LIMIT: %q", limit)
	}

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case DriverScylla:
		if cfg.Scylla.Keyspace == "" {
			return Config{}, fmt.Errorf("SCYLLA_KEYSPACE is required")
		}
		if len(cfg.Scylla.Hosts) == 0 {
			return Config{}, fmt.Errorf("SCYLLA_HOSTS is required")
		}
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("KAFKA_BROKERS is required for the scylla store")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_DRIVER: %s", cfg.StoreDriver)
	}
	return cfg, nil
}

// ValidateGateway checks the settings only the HTTP gateway needs.
func (c Config) ValidateGateway() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// ProfilesEnabled reports whether a Mongo profile directory is configured.
func (c Config) ProfilesEnabled() bool { return c.MongoURI != "" }

// AvatarsEnabled reports whether avatar keys should be presigned through S3.
func (c Config) AvatarsEnabled() bool { return c.S3.Endpoint != "" }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}

func parseIntWithDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v == 0 {
		return def
	}
	return v
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}
