package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bridge agent.
type Config struct {
	Env string

	// Storage
	StoreBackend string // "file", "sqlite", or "postgres"
	DataDir      string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string

	// Identity and routing
	NodeIdentity  string // full mesh identity; generated when empty
	NodeName      string
	ListenChannel string

	// Reply shaping
	MaxMessageLength      int
	ContextWindow         int
	MaxConversationLength int // per-conversation retention, 0 = unlimited
	ChunkDelay            time.Duration
	ReasoningTimeout      time.Duration
	ReplyRateLimit        int // replies per sender per window, 0 disables
	ReplyRateWindow       time.Duration
	EventLogMax           int
	KnowledgeDir          string

	// Status API
	Port string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("ENV", "development"),

		StoreBackend: getEnv("STORE_BACKEND", "file"),
		DataDir:      getEnv("DATA_DIR", "data"),
		SQLitePath:   getEnv("SQLITE_PATH", "data/meshbot.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),

		NodeIdentity:  os.Getenv("NODE_IDENTITY"),
		NodeName:      getEnv("NODE_NAME", "MeshBot"),
		ListenChannel: getEnv("LISTEN_CHANNEL", "0"),

		MaxMessageLength:      getEnvInt("MAX_MESSAGE_LENGTH", 120),
		ContextWindow:         getEnvInt("CONTEXT_WINDOW", 10),
		MaxConversationLength: getEnvInt("MAX_CONVERSATION_MESSAGES", 100),
		ChunkDelay:            time.Duration(getEnvInt("CHUNK_DELAY_MS", 500)) * time.Millisecond,
		ReasoningTimeout:      time.Duration(getEnvInt("REASONING_TIMEOUT_SECONDS", 30)) * time.Second,
		ReplyRateLimit:        getEnvInt("REPLY_RATE_LIMIT", 20),
		ReplyRateWindow:       time.Duration(getEnvInt("REPLY_RATE_WINDOW_SECONDS", 60)) * time.Second,
		EventLogMax:           getEnvInt("EVENT_LOG_MAX", 1000),
		KnowledgeDir:          os.Getenv("KNOWLEDGE_DIR"),

		Port: getEnv("PORT", "8080"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
