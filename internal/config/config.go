package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the application configuration
type Config struct {
	DataDir   string
	Storage   string // "file" | "sqlite"
	EventName string
	RulesFile string
	LinkBase  string
	LogLevel  zerolog.Level

	// Remote sync; empty RedisURL runs local-only.
	RedisURL     string
	RedisPrefix  string
	WriteTimeout time.Duration

	WhatsAppEnabled bool
	NotifyCheckIn   bool
	NotifyWinner    bool
}

// LoadConfig loads configuration from a .env file, environment variables or
// defaults
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		DataDir:         getEnv("CHECKIN_DATA_DIR", "data"),
		Storage:         strings.ToLower(getEnv("CHECKIN_STORAGE", "sqlite")),
		EventName:       getEnv("CHECKIN_EVENT_NAME", ""),
		RulesFile:       getEnv("CHECKIN_RULES_FILE", ""),
		LinkBase:        getEnv("CHECKIN_LINK_BASE", "http://localhost:5173/guest"),
		LogLevel:        getEnvLevel("CHECKIN_LOG_LEVEL", zerolog.InfoLevel),
		RedisURL:        getEnv("REDIS_URL", ""),
		RedisPrefix:     getEnv("REDIS_PREFIX", "checkin"),
		WriteTimeout:    time.Duration(getEnvInt("CHECKIN_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		WhatsAppEnabled: getEnvBool("WHATSAPP_ENABLED", false),
		NotifyCheckIn:   getEnvBool("WHATSAPP_NOTIFY_CHECKIN", true),
		NotifyWinner:    getEnvBool("WHATSAPP_NOTIFY_WINNER", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	parsed, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	level, err := zerolog.ParseLevel(strings.ToLower(value))
	if err != nil {
		return defaultValue
	}
	return level
}
