package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIBaseURL  string
	SocketURL   string
	Environment string

	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	HandshakeTimeout time.Duration
	HandshakeGrace   time.Duration
	ReconnectDelay   time.Duration

	SessionTimeout   time.Duration
	WarningThreshold time.Duration
	PollInterval     time.Duration

	FeedCapacity int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:5000/api"),
		SocketURL:   getEnv("SOCKET_URL", "ws://localhost:5000/chat"),
		Environment: getEnv("ENVIRONMENT", "development"),

		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
		MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvAsDuration("RETRY_BASE_DELAY", time.Second),

		HandshakeTimeout: getEnvAsDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		HandshakeGrace:   getEnvAsDuration("HANDSHAKE_GRACE", 5*time.Second),
		ReconnectDelay:   getEnvAsDuration("RECONNECT_DELAY", 10*time.Second),

		SessionTimeout:   getEnvAsDuration("SESSION_TIMEOUT", 60*time.Minute),
		WarningThreshold: getEnvAsDuration("SESSION_WARNING_THRESHOLD", 5*time.Minute),
		PollInterval:     getEnvAsDuration("SESSION_POLL_INTERVAL", 60*time.Second),

		FeedCapacity: getEnvAsInt("FEED_CAPACITY", 50),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
