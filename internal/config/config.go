package config

import (
	"os"
	"strconv"
	"time"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

type Config struct {
	APIBaseURL        string
	WSBaseURL         string
	APIToken          string
	DecryptSecret     string
	EncryptedSentinel string
	LocalIDDiscord    string
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
	PollInterval      time.Duration
}

func Load() *Config {
	return &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		WSBaseURL:         getEnv("WS_BASE_URL", "ws://localhost:8080"),
		APIToken:          getEnv("API_TOKEN", ""),
		DecryptSecret:     getEnv("DECRYPT_SECRET", ""),
		EncryptedSentinel: getEnv("ENCRYPTED_SENTINEL", models.SentinelEncrypted),
		LocalIDDiscord:    getEnv("LOCAL_ID_DISCORD", ""),
		ReconnectAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectBackoff:  time.Duration(getEnvInt("RECONNECT_BACKOFF_MS", 3000)) * time.Millisecond,
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL", 10)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, err := strconv.Atoi(os.Getenv(key))
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}
