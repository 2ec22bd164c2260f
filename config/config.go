package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	Environment      string
	AllowedOrigins   []string
	JWTSecret        string
	DatabaseURL      string
	BlobDir          string
	Redis            RedisConfig
	WebRTC           WebRTCConfig
	RetainTTL        time.Duration
	ArtifactCacheTTL time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// WebRTCConfig holds the settings shared by every peer connection.
type WebRTCConfig struct {
	STUNURLs           []string
	NegotiationTimeout time.Duration
}

func Load() *Config {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENVIRONMENT", "development"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		JWTSecret:        getEnv("JWT_SECRET", "change-me-in-production"),
		DatabaseURL:      getEnv("DATABASE_URL", "postgres://localhost:5432/liveclass"),
		BlobDir:          getEnv("BLOB_DIR", "./data/lectures"),
		RetainTTL:        getDuration("RETAIN_TTL", 24*time.Hour),
		ArtifactCacheTTL: getDuration("ARTIFACT_CACHE_TTL", 7*24*time.Hour),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		WebRTC: WebRTCConfig{
			STUNURLs:           splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
			NegotiationTimeout: getDuration("NEGOTIATION_TIMEOUT", 30*time.Second),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
