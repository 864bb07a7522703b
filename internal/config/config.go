package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port        string
	Env         string
	APIUrl      string
	FrontendURL string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret               string
	JWTAccessTokenDuration  time.Duration
	JWTRefreshTokenDuration time.Duration

	// Admin bootstrap
	AdminEmail    string
	AdminPassword string

	// PayPal
	PayPalMode     string // "sandbox" | "live"
	PayPalClientID string
	PayPalSecret   string
	PayPalBrand    string

	// Payments
	Currency string

	// Snapshots of deleted events
	SnapshotPath string

	// Instance projection
	PublishInterval time.Duration

	// Security
	BcryptCost                  int
	RateLimitRequests           int
	RateLimitDuration           time.Duration
	AdminRateLimitActions       int
	AdminRateLimitWindowMinutes int

	// CORS
	AllowedOrigins []string
}

func New() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		APIUrl:      getEnv("API_URL", "http://localhost:8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "koinonia"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "koinonia_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:               getEnv("JWT_SECRET", "your-secret-key"),
		JWTAccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "1h"),
		JWTRefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TOKEN_DURATION", "168h"),

		// Admin bootstrap
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@koinonia.church"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),

		// PayPal
		PayPalMode:     getEnv("PAYPAL_MODE", "sandbox"),
		PayPalClientID: getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalSecret:   getEnv("PAYPAL_SECRET", ""),
		PayPalBrand:    getEnv("PAYPAL_BRAND_NAME", "Koinonia"),

		// Payments
		Currency: getEnv("PAYMENT_CURRENCY", "USD"),

		// Snapshots
		SnapshotPath: getEnv("SNAPSHOT_PATH", "/data/snapshots"),

		// Projection
		PublishInterval: getEnvAsDuration("PUBLISH_INTERVAL", "5m"),

		// Security
		BcryptCost:                  getEnvAsInt("BCRYPT_COST", 12),
		RateLimitRequests:           getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration:           getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),
		AdminRateLimitActions:       getEnvAsInt("ADMIN_RATE_LIMIT_ACTIONS", 5),
		AdminRateLimitWindowMinutes: getEnvAsInt("ADMIN_RATE_LIMIT_WINDOW_MINUTES", 60),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Hour
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
