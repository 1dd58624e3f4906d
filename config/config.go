// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Mpesa      MpesaConfig
	Settlement SettlementConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	RequestTimeout time.Duration
	AllowedOrigins []string
	// RateLimit caps payment requests per client inside RateWindow.
	RateLimit      int
	RateWindow     time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	// URL overrides the individual fields when set.
	URL string
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addrs    []string
	Password string
	Cluster  bool
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	Topic    string
	ClientID string
}

// MpesaConfig holds the non-secret gateway settings. Credentials live in the
// SecretStore so they can be rotated at runtime.
type MpesaConfig struct {
	Environment    string
	BaseURL        string
	RequestTimeout time.Duration
	// SecretBackend is "env" or "redis".
	SecretBackend     string
	CertPath          string
	InitiatorPassword string
}

type SettlementConfig struct {
	Currency           string
	PollMaxAttempts    int
	PollInterval       time.Duration
	PollAttemptWindow  time.Duration
	StaleAfter         time.Duration
	AutoReleaseDays    int
	CommissionCacheTTL time.Duration
}

type AuthConfig struct {
	// JWTSecret verifies HS256 tokens; JWTPublicKeyPath verifies RS256 ones.
	JWTSecret        string
	JWTPublicKeyPath string
	Issuer           string
}

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"
)

func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8030"),
			Env:            getEnv("ENVIRONMENT", "development"),
			RequestTimeout: getEnvDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimit:      getEnvInt("RATE_LIMIT_REQUESTS", 30),
			RateWindow:     getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "freelance"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			URL:      getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addrs:    getEnvList("REDIS_ADDRS", []string{getEnv("REDIS_HOST", "localhost") + ":" + getEnv("REDIS_PORT", "6379")}),
			Password: getEnv("REDIS_PASSWORD", ""),
			Cluster:  getEnvBool("REDIS_CLUSTER", false),
		},
		Kafka: KafkaConfig{
			Enabled:  getEnvBool("KAFKA_ENABLED", false),
			Brokers:  getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:    getEnv("KAFKA_SETTLEMENT_TOPIC", "settlement.events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "settlement-service"),
		},
		Mpesa: MpesaConfig{
			Environment:       getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:           getEnv("MPESA_BASE_URL", ""),
			RequestTimeout:    getEnvDuration("MPESA_REQUEST_TIMEOUT", 30*time.Second),
			SecretBackend:     getEnv("MPESA_SECRET_BACKEND", "env"),
			CertPath:          getEnv("MPESA_CERT_PATH", ""),
			InitiatorPassword: getEnv("MPESA_INITIATOR_PASSWORD", ""),
		},
		Settlement: SettlementConfig{
			Currency:           getEnv("SETTLEMENT_CURRENCY", "KES"),
			PollMaxAttempts:    getEnvInt("POLL_MAX_ATTEMPTS", 60),
			PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
			PollAttemptWindow:  getEnvDuration("POLL_ATTEMPT_WINDOW", 24*time.Hour),
			StaleAfter:         getEnvDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
			AutoReleaseDays:    getEnvInt("ESCROW_AUTO_RELEASE_DAYS", 30),
			CommissionCacheTTL: getEnvDuration("COMMISSION_CACHE_TTL", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("JWT_SECRET", ""),
			JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", ""),
			Issuer:           getEnv("JWT_ISSUER", ""),
		},
	}

	if cfg.Mpesa.BaseURL == "" {
		cfg.Mpesa.BaseURL = sandboxBaseURL
		if cfg.Mpesa.Environment == "production" {
			cfg.Mpesa.BaseURL = productionBaseURL
		}
	}

	if cfg.Settlement.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}

	if cfg.Auth.JWTSecret == "" && cfg.Auth.JWTPublicKeyPath == "" {
		logger.Warn("no JWT verification key configured, admin endpoints will reject every request")
	}

	logger.Info("configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("mpesa_environment", cfg.Mpesa.Environment),
		zap.String("secret_backend", cfg.Mpesa.SecretBackend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
