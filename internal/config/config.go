// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Wallet RPC pool
	WalletRPCURLs      []string
	WalletRPCUser      string
	WalletRPCPassword  string
	WalletFilePassword string // Password for wallet files opened/created on the RPC host
	WalletDir          string // Wallet file directory on the RPC host, used in conflict messages

	// Daemon
	DaemonURL string

	// Secrets
	EncryptionKey string // Base64 32-byte key for at-rest encryption of view keys and webhook secrets

	// Reconciliation
	ReconcileInterval    int // seconds
	LatePaymentLookback  int // hours
	DefaultExpiryHours   int
	MaxSubaddressIndex   int
	DefaultConfirmations int

	// Rates
	CoinGeckoAPIKey string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultReconcileInterval = 30
	DefaultLateLookbackHours = 48
	DefaultExpiryHours       = 24
	DefaultMaxSubaddrIndex   = 100
	DefaultConfirmTarget     = 1
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		WalletRPCURLs:        splitList(os.Getenv("MONERO_WALLET_RPC_URLS")),
		WalletRPCUser:        os.Getenv("MONERO_WALLET_RPC_USER"),
		WalletRPCPassword:    os.Getenv("MONERO_WALLET_RPC_PASSWORD"),
		WalletFilePassword:   os.Getenv("MONERO_WALLET_RPC_WALLET_PASSWORD"),
		WalletDir:            strings.TrimSpace(os.Getenv("MONERO_WALLET_RPC_WALLET_DIR")),
		DaemonURL:            os.Getenv("MONERO_DAEMON_URL"),
		EncryptionKey:        os.Getenv("API_KEY_ENCRYPTION_KEY"),
		ReconcileInterval:    getEnvInt("INVOICE_RECONCILE_INTERVAL_SECONDS", DefaultReconcileInterval),
		LatePaymentLookback:  getEnvInt("LATE_PAYMENT_LOOKBACK_HOURS", DefaultLateLookbackHours),
		DefaultExpiryHours:   getEnvInt("INVOICE_DEFAULT_EXPIRY_HOURS", DefaultExpiryHours),
		MaxSubaddressIndex:   getEnvInt("MAX_SUBADDRESS_INDEX", DefaultMaxSubaddrIndex),
		DefaultConfirmations: getEnvInt("DEFAULT_CONFIRMATION_TARGET", DefaultConfirmTarget),
		CoinGeckoAPIKey:      os.Getenv("COINGECKO_API_KEY"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if len(c.WalletRPCURLs) == 0 {
		return fmt.Errorf("MONERO_WALLET_RPC_URLS is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("API_KEY_ENCRYPTION_KEY is required")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("INVOICE_RECONCILE_INTERVAL_SECONDS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
