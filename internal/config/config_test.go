package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "MONERO_WALLET_RPC_URLS", "http://127.0.0.1:18082, http://127.0.0.1:18083")
	setEnv(t, "API_KEY_ENCRYPTION_KEY", "dGVzdC1rZXktdGVzdC1rZXktdGVzdC1rZXktdGVzdCE=")
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"http://127.0.0.1:18082", "http://127.0.0.1:18083"}, cfg.WalletRPCURLs)
	assert.Equal(t, DefaultReconcileInterval, cfg.ReconcileInterval)
	assert.Equal(t, DefaultLateLookbackHours, cfg.LatePaymentLookback)
	assert.Equal(t, DefaultMaxSubaddrIndex, cfg.MaxSubaddressIndex)
}

func TestLoad_MissingWalletRPCURLs(t *testing.T) {
	setEnv(t, "MONERO_WALLET_RPC_URLS", "")
	setEnv(t, "API_KEY_ENCRYPTION_KEY", "dGVzdC1rZXktdGVzdC1rZXktdGVzdC1rZXktdGVzdCE=")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "MONERO_WALLET_RPC_URLS is required")
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	setEnv(t, "MONERO_WALLET_RPC_URLS", "http://127.0.0.1:18082")
	setEnv(t, "API_KEY_ENCRYPTION_KEY", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY_ENCRYPTION_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				WalletRPCURLs:     []string{"http://127.0.0.1:18082"},
				EncryptionKey:     "key",
				ReconcileInterval: 30,
			},
			wantErr: "",
		},
		{
			name: "no wallet backends",
			config: Config{
				EncryptionKey:     "key",
				ReconcileInterval: 30,
			},
			wantErr: "MONERO_WALLET_RPC_URLS is required",
		},
		{
			name: "bad interval",
			config: Config{
				WalletRPCURLs:     []string{"http://127.0.0.1:18082"},
				EncryptionKey:     "key",
				ReconcileInterval: 0,
			},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
