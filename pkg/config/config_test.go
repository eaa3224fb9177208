package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		AccessURL:           "https://gateway.example.com",
		ServiceName:         "dedi-gateway",
		ListenAddr:          "0.0.0.0:5321",
		EMAFactor:           0.3,
		ChallengeDifficulty: 22,
		DatabaseDriver:      DriverMemory,
		BrokerDriver:        DriverMemory,
		CacheDriver:         DriverMemory,
		KmsDriver:           DriverMemory,
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DG_ACCESS_URL", "https://gateway.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dedi-gateway", cfg.ServiceName)
	assert.Equal(t, "0.0.0.0:5321", cfg.ListenAddr)
	assert.Equal(t, 0.3, cfg.EMAFactor)
	assert.Equal(t, 22, cfg.ChallengeDifficulty)
	assert.Equal(t, DriverMemory, cfg.DatabaseDriver)
	assert.Equal(t, DriverMemory, cfg.BrokerDriver)
	assert.Equal(t, DriverMemory, cfg.CacheDriver)
	assert.Equal(t, DriverMemory, cfg.KmsDriver)
	assert.Equal(t, "localhost", cfg.RedisHost)
	assert.Equal(t, 6379, cfg.RedisPort)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DG_ACCESS_URL", "https://node-1.example.com")
	t.Setenv("DG_CACHE_DRIVER", "redis")
	t.Setenv("DG_REDIS_HOST", "redis.internal")
	t.Setenv("DG_REDIS_PORT", "6380")
	t.Setenv("DG_EMA_FACTOR", "0.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://node-1.example.com", cfg.AccessURL)
	assert.Equal(t, DriverRedis, cfg.CacheDriver)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, 0.5, cfg.EMAFactor)
}

func TestBrokerFollowsCacheDriver(t *testing.T) {
	t.Setenv("DG_ACCESS_URL", "https://node-1.example.com")
	t.Setenv("DG_CACHE_DRIVER", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.BrokerDriver)

	t.Setenv("DG_BROKER_DRIVER", "memory")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.BrokerDriver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing access url",
			mutate:  func(c *Config) { c.AccessURL = "" },
			wantErr: "DG_ACCESS_URL",
		},
		{
			name:    "access url without scheme",
			mutate:  func(c *Config) { c.AccessURL = "gateway.example.com" },
			wantErr: "http or https",
		},
		{
			name:    "unknown database driver",
			mutate:  func(c *Config) { c.DatabaseDriver = "postgres" },
			wantErr: "unknown database driver",
		},
		{
			name:    "unknown broker driver",
			mutate:  func(c *Config) { c.BrokerDriver = "kafka" },
			wantErr: "unknown broker driver",
		},
		{
			name:    "unknown cache driver",
			mutate:  func(c *Config) { c.CacheDriver = "memcached" },
			wantErr: "unknown cache driver",
		},
		{
			name:    "unknown kms driver",
			mutate:  func(c *Config) { c.KmsDriver = "aws" },
			wantErr: "unknown KMS driver",
		},
		{
			name:    "vault without address",
			mutate:  func(c *Config) { c.KmsDriver = DriverVault },
			wantErr: "DG_VAULT_ADDR",
		},
		{
			name:    "ema factor zero",
			mutate:  func(c *Config) { c.EMAFactor = 0 },
			wantErr: "DG_EMA_FACTOR",
		},
		{
			name:    "ema factor above one",
			mutate:  func(c *Config) { c.EMAFactor = 1.5 },
			wantErr: "DG_EMA_FACTOR",
		},
		{
			name:    "difficulty too low",
			mutate:  func(c *Config) { c.ChallengeDifficulty = 0 },
			wantErr: "DG_CHALLENGE_DIFFICULTY",
		},
		{
			name:    "difficulty too high",
			mutate:  func(c *Config) { c.ChallengeDifficulty = 300 },
			wantErr: "DG_CHALLENGE_DIFFICULTY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedactedMasksVaultToken(t *testing.T) {
	cfg := validConfig()
	cfg.VaultToken = "s.supersecret"

	redacted := cfg.Redacted()
	assert.Equal(t, "********", redacted["vault_token"])
	assert.NotContains(t, redacted["vault_token"], "supersecret")
}
