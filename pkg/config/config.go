package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// Driver names accepted by the DG_*_DRIVER variables.
const (
	DriverMemory   = "memory"
	DriverDocument = "document"
	DriverRedis    = "redis"
	DriverVault    = "vault"
)

// Config holds the gateway configuration, populated from DG_* environment
// variables. A .env file in the working directory is loaded first when
// present.
type Config struct {
	AccessURL           string  `envconfig:"ACCESS_URL"`
	ServiceName         string  `envconfig:"SERVICE_NAME" default:"dedi-gateway"`
	ServiceDescription  string  `envconfig:"SERVICE_DESCRIPTION" default:"A decentralised discovery gateway"`
	ListenAddr          string  `envconfig:"LISTEN_ADDR" default:"0.0.0.0:5321"`
	EMAFactor           float64 `envconfig:"EMA_FACTOR" default:"0.3"`
	ChallengeDifficulty int     `envconfig:"CHALLENGE_DIFFICULTY" default:"22"`

	// PrivateNetwork accepts peers on loopback and RFC 1918 addresses.
	// Only sensible when the whole federation lives on one LAN.
	PrivateNetwork bool `envconfig:"PRIVATE_NETWORK" default:"false"`

	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"memory"`
	BrokerDriver   string `envconfig:"BROKER_DRIVER"`
	CacheDriver    string `envconfig:"CACHE_DRIVER" default:"memory"`
	KmsDriver      string `envconfig:"KMS_DRIVER" default:"memory"`

	DataDir string `envconfig:"DATA_DIR" default:"/var/lib/dedi-gateway"`

	RedisHost string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort int    `envconfig:"REDIS_PORT" default:"6379"`

	VaultAddr          string `envconfig:"VAULT_ADDR"`
	VaultToken         string `envconfig:"VAULT_TOKEN"`
	VaultTransitEngine string `envconfig:"VAULT_TRANSIT_ENGINE" default:"transit"`
	VaultKVEngine      string `envconfig:"VAULT_KV_ENGINE" default:"secret"`
	VaultKVPath        string `envconfig:"VAULT_KV_PATH" default:"dedi-gateway"`

	MessageCatalogDir string `envconfig:"MESSAGE_CATALOG_DIR"`
	ProxyConfig       string `envconfig:"PROXY_CONFIG"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`
}

// Load reads the configuration from the environment. Missing .env files
// are not an error; malformed variables are.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("dg", &cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.ConfigurationParsing("reading environment"), err)
	}

	// The broker follows the cache backend unless overridden: frame
	// queues and the routes describing them have to live in the same
	// place for replicas to agree on who is connected.
	if cfg.BrokerDriver == "" {
		cfg.BrokerDriver = cfg.CacheDriver
	}

	return &cfg, nil
}

// Validate checks the configuration for values that would prevent the
// gateway from serving.
func (c *Config) Validate() error {
	if c.AccessURL == "" {
		return errdefs.ConfigurationParsing("DG_ACCESS_URL must be set")
	}
	if !strings.HasPrefix(c.AccessURL, "http://") && !strings.HasPrefix(c.AccessURL, "https://") {
		return errdefs.ConfigurationParsing("DG_ACCESS_URL must be an http or https URL")
	}

	switch c.DatabaseDriver {
	case DriverMemory, DriverDocument:
	default:
		return errdefs.ConfigurationParsing(fmt.Sprintf("unknown database driver: %s", c.DatabaseDriver))
	}

	switch c.BrokerDriver {
	case DriverMemory, DriverRedis:
	default:
		return errdefs.ConfigurationParsing(fmt.Sprintf("unknown broker driver: %s", c.BrokerDriver))
	}

	switch c.CacheDriver {
	case DriverMemory, DriverRedis:
	default:
		return errdefs.ConfigurationParsing(fmt.Sprintf("unknown cache driver: %s", c.CacheDriver))
	}

	switch c.KmsDriver {
	case DriverMemory, DriverVault:
	default:
		return errdefs.ConfigurationParsing(fmt.Sprintf("unknown KMS driver: %s", c.KmsDriver))
	}

	if c.KmsDriver == DriverVault && (c.VaultAddr == "" || c.VaultToken == "") {
		return errdefs.ConfigurationParsing("vault KMS driver requires DG_VAULT_ADDR and DG_VAULT_TOKEN")
	}

	if c.EMAFactor <= 0 || c.EMAFactor > 1 {
		return errdefs.ConfigurationParsing("DG_EMA_FACTOR must be in (0, 1]")
	}

	if c.ChallengeDifficulty < 1 || c.ChallengeDifficulty > 256 {
		return errdefs.ConfigurationParsing("DG_CHALLENGE_DIFFICULTY must be between 1 and 256")
	}

	return nil
}

// RedisAddr returns the host:port address for the Redis-backed drivers.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Redacted returns the effective configuration as key/value pairs with
// secrets masked, for display by the config command.
func (c *Config) Redacted() map[string]string {
	token := ""
	if c.VaultToken != "" {
		token = "********"
	}

	return map[string]string{
		"access_url":           c.AccessURL,
		"service_name":         c.ServiceName,
		"service_description":  c.ServiceDescription,
		"listen_addr":          c.ListenAddr,
		"ema_factor":           fmt.Sprintf("%g", c.EMAFactor),
		"challenge_difficulty": fmt.Sprintf("%d", c.ChallengeDifficulty),
		"private_network":      fmt.Sprintf("%t", c.PrivateNetwork),
		"database_driver":      c.DatabaseDriver,
		"broker_driver":        c.BrokerDriver,
		"cache_driver":         c.CacheDriver,
		"kms_driver":           c.KmsDriver,
		"data_dir":             c.DataDir,
		"redis_host":           c.RedisHost,
		"redis_port":           fmt.Sprintf("%d", c.RedisPort),
		"vault_addr":           c.VaultAddr,
		"vault_token":          token,
		"vault_transit_engine": c.VaultTransitEngine,
		"vault_kv_engine":      c.VaultKVEngine,
		"vault_kv_path":        c.VaultKVPath,
		"message_catalog_dir":  c.MessageCatalogDir,
		"proxy_config":         c.ProxyConfig,
		"log_level":            c.LogLevel,
		"log_json":             fmt.Sprintf("%t", c.LogJSON),
	}
}
