// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Storage StorageConfig `mapstructure:"storage"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig contains RPC, signing and contract configuration
type ChainConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	BackupRPCURLs       []string      `mapstructure:"backup_rpc_urls"`
	ChainID             int64         `mapstructure:"chain_id"`
	RelayerPrivateKey   string        `mapstructure:"relayer_private_key"`
	CreditContract      string        `mapstructure:"credit_contract"`
	AttestationContract string        `mapstructure:"attestation_contract"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
}

// QueueConfig contains Mint Job Queue backend configuration. Either the managed REST
// endpoint and token, or the self-hosted Redis URL, or nothing.
type QueueConfig struct {
	RESTURL        string        `mapstructure:"rest_url"`
	RESTToken      string        `mapstructure:"rest_token"`
	RedisURL       string        `mapstructure:"redis_url"`
	Key            string        `mapstructure:"key"`
	PopTimeout     time.Duration `mapstructure:"pop_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// RelayConfig contains drain and sweep bounds
type RelayConfig struct {
	DrainMaxJobs           int           `mapstructure:"drain_max_jobs"`
	JobsPerSecond          int           `mapstructure:"jobs_per_second"`
	WorkerBackoff          time.Duration `mapstructure:"worker_backoff"`
	StuckAfter             time.Duration `mapstructure:"stuck_after"`
	StuckBatchSize         int           `mapstructure:"stuck_batch_size"`
	ClassificationMaxAge   time.Duration `mapstructure:"classification_max_age"`
	EnqueueOnInlineFailure bool          `mapstructure:"enqueue_on_inline_failure"`
}

// AuthConfig contains JWT and operational endpoint secrets
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	CronSecret string `mapstructure:"cron_secret"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	EnableMetrics  bool          `mapstructure:"enable_metrics"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from an optional .env file, an optional yaml file and
// environment variables. The returned config has not been validated.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("RELAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// bindLegacyEnv maps the variable names the hosted deployment already exports
func bindLegacyEnv(v *viper.Viper) {
	v.BindEnv("chain.rpc_url", "RELAYER_CHAIN_RPC_URL", "ETH_RPC_URL")
	v.BindEnv("chain.chain_id", "RELAYER_CHAIN_CHAIN_ID", "CHAIN_ID")
	v.BindEnv("chain.relayer_private_key", "RELAYER_CHAIN_RELAYER_PRIVATE_KEY", "RELAYER_PRIVATE_KEY")
	v.BindEnv("chain.credit_contract", "RELAYER_CHAIN_CREDIT_CONTRACT", "CONTRACT_ECOCREDIT")
	v.BindEnv("chain.attestation_contract", "RELAYER_CHAIN_ATTESTATION_CONTRACT", "CONTRACT_ATTESTATION")
	v.BindEnv("queue.rest_url", "RELAYER_QUEUE_REST_URL", "UPSTASH_REDIS_REST_URL")
	v.BindEnv("queue.rest_token", "RELAYER_QUEUE_REST_TOKEN", "UPSTASH_REDIS_REST_TOKEN")
	v.BindEnv("queue.redis_url", "RELAYER_QUEUE_REDIS_URL", "REDIS_URL")
	v.BindEnv("storage.connection_string", "RELAYER_STORAGE_CONNECTION_STRING", "DATABASE_URL")
	v.BindEnv("auth.jwt_secret", "RELAYER_AUTH_JWT_SECRET", "JWT_SECRET")
	v.BindEnv("auth.cron_secret", "RELAYER_AUTH_CRON_SECRET", "CRON_SECRET")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "eco-relayer")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.confirmation_timeout", "2m")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "5s")
	v.SetDefault("chain.gas_limit", 0)

	v.SetDefault("queue.key", "minting-jobs")
	v.SetDefault("queue.pop_timeout", "5s")
	v.SetDefault("queue.request_timeout", "10s")

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/relayer.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("relay.drain_max_jobs", 50)
	v.SetDefault("relay.jobs_per_second", 2)
	v.SetDefault("relay.worker_backoff", "5s")
	v.SetDefault("relay.stuck_after", "24h")
	v.SetDefault("relay.stuck_batch_size", 10)
	v.SetDefault("relay.classification_max_age", "720h")
	v.SetDefault("relay.enqueue_on_inline_failure", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks the chain configuration that the relayer cannot start without.
// Queue configuration is deliberately not checked here.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain RPC URL is required")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if c.Chain.RelayerPrivateKey == "" {
		return fmt.Errorf("relayer private key is required")
	}
	if !common.IsHexAddress(c.Chain.CreditContract) {
		return fmt.Errorf("credit contract address is invalid: %q", c.Chain.CreditContract)
	}
	if !common.IsHexAddress(c.Chain.AttestationContract) {
		return fmt.Errorf("attestation contract address is invalid: %q", c.Chain.AttestationContract)
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Relay.DrainMaxJobs <= 0 {
		return fmt.Errorf("relay drain max jobs must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	return nil
}

// QueueBackend names the backend the queue configuration selects
func (q QueueConfig) QueueBackend() string {
	switch {
	case q.RESTURL != "" && q.RESTToken != "":
		return "rest"
	case q.RedisURL != "":
		return "redis"
	default:
		return "none"
	}
}
