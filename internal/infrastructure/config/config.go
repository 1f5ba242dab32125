package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Order         OrderConfig         `mapstructure:"order"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	// OrderRateLimit is the per-IP limit on order creation, per minute.
	OrderRateLimit int `mapstructure:"order_rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	// JWTSecret guards ledger reads when set.
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ProviderConfig points at the payment provider and says how to sign for it.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	OrderPath      string        `mapstructure:"order_path"`
	APIKey         string        `mapstructure:"api_key"`
	Secret         string        `mapstructure:"secret"`
	Algorithm      string        `mapstructure:"algorithm"`
	SecretEncoding string        `mapstructure:"secret_encoding"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// Sandbox mounts an in-process fake provider on the API server.
	Sandbox bool          `mapstructure:"sandbox"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// OrderConfig holds the operational fields merged into every order.
type OrderConfig struct {
	ReturnSuccessURL string `mapstructure:"return_success_url"`
	ReturnFailedURL  string `mapstructure:"return_failed_url"`
	CurrencyTo       string `mapstructure:"currency_to"`
	WalletAddress    string `mapstructure:"wallet_address"`
	WalletExtraID    string `mapstructure:"wallet_extra_id"`
	Country          string `mapstructure:"country"`
	ExternalUserID   string `mapstructure:"external_user_id"`
}

type WorkerConfig struct {
	BatchSize          int64         `mapstructure:"batch_size"`
	BlockDuration      time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	OutboxRetention    time.Duration `mapstructure:"outbox_retention"`
	Stream             string        `mapstructure:"stream"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// ONRAMP_PROVIDER_API_KEY overrides provider.api_key
	v.SetEnvPrefix("ONRAMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/onramp")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, fmt.Errorf("provider.base_url is required"))
	}
	switch c.Provider.Algorithm {
	case "hmac", "rsa":
	default:
		errs = append(errs, fmt.Errorf("provider.algorithm must be hmac or rsa, got %q", c.Provider.Algorithm))
	}
	switch c.Provider.SecretEncoding {
	case "raw", "base64", "auto":
	default:
		errs = append(errs, fmt.Errorf("provider.secret_encoding must be raw, base64 or auto, got %q", c.Provider.SecretEncoding))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive"))
	}
	if c.Provider.Breaker.FailureRatio <= 0 || c.Provider.Breaker.FailureRatio > 1 {
		errs = append(errs, fmt.Errorf("provider.breaker.failure_ratio must be in (0, 1]"))
	}
	if c.Order.CurrencyTo == "" {
		errs = append(errs, fmt.Errorf("order.currency_to is required"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Provider.Secret == "" {
			errs = append(errs, fmt.Errorf("provider.secret required in production"))
		}
		if c.Order.WalletAddress == "" {
			errs = append(errs, fmt.Errorf("order.wallet_address required in production"))
		}
		if c.Provider.Sandbox {
			errs = append(errs, fmt.Errorf("provider.sandbox must be disabled in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.order_rate_limit", 30)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "onramp")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "onramp")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Provider defaults
	v.SetDefault("provider.base_url", "http://localhost:8080/sandbox/provider")
	v.SetDefault("provider.order_path", "/v1/orders")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.secret", "")
	v.SetDefault("provider.algorithm", "hmac")
	v.SetDefault("provider.secret_encoding", "raw")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.sandbox", false)
	v.SetDefault("provider.breaker.max_requests", 10)
	v.SetDefault("provider.breaker.interval", "60s")
	v.SetDefault("provider.breaker.timeout", "30s")
	v.SetDefault("provider.breaker.min_requests", 10)
	v.SetDefault("provider.breaker.failure_ratio", 0.6)

	// Order defaults
	v.SetDefault("order.return_success_url", "")
	v.SetDefault("order.return_failed_url", "")
	v.SetDefault("order.currency_to", "USDTRX")
	v.SetDefault("order.wallet_address", "")
	v.SetDefault("order.wallet_extra_id", "")
	v.SetDefault("order.country", "PH")
	v.SetDefault("order.external_user_id", "")

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.cleanup_interval", "1h")
	v.SetDefault("worker.outbox_retention", "168h")
	v.SetDefault("worker.stream", "onramp:transactions")
	v.SetDefault("worker.consumer_group", "onramp-feed")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")

	// Instance ID
	v.SetDefault("instance_id", "onramp-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form of the DSN, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
