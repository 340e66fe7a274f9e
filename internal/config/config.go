package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverDynamoDB = "dynamodb"
	DriverPostgres = "postgres"
)

type Config struct {
	Env       string          `yaml:"env"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	SNS       SNSConfig       `yaml:"sns"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

type GatewayConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	ChargeTTL   time.Duration `yaml:"charge_ttl"`
	CallbackURL string        `yaml:"callback_url"`
	CreatePaths []string      `yaml:"create_paths"`
	StatusPaths []string      `yaml:"status_paths"`
}

type WebhookConfig struct {
	Secret             string        `yaml:"secret"`
	VerifyWithProvider bool          `yaml:"verify_with_provider"`
	SignatureTolerance time.Duration `yaml:"signature_tolerance"` // max age of x-signature ts
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type DynamoDBConfig struct {
	PaymentsTable string `yaml:"payments_table"`
	GroupsTable   string `yaml:"groups_table"`
	UsersTable    string `yaml:"users_table"`
	Endpoint      string `yaml:"endpoint"`
}

type PostgresConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SNSConfig struct {
	TopicARN string `yaml:"topic_arn"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Version     string `yaml:"version"`
}

func (c *Config) Development() bool { return c.Env == "development" }

// Load reads the YAML file at path (when it exists), then applies environment
// overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, "ENV")
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Gateway.APIKey, "PIX_GATEWAY_API_KEY")
	setString(&cfg.Gateway.BaseURL, "PIX_GATEWAY_BASE_URL")
	setString(&cfg.Gateway.CallbackURL, "PIX_GATEWAY_CALLBACK_URL")
	setString(&cfg.Webhook.Secret, "PIX_WEBHOOK_SECRET")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.Postgres.URL, "DATABASE_URL")
	setString(&cfg.Store.DynamoDB.PaymentsTable, "DYNAMODB_TABLE_NAME")
	setString(&cfg.Store.DynamoDB.GroupsTable, "DYNAMODB_GROUPS_TABLE")
	setString(&cfg.Store.DynamoDB.UsersTable, "DYNAMODB_USERS_TABLE")
	setString(&cfg.Store.DynamoDB.Endpoint, "DYNAMODB_ENDPOINT")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.SNS.TopicARN, "AWS_SNS_TOPIC_ARN")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	if v, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
	if v, ok := os.LookupEnv("PIX_WEBHOOK_VERIFY_WITH_PROVIDER"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Webhook.VerifyWithProvider = b
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "production"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.ChargeTTL <= 0 {
		cfg.Gateway.ChargeTTL = time.Hour
	}
	if cfg.Webhook.SignatureTolerance <= 0 {
		cfg.Webhook.SignatureTolerance = 5 * time.Minute
	}
	if len(cfg.Gateway.CreatePaths) == 0 {
		cfg.Gateway.CreatePaths = []string{"/api/pix/cashIn", "/api/v1/pix/cashIn", "/v1/pix/charges", "/pix/charges"}
	}
	if len(cfg.Gateway.StatusPaths) == 0 {
		cfg.Gateway.StatusPaths = []string{"/api/pix/cashIn/{id}", "/api/v1/pix/cashIn/{id}", "/v1/pix/charges/{id}", "/pix/charges/{id}"}
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverDynamoDB
	}
	if cfg.Store.DynamoDB.PaymentsTable == "" {
		cfg.Store.DynamoDB.PaymentsTable = "Payments"
	}
	if cfg.Store.DynamoDB.GroupsTable == "" {
		cfg.Store.DynamoDB.GroupsTable = "Groups"
	}
	if cfg.Store.DynamoDB.UsersTable == "" {
		cfg.Store.DynamoDB.UsersTable = "Users"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "telegrupos-payments"
	}
	if cfg.Telemetry.Version == "" {
		cfg.Telemetry.Version = "1.0.0"
	}
}

// Validate reports configuration that must stop the process at startup.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gateway.APIKey) == "" {
		return errors.New("gateway.api_key is required")
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		return errors.New("gateway.base_url is required")
	}
	for _, p := range c.Gateway.StatusPaths {
		if !strings.Contains(p, "{id}") {
			return fmt.Errorf("gateway.status_paths entry %q has no {id} placeholder", p)
		}
	}
	switch c.Store.Driver {
	case DriverDynamoDB:
	case DriverPostgres:
		if c.Store.Postgres.URL == "" {
			return errors.New("store.postgres.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	return nil
}
