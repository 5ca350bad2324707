package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway modes.
const (
	GatewaySimulated = "simulated"
	GatewayHTTP      = "http"
)

// ClickHouseConfig locates the outcome analytics store.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// GatewayConfig selects and tunes the mobile money provider client.
type GatewayConfig struct {
	Mode         string        `yaml:"mode"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	RequestDelay time.Duration `yaml:"request_delay"`
	ConfirmDelay time.Duration `yaml:"confirm_delay"`
	// HTTPTimeout caps a single provider call. Zero leaves calls unbounded
	// apart from session cancellation.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// SessionConfig stores the confirmation polling policy.
type SessionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`
	Server struct {
		Port string `yaml:"port"`
		// AllowedOrigins restricts WebSocket upgrades. Empty accepts any origin.
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Kafka struct {
		BootstrapServers string `yaml:"bootstrap_servers"`
		Topic            string `yaml:"topic"`
		DLQTopic         string `yaml:"dlq_topic"`
	} `yaml:"kafka"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Jaeger     struct {
		Port string `yaml:"port"`
	} `yaml:"jaeger"`
	JWT struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"jwt"`
	RateLimit struct {
		Limit  int           `yaml:"limit"`
		Window time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
	Gateway GatewayConfig `yaml:"gateway"`
	Session SessionConfig `yaml:"session"`
}

// Path returns the config file location, CONFIG_PATH overriding the default.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/config.yaml"
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// First, we substitute environment variables into the raw YAML file.
	expandedFile := os.ExpandEnv(string(file))

	err = yaml.Unmarshal([]byte(expandedFile), config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "payments.outcomes"
	}
	if c.Kafka.DLQTopic == "" {
		c.Kafka.DLQTopic = c.Kafka.Topic + ".dlq"
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = GatewaySimulated
	}
	if c.Gateway.RequestDelay == 0 {
		c.Gateway.RequestDelay = 2 * time.Second
	}
	if c.Gateway.ConfirmDelay == 0 {
		c.Gateway.ConfirmDelay = 2 * time.Second
	}
	if c.Session.PollInterval == 0 {
		c.Session.PollInterval = 10 * time.Second
	}
	if c.Session.MaxAttempts == 0 {
		c.Session.MaxAttempts = 4
	}
	if c.Session.LockTTL == 0 {
		c.Session.LockTTL = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Gateway.Mode {
	case GatewaySimulated:
	case GatewayHTTP:
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.base_url is required in %q mode", GatewayHTTP)
		}
	default:
		return fmt.Errorf("unknown gateway.mode %q", c.Gateway.Mode)
	}
	if c.Session.MaxAttempts < 1 {
		return fmt.Errorf("session.max_attempts must be at least 1")
	}
	return nil
}
