package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config/config.yml"

type Config struct {
	Dashflow  DashflowConfig  `yaml:"dashflow"`
	Feed      FeedConfig      `yaml:"feed"`
	Market    MarketConfig    `yaml:"market"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DashflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// FeedConfig configures the client side of the market feed.
type FeedConfig struct {
	URL               string          `yaml:"url"`
	ConnectTimeout    time.Duration   `yaml:"connect_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Policy       string        `yaml:"policy"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Increment    time.Duration `yaml:"increment"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Jitter       bool          `yaml:"jitter"`
}

type MarketConfig struct {
	Symbol     string           `yaml:"symbol"`
	Interval   string           `yaml:"interval"`
	MaxTrades  int              `yaml:"max_trades"`
	MaxCandles int              `yaml:"max_candles"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// ClassifierConfig holds trade value thresholds in quote currency.
type ClassifierConfig struct {
	Whale float64 `yaml:"whale"`
	Large float64 `yaml:"large"`
	Micro float64 `yaml:"micro"`
}

type DashboardConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Address        string `yaml:"address"`
	MetricsHistory int    `yaml:"metrics_history"`
	LogHistory     int    `yaml:"log_history"`
}

// ServerConfig configures the feed server that produces envelopes.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	Source            string        `yaml:"source"`
	Symbol            string        `yaml:"symbol"`
	InitialPrice      float64       `yaml:"initial_price"`
	TradeInterval     time.Duration `yaml:"trade_interval"`
	BookInterval      time.Duration `yaml:"book_interval"`
	TickerInterval    time.Duration `yaml:"ticker_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	BookLevels        int           `yaml:"book_levels"`
	Publish           PublishConfig `yaml:"publish"`
}

type PublishConfig struct {
	Nats  NatsPublishConfig  `yaml:"nats"`
	Kafka KafkaPublishConfig `yaml:"kafka"`
}

type NatsPublishConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type KafkaPublishConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when a file omits a section.
func Default() Config {
	return Config{
		Dashflow: DashflowConfig{Name: "dashflow", Version: "dev"},
		Feed: FeedConfig{
			URL:               "ws://127.0.0.1:3001/ws",
			ConnectTimeout:    10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			Reconnect: ReconnectConfig{
				Policy:       "exponential",
				InitialDelay: time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   1.5,
				Increment:    time.Second,
				Jitter:       true,
			},
		},
		Market: MarketConfig{
			Symbol:     "BTC-USD",
			Interval:   "1m",
			MaxTrades:  100,
			MaxCandles: 200,
			Classifier: ClassifierConfig{Whale: 1_000_000, Large: 100_000, Micro: 100},
		},
		Dashboard: DashboardConfig{
			Enabled:        true,
			Address:        ":8080",
			MetricsHistory: 500,
			LogHistory:     500,
		},
		Server: ServerConfig{
			Address:           ":3001",
			Source:            "mock",
			Symbol:            "BTC-USD",
			InitialPrice:      50_000,
			TradeInterval:     100 * time.Millisecond,
			BookInterval:      250 * time.Millisecond,
			TickerInterval:    time.Second,
			HeartbeatInterval: 30 * time.Second,
			BookLevels:        20,
			Publish: PublishConfig{
				Nats:  NatsPublishConfig{URL: "nats://127.0.0.1:4222", Subject: "dashflow.market"},
				Kafka: KafkaPublishConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "dashflow.market"},
			},
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "Dashflow"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FEED_URL"); v != "" {
		config.Feed.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("DASHBOARD_ADDRESS"); v != "" {
		config.Dashboard.Address = strings.TrimSpace(v)
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Dashflow.Name == "" {
		return fmt.Errorf("dashflow.name is required")
	}

	u, err := url.Parse(cfg.Feed.URL)
	if err != nil || u.Scheme == "" {
		return fmt.Errorf("feed.url %q is not a valid url", cfg.Feed.URL)
	}
	if cfg.Feed.ConnectTimeout <= 0 {
		return fmt.Errorf("feed.connect_timeout must be greater than 0")
	}
	if cfg.Feed.HeartbeatInterval <= 0 {
		return fmt.Errorf("feed.heartbeat_interval must be greater than 0")
	}

	rc := cfg.Feed.Reconnect
	switch strings.ToLower(rc.Policy) {
	case "exponential", "aggressive", "conservative", "linear", "constant":
	default:
		return fmt.Errorf("feed.reconnect.policy %q is not supported", rc.Policy)
	}
	if rc.InitialDelay <= 0 {
		return fmt.Errorf("feed.reconnect.initial_delay must be greater than 0")
	}
	if rc.MaxDelay < rc.InitialDelay {
		return fmt.Errorf("feed.reconnect.max_delay must not be below initial_delay")
	}
	if rc.Multiplier < 1 {
		return fmt.Errorf("feed.reconnect.multiplier must be at least 1")
	}
	if rc.MaxAttempts < 0 {
		return fmt.Errorf("feed.reconnect.max_attempts must not be negative")
	}

	if cfg.Market.MaxTrades <= 0 {
		return fmt.Errorf("market.max_trades must be greater than 0")
	}
	if cfg.Market.MaxCandles <= 0 {
		return fmt.Errorf("market.max_candles must be greater than 0")
	}
	c := cfg.Market.Classifier
	if !(c.Micro < c.Large && c.Large < c.Whale) {
		return fmt.Errorf("market.classifier thresholds must satisfy micro < large < whale")
	}

	switch cfg.Server.Source {
	case "mock", "binance":
	default:
		return fmt.Errorf("server.source %q is not supported", cfg.Server.Source)
	}
	if cfg.Server.Publish.Kafka.Enabled && (len(cfg.Server.Publish.Kafka.Brokers) == 0 || cfg.Server.Publish.Kafka.Topic == "") {
		return fmt.Errorf("server.publish.kafka requires brokers and topic when enabled")
	}
	if cfg.Server.Publish.Nats.Enabled && cfg.Server.Publish.Nats.Subject == "" {
		return fmt.Errorf("server.publish.nats.subject is required when enabled")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Region == "" {
		return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
	}

	return nil
}
