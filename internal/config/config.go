package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"orderflow/internal/logging"
	"orderflow/internal/rates"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Stage    StageConfig    `mapstructure:"stage"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// KafkaConfig covers broker connectivity and topic names.
type KafkaConfig struct {
	Bootstrap       string `mapstructure:"bootstrap"`
	TopicRaw        string `mapstructure:"topic_raw"`
	TopicEnriched   string `mapstructure:"topic_enriched"`
	TopicDeadLetter string `mapstructure:"topic_dead_letter"`
	GroupID         string `mapstructure:"group_id"`
}

// GatewayConfig governs the ingest API and the publish/ack handshake.
type GatewayConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	AckTimeout  time.Duration `mapstructure:"ack_timeout"`
	JournalDir  string        `mapstructure:"journal_dir"`
	RecentLimit int           `mapstructure:"recent_limit"`
}

// EnrichConfig holds the rate table and classification threshold. Values are
// fixed for the process lifetime; there is no hot reload.
type EnrichConfig struct {
	BaseCurrency string             `mapstructure:"base_currency"`
	Threshold    float64            `mapstructure:"threshold"`
	Rates        map[string]float64 `mapstructure:"rates"`
}

// StageConfig governs the stream processing stage.
type StageConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	DeadLetterSink string        `mapstructure:"dead_letter_sink"` // file|kafka|both
	DeadLetterDir  string        `mapstructure:"dead_letter_dir"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORDERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "orderflow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("kafka.bootstrap", "localhost:9092")
	v.SetDefault("kafka.topic_raw", "orders.raw")
	v.SetDefault("kafka.topic_enriched", "orders.out")
	v.SetDefault("kafka.topic_dead_letter", "orders.deadletter")
	v.SetDefault("kafka.group_id", "orderflow-stage")

	v.SetDefault("gateway.listen_addr", ":8080")
	v.SetDefault("gateway.ack_timeout", "3s")
	v.SetDefault("gateway.journal_dir", "./data/journal")
	v.SetDefault("gateway.recent_limit", 50)

	v.SetDefault("enrich.base_currency", "IDR")
	v.SetDefault("enrich.threshold", 1000000.0)
	v.SetDefault("enrich.rates", map[string]float64{
		"IDR": 1,
		"USD": 16000,
		"EUR": 17500,
	})

	v.SetDefault("stage.max_attempts", 3)
	v.SetDefault("stage.poll_timeout", "5s")
	v.SetDefault("stage.listen_addr", ":8081")
	v.SetDefault("stage.dead_letter_sink", "kafka")
	v.SetDefault("stage.dead_letter_dir", "./deadletter")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Gateway.AckTimeout <= 0 {
		return fmt.Errorf("gateway.ack_timeout must be greater than zero")
	}
	if c.Enrich.Threshold < 0 {
		return fmt.Errorf("enrich.threshold cannot be negative")
	}
	if c.Enrich.BaseCurrency == "" {
		return fmt.Errorf("enrich.base_currency is required")
	}
	if len(c.Enrich.Rates) == 0 {
		return fmt.Errorf("enrich.rates must not be empty")
	}
	if _, ok := c.Enrich.Rates[strings.ToUpper(c.Enrich.BaseCurrency)]; !ok {
		if _, ok := c.Enrich.Rates[strings.ToLower(c.Enrich.BaseCurrency)]; !ok {
			return fmt.Errorf("enrich.rates must contain the base currency %s", c.Enrich.BaseCurrency)
		}
	}
	if c.Stage.MaxAttempts <= 0 {
		return fmt.Errorf("stage.max_attempts must be greater than zero")
	}
	switch c.Stage.DeadLetterSink {
	case "file", "kafka", "both":
	default:
		return fmt.Errorf("stage.dead_letter_sink must be file, kafka, or both")
	}
	return nil
}

// RateTable builds the read-only rate table from configuration.
func (c *Config) RateTable() (rates.Table, error) {
	entries := make(map[string]decimal.Decimal, len(c.Enrich.Rates))
	for code, rate := range c.Enrich.Rates {
		entries[code] = decimal.NewFromFloat(rate)
	}
	return rates.New(c.Enrich.BaseCurrency, entries)
}

// Threshold returns the high-value threshold in the base currency.
func (c *Config) Threshold() decimal.Decimal {
	return decimal.NewFromFloat(c.Enrich.Threshold)
}
