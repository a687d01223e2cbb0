// Package config loads configuration from defaults, an optional file and
// FTS_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	SingleLine string = "--------------------------------------------------"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Features    FeaturesConfig    `mapstructure:"features"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	LogLevel     string `mapstructure:"log_level"`
	APIKeyHash   string `mapstructure:"api_key_hash"`
	AdminKeyHash string `mapstructure:"admin_key_hash"`
}

type PostgresConfig struct {
	Dsn      string `mapstructure:"dsn"`
	Schema   string `mapstructure:"schema"`
	LogLevel string `mapstructure:"log_level"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis host was configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type IngestConfig struct {
	DefaultExchangeCode string        `mapstructure:"default_exchange_code"`
	ChannelCapacity     int           `mapstructure:"channel_capacity"`
	FlushInterval       time.Duration `mapstructure:"flush_interval"`
}

// JobWindow describes one scheduled aggregation refresh
type JobWindow struct {
	StartOffset      time.Duration `mapstructure:"start_offset"`
	EndOffset        time.Duration `mapstructure:"end_offset"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
}

type AggregationConfig struct {
	Minute        JobWindow `mapstructure:"minute"`
	FiveMinute    JobWindow `mapstructure:"five_minute"`
	FifteenMinute JobWindow `mapstructure:"fifteen_minute"`
	Hour          JobWindow `mapstructure:"hour"`
}

type RetentionConfig struct {
	Schedule               string        `mapstructure:"schedule"`
	Ticks                  time.Duration `mapstructure:"ticks"`
	Seconds                time.Duration `mapstructure:"seconds"`
	Minutes                time.Duration `mapstructure:"minutes"`
	Predictions            time.Duration `mapstructure:"predictions"`
	TicksCompressAfter     time.Duration `mapstructure:"ticks_compress_after"`
	BarsCompressAfter      time.Duration `mapstructure:"bars_compress_after"`
	ContractExpirySchedule string        `mapstructure:"contract_expiry_schedule"`
}

type FeaturesConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Lookback int           `mapstructure:"lookback"`
	Schedule time.Duration `mapstructure:"schedule"`
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present; path may be empty to skip the config file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Futures Trading System")
	v.SetDefault("app.version", "v1.0.0")
	v.SetDefault("app.environment", "development")

	v.SetDefault("server.port", "3007")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.api_key_hash", "")
	v.SetDefault("server.admin_key_hash", "")

	v.SetDefault("postgres.dsn", "host=localhost port=5432 user=postgres password=postgres dbname=trading_db sslmode=disable")
	v.SetDefault("postgres.schema", "public")
	v.SetDefault("postgres.log_level", "warn")
	v.SetDefault("postgres.max_conns", 10)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("storage.backend", BackendPostgres)

	v.SetDefault("ingest.default_exchange_code", "XCME")
	v.SetDefault("ingest.channel_capacity", 100000)
	v.SetDefault("ingest.flush_interval", "1s")

	v.SetDefault("aggregation.minute.start_offset", "1h")
	v.SetDefault("aggregation.minute.end_offset", "1m")
	v.SetDefault("aggregation.minute.schedule_interval", "1m")
	v.SetDefault("aggregation.five_minute.start_offset", "2h")
	v.SetDefault("aggregation.five_minute.end_offset", "5m")
	v.SetDefault("aggregation.five_minute.schedule_interval", "5m")
	v.SetDefault("aggregation.fifteen_minute.start_offset", "6h")
	v.SetDefault("aggregation.fifteen_minute.end_offset", "15m")
	v.SetDefault("aggregation.fifteen_minute.schedule_interval", "15m")
	v.SetDefault("aggregation.hour.start_offset", "24h")
	v.SetDefault("aggregation.hour.end_offset", "1h")
	v.SetDefault("aggregation.hour.schedule_interval", "1h")

	v.SetDefault("retention.schedule", "@every 1h")
	v.SetDefault("retention.ticks", "168h")
	v.SetDefault("retention.seconds", "8760h")
	v.SetDefault("retention.minutes", "17520h")
	v.SetDefault("retention.predictions", "4380h")
	v.SetDefault("retention.ticks_compress_after", "1h")
	v.SetDefault("retention.bars_compress_after", "24h")
	v.SetDefault("retention.contract_expiry_schedule", "5 0 * * *")

	v.SetDefault("features.enabled", true)
	v.SetDefault("features.lookback", 100)
	v.SetDefault("features.schedule", "1m")
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Postgres.Dsn == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Storage.Backend))
	}

	if c.Ingest.DefaultExchangeCode == "" {
		errs = append(errs, errors.New("ingest.default_exchange_code is required"))
	}
	if c.Ingest.ChannelCapacity <= 0 {
		errs = append(errs, errors.New("ingest.channel_capacity must be positive"))
	}

	windows := map[string]JobWindow{
		"minute":         c.Aggregation.Minute,
		"five_minute":    c.Aggregation.FiveMinute,
		"fifteen_minute": c.Aggregation.FifteenMinute,
		"hour":           c.Aggregation.Hour,
	}
	for name, w := range windows {
		if w.StartOffset <= w.EndOffset {
			errs = append(errs, fmt.Errorf("aggregation.%s.start_offset must exceed end_offset", name))
		}
		if w.ScheduleInterval <= 0 {
			errs = append(errs, fmt.Errorf("aggregation.%s.schedule_interval must be positive", name))
		}
	}

	if c.Features.Lookback < 2 {
		errs = append(errs, errors.New("features.lookback must be at least 2"))
	}

	return errors.Join(errs...)
}

// String returns the configuration as a string
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n--------------------------------------\n")
	sb.WriteString("Configuration:\n")
	sb.WriteString("--------------------------------------\n")
	writeFields(&sb, "", reflect.ValueOf(*c))
	sb.WriteString("--------------------------------------\n")
	return sb.String()
}

func writeFields(sb *strings.Builder, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		name := prefix + field.Name

		if value.Kind() == reflect.Struct {
			writeFields(sb, name+".", value)
			continue
		}

		str := fmt.Sprintf("%v", value.Interface())
		str = maskSensitiveField(field.Name, str)
		sb.WriteString(fmt.Sprintf("  %s:  %s\n", name, str))
	}
}

func maskSensitiveField(fieldName, value string) string {
	sensitiveFields := []string{"token", "dsn", "secret", "password", "hash"}

	if value == "" {
		return value
	}

	fieldNameLower := strings.ToLower(fieldName)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(fieldNameLower, sensitive) {
			return maskValue(value)
		}
	}

	return value
}

func maskValue(value string) string {
	if len(value) <= 3 {
		return strings.Repeat("*", 7)
	}
	return value[:3] + strings.Repeat("*", 7)
}
