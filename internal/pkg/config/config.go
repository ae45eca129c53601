package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Source    SourceConfig    `mapstructure:"source"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	AllowOrigins string `mapstructure:"allow_origins"`
}

// SourceConfig selects and tunes the feature source.
type SourceConfig struct {
	Kind           string `mapstructure:"kind"` // "flatgeobuf" | "postgis"
	URL            string `mapstructure:"url"`  // http(s) URL or local path of the .fgb file
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	MergeGap       int    `mapstructure:"merge_gap"`
	HeaderPrefetch int    `mapstructure:"header_prefetch"`
	Table          string `mapstructure:"table"` // PostGIS table when kind = postgis
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// LoaderConfig tunes the viewport loader.
type LoaderConfig struct {
	ThrottleMS   int     `mapstructure:"throttle_ms"`
	ShrinkFactor float64 `mapstructure:"shrink_factor"`
	MaxFeatures  int     `mapstructure:"max_features"`
}

func (l LoaderConfig) ThrottleWindow() time.Duration {
	return time.Duration(l.ThrottleMS) * time.Millisecond
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr       string `mapstructure:"addr"`
	Enabled    bool   `mapstructure:"enabled"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", "http://localhost:3000, http://localhost:5173")
	v.SetDefault("source.kind", "flatgeobuf")
	v.SetDefault("source.url", "https://explorer-app-data.s3.us-west-1.amazonaws.com/res8/res8-usa-hexagons.fgb")
	v.SetDefault("source.timeout_ms", 15000)
	v.SetDefault("source.merge_gap", 16*1024)
	v.SetDefault("source.header_prefetch", 8*1024)
	v.SetDefault("source.table", "features")
	v.SetDefault("loader.throttle_ms", 1000)
	v.SetDefault("loader.shrink_factor", 0.8)
	v.SetDefault("loader.max_features", 0)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fgbview")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "fgbview")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.enabled", false)
	v.SetDefault("valkey.ttl_seconds", 3600)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: FGBVIEW_SOURCE_URL → source.url
	v.SetEnvPrefix("FGBVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Source.Kind {
	case "flatgeobuf":
		if c.Source.URL == "" {
			errs = append(errs, "source.url is required for kind flatgeobuf")
		}
		if c.Source.HeaderPrefetch < 12 {
			errs = append(errs, "source.header_prefetch must be at least 12 bytes")
		}
		if c.Source.MergeGap < 0 {
			errs = append(errs, "source.merge_gap must not be negative")
		}
	case "postgis":
		if c.Source.Table == "" {
			errs = append(errs, "source.table is required for kind postgis")
		}
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("source.kind must be flatgeobuf or postgis, got %q", c.Source.Kind))
	}
	if c.Source.TimeoutMS <= 0 {
		errs = append(errs, "source.timeout_ms must be positive")
	}

	if c.Loader.ThrottleMS <= 0 {
		errs = append(errs, "loader.throttle_ms must be positive")
	}
	if c.Loader.ShrinkFactor <= 0 || c.Loader.ShrinkFactor > 1 {
		errs = append(errs, fmt.Sprintf("loader.shrink_factor must be in (0, 1], got %g", c.Loader.ShrinkFactor))
	}
	if c.Loader.MaxFeatures < 0 {
		errs = append(errs, "loader.max_features must not be negative")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required when nats is enabled")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required when valkey is enabled")
	}
	if c.Valkey.TTLSeconds <= 0 {
		errs = append(errs, "valkey.ttl_seconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
