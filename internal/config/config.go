package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// Required rejects WebSocket upgrades without a valid credential.
	Required bool `mapstructure:"required"`
}

type MeetingsConfig struct {
	// Backend is one of none, sql, redis.
	Backend string        `mapstructure:"backend"`
	Driver  string        `mapstructure:"driver"`
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type Config struct {
	Mode           string         `mapstructure:"mode"`
	Port           int            `mapstructure:"port"`
	ReadLimit      int64          `mapstructure:"read_limit"`
	PingPeriod     time.Duration  `mapstructure:"ping_period"`
	PongWait       time.Duration  `mapstructure:"pong_wait"`
	WriteWait      time.Duration  `mapstructure:"write_wait"`
	SendBuffer     int            `mapstructure:"send_buffer"`
	EventBuffer    int            `mapstructure:"event_buffer"`
	Secret         string         `mapstructure:"secret"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	Auth           AuthConfig     `mapstructure:"auth"`
	Meetings       MeetingsConfig `mapstructure:"meetings"`
	Redis          RedisConfig    `mapstructure:"redis"`
	JoinRate       RateConfig     `mapstructure:"join_rate"`
	Log            LogConfig      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("event_buffer", 1024)
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.required", false)

	v.SetDefault("meetings.backend", "none")
	v.SetDefault("meetings.driver", "postgres")
	v.SetDefault("meetings.dsn", "")
	v.SetDefault("meetings.timeout", "2s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("join_rate.limit", 5)
	v.SetDefault("join_rate.interval", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then MEET_* env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to read .env")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load without the .env step. A missing file falls back to defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("meetings", cfg.Meetings.Backend).Bool("auth_required", cfg.Auth.Required).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: invalid port %d", c.Port)
	case c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod:
		return fmt.Errorf("config: ping_period %s must be positive and below pong_wait %s", c.PingPeriod, c.PongWait)
	case c.SendBuffer <= 0 || c.EventBuffer <= 0:
		return errors.New("config: send_buffer and event_buffer must be positive")
	case c.Auth.Required && c.Auth.JWTSecret == "":
		return errors.New("config: auth.required needs auth.jwt_secret")
	}
	switch c.Meetings.Backend {
	case "none", "redis":
	case "sql":
		if c.Meetings.DSN == "" {
			return errors.New("config: meetings.dsn required for sql backend")
		}
	default:
		return fmt.Errorf("config: unknown meetings.backend %q", c.Meetings.Backend)
	}
	return nil
}
