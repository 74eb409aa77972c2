package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/gaia-relay/backend/internal/db"
)

type Config struct {
	Mode  string      `mapstructure:"mode"`
	Relay RelayConfig `mapstructure:"relay"`
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

type RelayConfig struct {
	ListenAddress   string        `mapstructure:"listen_address"`
	Path            string        `mapstructure:"path"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (CONFIG_ENV defaults to dev)
// and applies environment overrides. A missing file leaves the defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load for an explicit file name.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Variable names kept from earlier deployments.
	_ = v.BindEnv("relay.listen_address", "RELAY_RELAY_LISTEN_ADDRESS", "WEBSOCKET_ADDRESS")
	_ = v.BindEnv("store.dsn", "RELAY_STORE_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")

	v.SetDefault("relay.listen_address", "127.0.0.1:8040")
	v.SetDefault("relay.path", "/ws")
	v.SetDefault("relay.read_limit", 32768)
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.write_wait", "10s")
	v.SetDefault("relay.ping_period", "0s")
	v.SetDefault("relay.shutdown_timeout", "5s")

	v.SetDefault("store.driver", db.DriverSQLite)
	v.SetDefault("store.dsn", "data/relay.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Validate checks the settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Relay.ListenAddress == "" {
		return errors.New("relay.listen_address must not be empty")
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path %q must start with /", c.Relay.Path)
	}
	switch c.Store.Driver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log.format %q", c.Log.Format)
	}
	return nil
}
