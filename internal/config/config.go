package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Exchange Exchange `mapstructure:"exchange"`
	Trading  Trading  `mapstructure:"trading"`
	Engine   Engine   `mapstructure:"engine"`
	Feed     Feed     `mapstructure:"feed"`
	Notify   Notify   `mapstructure:"notify"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the connection settings for the Binance API.
// Credentials live on each bot; these are only the endpoint and rate limits.
type Binance struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Exchange selects the gateway implementation.
type Exchange struct {
	// Driver is one of "rest", "sdk" or "paper".
	Driver string `mapstructure:"driver"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	DryRun bool `mapstructure:"dry_run"`
}

// Engine holds the tuning knobs of the order engines and job queue.
type Engine struct {
	Workers           int           `mapstructure:"workers"`
	QueueBuffer       int           `mapstructure:"queue_buffer"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Feed configures the websocket ticker stream.
type Feed struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Notify configures where order updates are pushed.
type Notify struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(viper.GetViper())

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return
	}
	err = config.Validate()
	return
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("exchange.driver", "rest")
	v.SetDefault("engine.workers", runtime.NumCPU())
	v.SetDefault("engine.queue_buffer", 256)
	v.SetDefault("engine.stale_threshold", 10*time.Minute)
	v.SetDefault("engine.reconcile_interval", time.Minute)
	v.SetDefault("engine.shutdown_timeout", 30*time.Second)
	v.SetDefault("feed.url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("feed.reconnect_delay", time.Second)
	v.SetDefault("feed.max_backoff", time.Minute)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "trade_bot.db")
	v.SetDefault("database.max_open_conns", 1)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var err error
	if c.Engine.Workers <= 0 {
		err = multierr.Append(err, errors.New("engine.workers must be positive"))
	}
	if c.Engine.QueueBuffer <= 0 {
		err = multierr.Append(err, errors.New("engine.queue_buffer must be positive"))
	}
	if c.Engine.StaleThreshold <= 0 {
		err = multierr.Append(err, errors.New("engine.stale_threshold must be positive"))
	}
	if c.Engine.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("engine.reconcile_interval must be positive"))
	}
	switch c.Exchange.Driver {
	case "rest", "sdk", "paper":
	default:
		err = multierr.Append(err, fmt.Errorf("exchange.driver %q is not one of rest, sdk, paper", c.Exchange.Driver))
	}
	if c.Database.DSN == "" {
		err = multierr.Append(err, errors.New("database.dsn must be set"))
	}
	return err
}

// WatchLogLevel calls onChange with the new logger.level whenever the config file changes.
func WatchLogLevel(onChange func(level string)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(viper.GetString("logger.level"))
	})
	viper.WatchConfig()
}
