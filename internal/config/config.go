// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Historian HistorianConfig `mapstructure:"historian"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// ServerConfig covers the listener, logging and per-connection event limits.
// AllowedOrigins feeds the websocket origin check. SecureCookie marks the
// guest auth cookie Secure for deployments behind TLS.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	LogLevel       string   `mapstructure:"loglevel"`
	LogFormat      string   `mapstructure:"logformat"`
	RateLimit      float64  `mapstructure:"ratelimit"`
	RateLimitBurst int      `mapstructure:"ratelimitburst"`
	AllowedOrigins []string `mapstructure:"allowedorigins"`
	SecureCookie   bool     `mapstructure:"securecookie"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type DatabaseConfig struct {
	// URL selects Postgres. Empty runs on the in-process store.
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	// Addr selects Redis. Empty disables the cache and the historian queue.
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type HistorianConfig struct {
	Queue     string        `mapstructure:"queue"`
	BatchSize int           `mapstructure:"batchsize"`
	FlushMS   int           `mapstructure:"flushms"`
	PopWait   time.Duration `mapstructure:"popwait"`
}

// FlushInterval is the longest a partial batch waits before being written.
func (h HistorianConfig) FlushInterval() time.Duration {
	return time.Duration(h.FlushMS) * time.Millisecond
}

// AuthConfig controls connection identity. TokenTTL accepts durations like
// "72h", or "never". Without key paths a key pair is generated at startup.
type AuthConfig struct {
	Required       bool   `mapstructure:"required"`
	TokenTTL       string `mapstructure:"tokenttl"`
	PrivateKeyPath string `mapstructure:"privatekeypath"`
	PublicKeyPath  string `mapstructure:"publickeypath"`
}

// Load reads configuration with priority env > config file > defaults. A
// missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("skirmish")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindings := map[string]string{
		"server.port":           "PORT",
		"server.host":           "HOST",
		"server.loglevel":       "LOG_LEVEL",
		"server.logformat":      "LOG_FORMAT",
		"server.ratelimit":      "RATE_LIMIT",
		"server.ratelimitburst": "RATE_LIMIT_BURST",
		"server.securecookie":   "COOKIE_SECURE",
		"database.url":          "DATABASE_URL",
		"redis.addr":            "REDIS_ADDR",
		"redis.db":              "REDIS_DB",
		"cache.ttl":             "CACHE_TTL",
		"historian.queue":       "HISTORIAN_QUEUE_NAME",
		"historian.batchsize":   "HISTORIAN_BATCH_SIZE",
		"historian.flushms":     "HISTORIAN_FLUSH_MS",
		"auth.required":         "AUTH_REQUIRED",
		"auth.tokenttl":         "TOKEN_EXPIRE_TIME",
		"auth.privatekeypath":   "AUTH_PRIVATE_KEY",
		"auth.publickeypath":    "AUTH_PUBLIC_KEY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.loglevel", "info")
	v.SetDefault("server.logformat", "text")
	v.SetDefault("server.ratelimit", 20.0)
	v.SetDefault("server.ratelimitburst", 40)
	v.SetDefault("server.allowedorigins", []string{"*"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("historian.queue", "skirmish_actions")
	v.SetDefault("historian.batchsize", 100)
	v.SetDefault("historian.flushms", 500)
	v.SetDefault("historian.popwait", "1s")
	v.SetDefault("auth.required", false)
	v.SetDefault("auth.tokenttl", "72h")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port must be set")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	if c.Historian.BatchSize <= 0 {
		return errors.New("historian.batchsize must be positive")
	}
	if c.Historian.FlushMS <= 0 {
		return errors.New("historian.flushms must be positive")
	}
	if c.Historian.Queue == "" {
		return errors.New("historian.queue must be set")
	}
	if (c.Auth.PrivateKeyPath == "") != (c.Auth.PublicKeyPath == "") {
		return errors.New("auth.privatekeypath and auth.publickeypath must be set together")
	}
	if _, err := logrus.ParseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the process logger from the server settings.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.Server.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
