// Package config loads the settings of the service binaries.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config/<ENVIRONMENT>.yaml file, and SAGA_ prefixed environment variables where dots
// become underscores (SAGA_DATABASE_HOST overrides database.host). Broker settings are
// not part of it; they are read by rabbitmq.LoadFromEnv from the RABBITMQ_ variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	ServiceName string      `mapstructure:"service_name"`
	Env         string      `mapstructure:"env"`
	HTTP        HTTP        `mapstructure:"http"`
	Metrics     Metrics     `mapstructure:"metrics"`
	Log         Log         `mapstructure:"log"`
	Store       Store       `mapstructure:"store"`
	Database    Database    `mapstructure:"database"`
	Redis       Redis       `mapstructure:"redis"`
	Idempotency Idempotency `mapstructure:"idempotency"`
	Gateway     Gateway     `mapstructure:"gateway"`
	Shutdown    Shutdown    `mapstructure:"shutdown"`
}

// HTTP is the public API listener of the order service
type HTTP struct {
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
	Burst     int     `mapstructure:"burst"`
}

// Metrics is the operational listener serving /metrics and /healthz
type Metrics struct {
	Port int `mapstructure:"port"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Store struct {
	Driver string `mapstructure:"driver"`
}

type Database struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// Redis backs the idempotency store. An empty address selects the in-memory store.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Idempotency struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// Gateway configures the simulated payment gateway
type Gateway struct {
	SuccessRate float64 `mapstructure:"success_rate"`
	RateLimit   float64 `mapstructure:"rate_limit"`
	Burst       int     `mapstructure:"burst"`
}

type Shutdown struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	DrainTime time.Duration `mapstructure:"drain_time"`
}

// Load reads the configuration of service from ./config and the working directory
func Load(service string) (*Config, error) {
	return LoadFrom(service, "config", ".")
}

// LoadFrom reads the configuration of service, looking for <ENVIRONMENT>.yaml in dirs
func LoadFrom(service string, dirs ...string) (*Config, error) {
	v := viper.New()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "local"
	}

	v.SetConfigName(env)
	v.SetConfigType("yaml")
	for _, dir := range dirs {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("SAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, service, env)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper, service, env string) {
	v.SetDefault("service_name", service)
	v.SetDefault("env", env)

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.rate_limit", 100.0)
	v.SetDefault("http.burst", 20)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", DriverMemory)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "saga")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("gateway.success_rate", 0.9)
	v.SetDefault("gateway.rate_limit", 50.0)
	v.SetDefault("gateway.burst", 10)

	v.SetDefault("shutdown.timeout", 30*time.Second)
	v.SetDefault("shutdown.drain_time", 10*time.Second)
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Gateway.SuccessRate < 0 || c.Gateway.SuccessRate > 1 {
		return fmt.Errorf("gateway success rate %v is outside [0, 1]", c.Gateway.SuccessRate)
	}
	return nil
}

// DatabaseURL returns database.url when set, otherwise a URL built from the parts
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
