// Package config loads SDK configuration from the environment and an
// optional config file. It is a convenience for adapters and the
// integration test harness; the SDK core itself only takes explicit
// structs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/filenio/sdk-go/client"
)

// Config is the loadable SDK configuration.
type Config struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`

	GatewayURL string `mapstructure:"gateway_url"`
	IngestURL  string `mapstructure:"ingest_url"`
	EgestURL   string `mapstructure:"egest_url"`

	Attempts            int    `mapstructure:"attempts"`
	MaxParallelRequests int64  `mapstructure:"max_parallel_requests"`
	RequestsPerSecond   int    `mapstructure:"requests_per_second"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	LogLevel            string `mapstructure:"log_level"`
}

// Load reads configuration from FILEN_* environment variables and,
// when path is non-empty, a YAML config file. Environment wins.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("gateway_url", client.DefaultGatewayURL)
	v.SetDefault("ingest_url", client.DefaultIngestURL)
	v.SetDefault("egest_url", client.DefaultEgestURL)
	v.SetDefault("attempts", client.DefaultAttempts)
	v.SetDefault("max_parallel_requests", client.DefaultMaxParallelRequests)
	v.SetDefault("requests_per_second", 0)
	v.SetDefault("timeout_seconds", int(client.DefaultTimeout/time.Second))
	v.SetDefault("log_level", "info")

	// AutomaticEnv alone does not surface keys that only exist in the
	// environment, so bind the interesting ones explicitly.
	for _, key := range []string{
		"email", "password", "gateway_url", "ingest_url", "egest_url",
		"attempts", "max_parallel_requests", "requests_per_second",
		"timeout_seconds", "log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces basic sanity before anything dials the network.
func (c *Config) Validate() error {
	if c.Attempts <= 0 {
		return fmt.Errorf("attempts must be positive (got %d)", c.Attempts)
	}
	if c.MaxParallelRequests <= 0 {
		return fmt.Errorf("max_parallel_requests must be positive (got %d)", c.MaxParallelRequests)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive (got %d)", c.TimeoutSeconds)
	}
	return nil
}

// Transport renders the client configuration.
func (c *Config) Transport() client.Config {
	return client.Config{
		GatewayURL:          c.GatewayURL,
		IngestURL:           c.IngestURL,
		EgestURL:            c.EgestURL,
		Attempts:            c.Attempts,
		Timeout:             time.Duration(c.TimeoutSeconds) * time.Second,
		MaxParallelRequests: c.MaxParallelRequests,
		RequestsPerSecond:   c.RequestsPerSecond,
	}
}
