// Package config loads client settings from the environment or a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ggoodman/deribit-go"
	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config holds client settings. Defaults can be loaded via envdecode.
type Config struct {
	// URL is the API base URL. ENV: DERIBIT_URL
	URL string `env:"DERIBIT_URL,default=https://www.deribit.com" yaml:"url"`
	// Key is the access key. ENV: DERIBIT_KEY
	Key string `env:"DERIBIT_KEY" yaml:"key"`
	// Secret is the access secret. ENV: DERIBIT_SECRET
	Secret string `env:"DERIBIT_SECRET" yaml:"secret"`
	// Heartbeat is the server probe interval; zero disables it. ENV: DERIBIT_HEARTBEAT
	Heartbeat time.Duration `env:"DERIBIT_HEARTBEAT,default=0s" yaml:"heartbeat"`
	// RateLimit caps outgoing requests per second; zero disables it. ENV: DERIBIT_RATE_LIMIT
	RateLimit float64 `env:"DERIBIT_RATE_LIMIT,default=0" yaml:"rate_limit"`
	// RateBurst is the limiter burst. ENV: DERIBIT_RATE_BURST
	RateBurst int `env:"DERIBIT_RATE_BURST,default=1" yaml:"rate_burst"`

	Relay RelayConfig `yaml:"relay"`
}

// RelayConfig configures the optional Redis notification relay.
type RelayConfig struct {
	// Addr like "localhost:6379"; empty disables the relay. ENV: RELAY_REDIS_ADDR
	Addr string `env:"RELAY_REDIS_ADDR" yaml:"addr"`
	// KeyPrefix for all stream keys. ENV: RELAY_KEY_PREFIX
	KeyPrefix string `env:"RELAY_KEY_PREFIX,default=deribit:notifications:" yaml:"key_prefix"`
	// MaxLen approximately caps each stream. ENV: RELAY_MAX_LEN
	MaxLen int64 `env:"RELAY_MAX_LEN,default=10000" yaml:"max_len"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		URL:       deribit.DefaultURL,
		RateBurst: 1,
		Relay: RelayConfig{
			KeyPrefix: "deribit:notifications:",
			MaxLen:    10000,
		},
	}
}

// FromEnv builds a Config using envdecode.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ClientOptions maps the settings onto client options. The relay is wired
// separately since it owns a Redis connection.
func (c Config) ClientOptions() []deribit.Option {
	opts := []deribit.Option{deribit.WithURL(c.URL)}
	if c.Key != "" || c.Secret != "" {
		opts = append(opts, deribit.WithCredentials(c.Key, c.Secret))
	}
	if c.RateLimit > 0 {
		opts = append(opts, deribit.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return opts
}
