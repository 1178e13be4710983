// Package config loads per-service configuration from config.yaml and the
// environment. No ambient globals: the loaded struct is passed into each
// stage's constructor at startup.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service    ServiceConfig    `koanf:"service"`
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Downstream DownstreamConfig `koanf:"downstream"`
	Retry      RetryConfig      `koanf:"retry"`
}

type ServiceConfig struct {
	// Name is the identifier this stage appends to the service chain.
	Name string `koanf:"name"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

type DownstreamConfig struct {
	// URL is the base URL of the next stage in the chain. Empty for the
	// terminal stage.
	URL string `koanf:"url"`
	// Timeout bounds each outbound hop. A hop exceeding it is treated as a
	// network failure.
	Timeout time.Duration `koanf:"timeout"`
}

type RetryConfig struct {
	// MaxAttempts bounds store connection attempts.
	MaxAttempts int `koanf:"max_attempts"`
	// Delay is the fixed pause between attempts. No jitter, no growth.
	Delay time.Duration `koanf:"delay"`
}

// Defaults holds the per-service values applied when neither config.yaml nor
// the environment provides them.
type Defaults struct {
	ServiceName   string
	Port          int
	DownstreamURL string
}

// Load reads config.yaml (optional) then CHAIN_-prefixed environment
// variables, with env taking precedence. CHAIN_SERVER__PORT maps to
// server.port.
func Load(defaults Defaults) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("CHAIN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "CHAIN_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	applyDefaults(k, defaults)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf, defaults Defaults) {
	set := func(key string, value any) {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	set("service.name", defaults.ServiceName)
	set("server.port", defaults.Port)
	set("storage.driver", "sqlite")
	set("storage.dsn", "./data/pipeline.db")
	set("downstream.url", defaults.DownstreamURL)
	set("downstream.timeout", "10s")
	set("retry.max_attempts", 5)
	set("retry.delay", "2s")
}
