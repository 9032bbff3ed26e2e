// Package config loads the optional weft.yaml server configuration.
// Command-line flags and environment variables take precedence over file
// values; the file exists so deployments can keep everything in one place.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const defaultPort = 9091

// Config is the API server configuration.
type Config struct {
	Port           int    `yaml:"port"`
	DatabaseURL    string `yaml:"database_url"`
	EventBus       string `yaml:"event_bus"`
	KafkaBrokers   string `yaml:"kafka_brokers"`
	RedisURL       string `yaml:"redis_url"`
	WebhookBaseURL string `yaml:"webhook_base_url"`
	LogLevel       string `yaml:"log_level"`
	MaxAsyncTasks  int    `yaml:"max_async_tasks"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:     defaultPort,
		EventBus: "gochannel",
		LogLevel: "info",
	}
}

// Load reads a YAML config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// LoadOrDefault loads the file when it exists and silently falls back to
// defaults when it does not.
func LoadOrDefault(path string) Config {
	config, err := Load(path)
	if err != nil {
		return Default()
	}

	return config
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}

	switch c.EventBus {
	case "", "gochannel":
	case "kafka":
		if c.KafkaBrokers == "" {
			return fmt.Errorf("event_bus kafka requires kafka_brokers")
		}
	default:
		return fmt.Errorf("unknown event_bus %q", c.EventBus)
	}

	return nil
}
