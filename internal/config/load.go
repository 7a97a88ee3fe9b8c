package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every configuration environment variable,
// e.g. COMPOSITOR_SERVER_PORT.
const EnvPrefix = "COMPOSITOR"

// keys lists every configuration key so that environment variables are
// picked up even when no config file mentions them.
var keys = []string{
	"server.port", "server.log_level", "server.shutdown_timeout",
	"queue.capacity", "queue.concurrency_limit", "queue.max_retries",
	"queue.estimated_task_seconds", "queue.stop_timeout", "queue.event_buffer",
	"llm.gemini_api_key", "llm.model_name", "llm.max_retries",
	"llm.retry_delay_seconds", "llm.request_timeout_seconds",
	"database.url",
	"auth.jwt_secret", "auth.token_lifetime_minutes",
	"events.redis_addr", "events.redis_password", "events.redis_db",
	"events.channel", "events.stats_key",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("queue.capacity", 10)
	v.SetDefault("queue.concurrency_limit", 3)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.estimated_task_seconds", 30)
	v.SetDefault("queue.stop_timeout", "5s")
	v.SetDefault("queue.event_buffer", 256)

	v.SetDefault("llm.model_name", "gemini-2.0-flash-preview-image-generation")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
	v.SetDefault("llm.request_timeout_seconds", 120)

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.channel", "compositor:events")
	v.SetDefault("events.stats_key", "compositor:stats")
}

// Load configuration from environment variables and an optional config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config or an error if
// loading or validation fails.
func Load() (*Config, error) {
	return load("")
}

// LoadFile is like Load but reads the given config file, which must exist.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path cannot be empty")
	}
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
