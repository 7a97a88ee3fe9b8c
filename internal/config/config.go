package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// QueueConfig contains the task queue and worker settings.
type QueueConfig struct {
	Capacity             int `mapstructure:"capacity" validate:"gte=1,lte=10"`
	ConcurrencyLimit     int `mapstructure:"concurrency_limit" validate:"gte=1,lte=5"`
	MaxRetries           int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	EstimatedTaskSeconds int `mapstructure:"estimated_task_seconds" validate:"gte=1"`
	// StopTimeout bounds how long Stop waits for in-flight tasks before aborting them.
	StopTimeout time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
	// EventBuffer is the capacity of the controller's event channel.
	EventBuffer int `mapstructure:"event_buffer" validate:"gte=1"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey          string `mapstructure:"gemini_api_key" validate:"required"`
	ModelName             string `mapstructure:"model_name" validate:"required"`
	MaxRetries            int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds     int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gte=1"`
}

// DatabaseConfig contains the task history database settings.
// An empty URL disables history persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// AuthConfig contains the API authentication settings.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gte=1"`
}

// EventsConfig contains the Redis event publisher settings.
// An empty RedisAddr disables publishing.
type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	Channel       string `mapstructure:"channel" validate:"required"`
	StatsKey      string `mapstructure:"stats_key" validate:"required"`
}
