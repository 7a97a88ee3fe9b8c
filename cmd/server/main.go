// Command server runs the batch compositing controller behind an HTTP API.
//
// Usage:
//
//	server [-config path] [-migrate]
//
// With -migrate the server applies pending database migrations and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/platform/logger"
	"github.com/phrazzld/compositor/internal/platform/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (default: ./config.yaml if present)")
	migrate := flag.Bool("migrate", false, "apply pending database migrations and exit")
	flag.Parse()

	if err := run(context.Background(), *configPath, *migrate); err != nil {
		log.Fatalf("compositor: %v", err)
	}
}

func run(ctx context.Context, configPath string, migrateOnly bool) error {
	cfg, err := loadAppConfig(configPath)
	if err != nil {
		return err
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_enabled", cfg.Database.URL != "",
		"auth_enabled", cfg.Auth.JWTSecret != "",
		"redis_enabled", cfg.Events.RedisAddr != "")

	if migrateOnly {
		return runMigrations(ctx, cfg, l)
	}

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

func loadAppConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// errNoDatabase is returned when migrations are requested without a database.
var errNoDatabase = errors.New("database.url must be set to run migrations")

func runMigrations(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	if cfg.Database.URL == "" {
		return errNoDatabase
	}

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("error closing database connection", "error", err)
		}
	}()

	version, err := postgres.Migrate(ctx, db, l)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	l.Info("database is up to date", "version", version)
	return nil
}
