// Command token-generator issues a bearer token for the compositor API.
//
// It signs with the same auth settings the server loads, so a token printed
// here is accepted by a server sharing that configuration.
//
// Usage:
//
//	token-generator -subject ops-dashboard [-config path]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/service/auth"
)

func main() {
	subject := flag.String("subject", "", "identity of the API client the token is issued to")
	configPath := flag.String("config", "", "path to a YAML config file (default: ./config.yaml if present)")
	flag.Parse()

	token, err := generate(context.Background(), *configPath, *subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	fmt.Println(token)
}

func generate(ctx context.Context, configPath, subject string) (string, error) {
	if subject == "" {
		return "", errors.New("-subject is required")
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return "", err
	}
	if cfg.Auth.JWTSecret == "" {
		return "", errors.New("auth.jwt_secret is not set, the server does not require tokens")
	}

	svc, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return "", err
	}
	return svc.GenerateToken(ctx, subject)
}
