package config

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	ListenAddr  string `env:"COEDIT_LISTEN_ADDR, default=:8080"`
	FrontendURL string `env:"COEDIT_FRONTEND_URL, default=http://localhost:5173"`

	// MongoURI empty means the in-memory store.
	MongoURI string `env:"COEDIT_MONGO_URI"`
	MongoDB  string `env:"COEDIT_MONGO_DB, default=coedit"`

	JWTSecret string `env:"COEDIT_JWT_SECRET, default=dev-secret-change-me"`

	// SeedDemo creates a test account and a welcome document on startup.
	SeedDemo bool `env:"COEDIT_SEED_DEMO, default=false"`
}

// Load reads an optional .env file, then the process environment.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
