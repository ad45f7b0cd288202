// Package config reads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	StoreMongo  = "mongo"
	StoreMemory = "memory"

	devSecret = "dev-insecure-secret"
)

// Config holds runtime settings for the service.
type Config struct {
	Port       string
	Env        string
	AppURL     string
	Store      string
	MongoURI   string
	MongoDB    string
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int
	LogLevel   string
	SMTP       SMTPConfig
}

// SMTPConfig describes the outgoing mail server.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

// Enabled reports whether enough settings are present to talk to a server.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// Bootstrap reports whether signups skip email verification.
func (c *Config) Bootstrap() bool {
	return c.Env == EnvDevelopment
}

// Load builds a Config from environment variables, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getenv("PORT", "8080"),
		Env:       getenv("APP_ENV", EnvProduction),
		AppURL:    getenv("APP_URL", "http://localhost:3000"),
		Store:     getenv("STORE", StoreMongo),
		MongoURI:  getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getenv("MONGO_DB", "board"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("EMAIL_SERVER_HOST"),
			Port:     getenv("EMAIL_SERVER_PORT", "587"),
			User:     os.Getenv("EMAIL_SERVER_USER"),
			Password: os.Getenv("EMAIL_SERVER_PASSWORD"),
			From:     os.Getenv("EMAIL_FROM"),
		},
	}

	switch cfg.Env {
	case EnvProduction, EnvDevelopment:
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q", cfg.Env)
	}

	switch cfg.Store {
	case StoreMongo, StoreMemory:
	default:
		return nil, fmt.Errorf("invalid STORE %q", cfg.Store)
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT %q: %w", cfg.Port, err)
	}
	if _, err := strconv.Atoi(cfg.SMTP.Port); err != nil {
		return nil, fmt.Errorf("invalid EMAIL_SERVER_PORT %q: %w", cfg.SMTP.Port, err)
	}

	ttl, err := time.ParseDuration(getenv("SESSION_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}
	cfg.SessionTTL = ttl

	cost, err := strconv.Atoi(getenv("BCRYPT_COST", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %w", err)
	}
	cfg.BcryptCost = cost

	if cfg.JWTSecret == "" {
		if cfg.Env == EnvProduction {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
		cfg.JWTSecret = devSecret
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
