// Package config loads service configuration from an optional YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Identity IdentityConfig `yaml:"identity"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type IdentityConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load returns the configuration assembled from defaults, the YAML file named
// by CONFIG_PATH (if set), and environment overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-tax-approvals",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "tax_approvals",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
		},
		Identity: IdentityConfig{
			BaseURL: "http://localhost:8081",
			Timeout: 5 * time.Second,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")
	setInt(&cfg.Server.Port, "HTTP_PORT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Identity.BaseURL, "IDENTITY_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
