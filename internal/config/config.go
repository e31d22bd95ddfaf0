// Package config reads the service configuration.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service settings, supplied via environment variables with
// command-line flag fallbacks.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	PrintAPIAddress  string        `env:"PDC_API_ADDRESS"`
	PrintAPIUser     string        `env:"PDC_USERNAME"`
	PrintAPIPassword string        `env:"PDC_PASSWORD"`
	CollectorAddress string        `env:"COLLECTOR_ADDRESS"`
	PollStatus       string        `env:"POLL_STATUS"`
	PollInterval     time.Duration `env:"POLL_INTERVAL"`
	DownloadDir      string        `env:"DOWNLOAD_DIR"`
	AdminToken       string        `env:"ADMIN_TOKEN"`
	ForwardWorkers   int           `env:"FORWARD_WORKERS"`
}

// Parse reads the configuration from environment variables and command-line
// flags; environment values win.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envValues := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for the admin HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PrintAPIAddress, "p", "", "order-management API base URL")
	flag.StringVar(&cfg.PrintAPIUser, "u", "", "order-management API username")
	flag.StringVar(&cfg.PrintAPIPassword, "s", "", "order-management API password")
	flag.StringVar(&cfg.CollectorAddress, "c", "", "downstream collector base URL")
	flag.StringVar(&cfg.PollStatus, "status", "SENTTOSUPPLIER", "remote status to poll for new orders")
	flag.DurationVar(&cfg.PollInterval, "i", 250*time.Second, "poll interval")
	flag.StringVar(&cfg.DownloadDir, "dir", "./downloads", "directory for downloaded order files")
	flag.StringVar(&cfg.AdminToken, "t", "", "bearer token for the admin API")
	flag.IntVar(&cfg.ForwardWorkers, "w", 4, "worker pool size for forwarding and downloads")

	flag.Parse()

	if envValues.RunAddress != "" {
		cfg.RunAddress = envValues.RunAddress
	}
	if envValues.DatabaseURI != "" {
		cfg.DatabaseURI = envValues.DatabaseURI
	}
	if envValues.PrintAPIAddress != "" {
		cfg.PrintAPIAddress = envValues.PrintAPIAddress
	}
	if envValues.PrintAPIUser != "" {
		cfg.PrintAPIUser = envValues.PrintAPIUser
	}
	if envValues.PrintAPIPassword != "" {
		cfg.PrintAPIPassword = envValues.PrintAPIPassword
	}
	if envValues.CollectorAddress != "" {
		cfg.CollectorAddress = envValues.CollectorAddress
	}
	if envValues.PollStatus != "" {
		cfg.PollStatus = envValues.PollStatus
	}
	if envValues.PollInterval != 0 {
		cfg.PollInterval = envValues.PollInterval
	}
	if envValues.DownloadDir != "" {
		cfg.DownloadDir = envValues.DownloadDir
	}
	if envValues.AdminToken != "" {
		cfg.AdminToken = envValues.AdminToken
	}
	if envValues.ForwardWorkers != 0 {
		cfg.ForwardWorkers = envValues.ForwardWorkers
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
