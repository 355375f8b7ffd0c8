package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"mail-ingestor/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	DefaultBatchSize      = 50
	DefaultConnectTimeout = 30 * time.Second
	DefaultFetchTimeout   = 60 * time.Second
)

// Load reads the configuration from the specified YAML file and returns a Config struct.
// Variables from an optional .env file are loaded first and ${VAR} references in the
// file are expanded from the environment.
func Load(filepath string) (*models.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	configFile, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(configFile))), &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.Sync.BatchSize <= 0 {
		cfg.Sync.BatchSize = DefaultBatchSize
	}
	if cfg.Sync.ConnectTimeout <= 0 {
		cfg.Sync.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Sync.FetchTimeout <= 0 {
		cfg.Sync.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "mail.db"
	}
	if cfg.Attachments.Dir == "" {
		cfg.Attachments.Dir = "attachments"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "mailsync.events"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].Provider == "" {
			cfg.Accounts[i].Provider = models.DefaultProvider
		}
		if cfg.Accounts[i].Mailbox == "" {
			cfg.Accounts[i].Mailbox = "INBOX"
		}
	}
}

func validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %q", cfg.Database.Driver)
	}
	seen := make(map[string]bool, len(cfg.Accounts))
	for i, acc := range cfg.Accounts {
		if acc.Email == "" {
			return fmt.Errorf("account %d: email is required", i)
		}
		if seen[acc.Email] {
			return fmt.Errorf("account %s configured twice", acc.Email)
		}
		seen[acc.Email] = true
	}
	return nil
}
