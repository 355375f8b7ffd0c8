package models

import "time"

// Config represents the application configuration
type Config struct {
	Accounts    []AccountConfig   `yaml:"accounts"`
	Database    DatabaseConfig    `yaml:"database"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Sync        SyncConfig        `yaml:"sync"`
	NATS        NATSConfig        `yaml:"nats"`
	HTTP        HTTPConfig        `yaml:"http"`
	LogLevel    string            `yaml:"logLevel"`
}

// AccountConfig represents one remote mailbox to ingest
type AccountConfig struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Provider Provider `yaml:"provider"`
	Mailbox  string   `yaml:"mailbox"`
	Server   string   `yaml:"server"` // optional host:port override
}

// DatabaseConfig selects the persistence driver
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// AttachmentsConfig locates the attachment content store
type AttachmentsConfig struct {
	Dir string `yaml:"dir"`
}

// SyncConfig tunes a synchronization run
type SyncConfig struct {
	BatchSize        int           `yaml:"batchSize"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout"` // ex: "30s"
	FetchTimeout     time.Duration `yaml:"fetchTimeout"`
	FetchesPerSecond float64       `yaml:"fetchesPerSecond"` // 0 disables pacing
	RefreshTime      time.Duration `yaml:"refreshTime"`
}

// NATSConfig enables publishing sync events to NATS when URL is set
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// HTTPConfig configures the serve command
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Account converts the configured entry into the account read by the sync core
func (a AccountConfig) Account() Account {
	return Account{
		Email:    a.Email,
		Password: a.Password,
		Provider: a.Provider,
		Mailbox:  a.Mailbox,
		Server:   a.Server,
	}
}
