package config

import (
	"fmt"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubAccounts string `env:"GITHUB_ACCOUNTS"` // "name:token,name:token"
	GitHubToken    string `env:"GITHUB_TOKEN"`
	GitHubAPIURL   string `env:"GITHUB_API_URL" envDefault:"https://api.github.com/"`

	// Fetching
	WorkerCount      int           `env:"WORKER_COUNT" envDefault:"100"`
	RateLimitReserve int           `env:"RATE_LIMIT_RESERVE" envDefault:"1"`
	Cooldown         time.Duration `env:"RATE_LIMIT_COOLDOWN" envDefault:"60s"`
	MaxCooldowns     int           `env:"MAX_COOLDOWNS" envDefault:"60"`
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	RetryBackoff     time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`
	MaxRetryBackoff  time.Duration `env:"MAX_RETRY_BACKOFF" envDefault:"30s"`
	RequestTimeout   time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MinRequestDelay  time.Duration `env:"MIN_REQUEST_DELAY" envDefault:"0s"`
	SkipExisting     bool          `env:"SKIP_EXISTING" envDefault:"true"`

	// Target tree
	TargetDir        string `env:"TARGET_DIR" envDefault:"."`
	RepoCap          int    `env:"REPO_CAP" envDefault:"200"`
	DiscoverMinStars int    `env:"DISCOVER_MIN_STARS" envDefault:"15000"`

	// Storage
	StorageType string `env:"STORAGE_TYPE" envDefault:"sqlite"` // "sqlite", "postgres" or "none"
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./collector.db"`
	PostgresURL string `env:"POSTGRES_URL"`

	// API Server
	APIPort string `env:"API_PORT" envDefault:"8080"`
	APIHost string `env:"API_HOST" envDefault:"localhost"`

	// CLI
	APIEndpoint string `env:"API_ENDPOINT" envDefault:"http://localhost:8080"`
}

// Load loads the configuration from environment variables.
// Files are read with godotenv first; variables already set in the
// environment take precedence.
func Load(files ...string) (*Config, error) {
	if len(files) > 0 && files[0] != "" {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", strings.Join(files, ", "), err)
		}
	} else {
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Credentials returns the credential pool described by GITHUB_ACCOUNTS,
// falling back to a single GITHUB_TOKEN credential.
func (c *Config) Credentials() ([]domain.Credential, error) {
	var creds []domain.Credential
	for _, entry := range strings.Split(c.GitHubAccounts, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, secret, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(secret) == "" {
			return nil, &ConfigError{Field: "GITHUB_ACCOUNTS", Message: fmt.Sprintf("entry %q must look like name:token", entry)}
		}
		creds = append(creds, domain.Credential{
			Identifier: strings.TrimSpace(name),
			Secret:     strings.TrimSpace(secret),
		})
	}

	if len(creds) == 0 && c.GitHubToken != "" {
		creds = append(creds, domain.Credential{Identifier: "default", Secret: c.GitHubToken})
	}
	return creds, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	creds, err := c.Credentials()
	if err != nil {
		return err
	}
	if len(creds) == 0 {
		return &ConfigError{Field: "GITHUB_ACCOUNTS", Message: "at least one credential is required (or set GITHUB_TOKEN)"}
	}
	if !strings.HasSuffix(c.GitHubAPIURL, "/") {
		return &ConfigError{Field: "GITHUB_API_URL", Message: "must end with a trailing slash"}
	}
	if c.WorkerCount < 1 {
		return &ConfigError{Field: "WORKER_COUNT", Message: "must be at least 1"}
	}
	if c.RateLimitReserve < 0 {
		return &ConfigError{Field: "RATE_LIMIT_RESERVE", Message: "must not be negative"}
	}
	if c.MaxAttempts < 0 {
		return &ConfigError{Field: "MAX_ATTEMPTS", Message: "must not be negative (0 retries forever)"}
	}
	if c.MaxCooldowns < 0 {
		return &ConfigError{Field: "MAX_COOLDOWNS", Message: "must not be negative (0 waits forever)"}
	}
	if c.RepoCap < 1 || c.RepoCap > 1000 {
		return &ConfigError{Field: "REPO_CAP", Message: "must be between 1 and 1000"}
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	return nil
}

// ValidateStorage validates only the storage settings, for commands that never call GitHub
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case "sqlite", "none":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'none'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
