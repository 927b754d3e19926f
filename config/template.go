package config

import (
	"fmt"
	"strings"
)

// TemplateOptions shape the storage and redis sections of a generated config.
type TemplateOptions struct {
	Driver       string
	DSN          string
	MongoURI     string
	RedisEnabled bool
	RedisAddress string
}

func DefaultTemplateOptions() TemplateOptions {
	return TemplateOptions{
		Driver:       "sqlite",
		DSN:          "timer2ticket.db",
		RedisAddress: "localhost:6379",
	}
}

// TemplateYAML renders the commented configuration template for opts. The
// rendered content passes ValidateYAMLContent.
func TemplateYAML(opts TemplateOptions) (string, error) {
	opts.Driver = strings.ToLower(strings.TrimSpace(opts.Driver))
	opts.DSN = strings.TrimSpace(opts.DSN)
	opts.MongoURI = strings.TrimSpace(opts.MongoURI)
	if strings.TrimSpace(opts.RedisAddress) == "" {
		opts.RedisAddress = "localhost:6379"
	}

	switch opts.Driver {
	case "", "sqlite":
		opts.Driver = "sqlite"
		if opts.DSN == "" {
			opts.DSN = "timer2ticket.db"
		}
	case "mysql":
		if opts.DSN == "" {
			return "", fmt.Errorf("storage.dsn is required for the mysql driver")
		}
	case "mongo":
		if opts.MongoURI == "" {
			opts.MongoURI = "mongodb://localhost:27017"
		}
	default:
		return "", fmt.Errorf("unsupported storage driver: %s (supported: sqlite, mysql, mongo)", opts.Driver)
	}

	content := fmt.Sprintf(configTemplate, opts.Driver, opts.DSN, opts.MongoURI, opts.RedisEnabled, opts.RedisAddress)
	if _, err := ValidateYAMLContent([]byte(content)); err != nil {
		return "", fmt.Errorf("generated config is invalid: %w", err)
	}
	return content, nil
}

// ExampleYAML returns the default configuration template.
func ExampleYAML() string {
	content, err := TemplateYAML(DefaultTemplateOptions())
	if err != nil {
		panic(err)
	}
	return content
}

const configTemplate = `# timer2ticket configuration
server:
  address: ":3000"

storage:
  # sqlite, mysql or mongo
  driver: %q
  dsn: %q
  mongo:
    uri: %q
    database: "timer2ticketDB"
    username: ""
    password: ""

redis:
  # share job locks when several instances serve the same storage
  enabled: %t
  address: %q
  db: 0
  lock_ttl: "10m"

scheduler:
  drain_interval: "10s"
  retry_failed_jobs: true

http:
  timeout: "30s"
  rate_limit_wait: "1.5s"
  rate_limit_retries: 3

log:
  level: "info"
  format: "json"
  output: "stdout"
  file_path: ""
  max_size_mb: 50
  max_backups: 5
  max_age_days: 30
  development: false
`
