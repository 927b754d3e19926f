package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timer2ticket/config"
)

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show active configuration values.",
	Long: `Display the currently loaded configuration and the resolved config file path.

This command validates the configuration before printing values. Secrets are masked.`,
	Example: `
  # Show active configuration
  timer2ticket config show
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadAndValidate()
		if err != nil {
			fmt.Println("Invalid config:", err)
			return
		}

		if configPath := viper.ConfigFileUsed(); configPath != "" {
			fmt.Println("Config file loaded from:", configPath)
		} else {
			fmt.Println("No config file loaded, showing defaults.")
		}
		fmt.Println("Configuration:")
		printConfig(os.Stdout, cfg)
	},
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "server.address: %s\n", cfg.Server.Address)
	fmt.Fprintf(w, "storage.driver: %s\n", cfg.Storage.Driver)
	fmt.Fprintf(w, "storage.dsn: %s\n", maskSecret(cfg.Storage.DSN, cfg.Storage.Driver == "mysql"))
	if cfg.Storage.Driver == "mongo" {
		fmt.Fprintf(w, "storage.mongo.uri: %s\n", cfg.Storage.Mongo.URI)
		fmt.Fprintf(w, "storage.mongo.database: %s\n", cfg.Storage.Mongo.Database)
		fmt.Fprintf(w, "storage.mongo.username: %s\n", cfg.Storage.Mongo.Username)
		fmt.Fprintf(w, "storage.mongo.password: %s\n", maskSecret(cfg.Storage.Mongo.Password, true))
	}
	fmt.Fprintf(w, "redis.enabled: %t\n", cfg.Redis.Enabled)
	if cfg.Redis.Enabled {
		fmt.Fprintf(w, "redis.address: %s\n", cfg.Redis.Address)
		fmt.Fprintf(w, "redis.db: %d\n", cfg.Redis.DB)
		fmt.Fprintf(w, "redis.password: %s\n", maskSecret(cfg.Redis.Password, true))
		fmt.Fprintf(w, "redis.lock_ttl: %s\n", cfg.Redis.LockTTL)
	}
	fmt.Fprintf(w, "scheduler.drain_interval: %s\n", cfg.Scheduler.DrainInterval)
	fmt.Fprintf(w, "scheduler.retry_failed_jobs: %t\n", cfg.Scheduler.RetryFailedJobs)
	fmt.Fprintf(w, "http.timeout: %s\n", cfg.HTTP.Timeout)
	fmt.Fprintf(w, "http.rate_limit_wait: %s\n", cfg.HTTP.RateLimitWait)
	fmt.Fprintf(w, "http.rate_limit_retries: %d\n", cfg.HTTP.RateLimitRetries)
	fmt.Fprintf(w, "log.level: %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "log.format: %s\n", cfg.Log.Format)
	fmt.Fprintf(w, "log.output: %s\n", cfg.Log.Output)
	if cfg.Log.Output == "file" {
		fmt.Fprintf(w, "log.file_path: %s\n", cfg.Log.FilePath)
	}
}

func maskSecret(value string, secret bool) string {
	if !secret || value == "" {
		return value
	}
	return "********"
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
