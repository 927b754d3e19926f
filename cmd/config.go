package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage timer2ticket configuration file values.",
	Long: `Create, edit, display, and delete the timer2ticket configuration file.

The configuration stores application-wide values:
- server.address
- storage.driver / storage.dsn / storage.mongo.*
- redis.* (shared job locks)
- scheduler.drain_interval / scheduler.retry_failed_jobs
- http.timeout / http.rate_limit_wait / http.rate_limit_retries
- log.*`,
	Example: `
  # Create default config in $HOME/.timer2ticket.yaml
  timer2ticket config create

  # Create a config for shared mysql storage with redis locks
  timer2ticket config create --storage mysql --dsn "t2t:secret@tcp(db:3306)/timer2ticket" --redis

  # Show active config and source file
  timer2ticket config show

  # Open active config in editor (creates example if missing)
  timer2ticket config edit

  # Delete active config file
  timer2ticket config delete
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
