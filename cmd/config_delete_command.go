package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timer2ticket/config"
)

var deletePurgeData bool

var configDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active configuration file.",
	Long: `Delete the configuration file currently selected by timer2ticket.

With --purge-data the sqlite database named by storage.dsn is removed as well,
including its -wal and -shm files. Remote mysql and mongo storage is never
touched.

If no configuration file is active, the command returns an error.`,
	Example: `
  # Delete active config
  timer2ticket config delete

  # Delete config at a custom path together with its sqlite database
  timer2ticket --configFile ./custom-timer2ticket.yaml config delete --purge-data
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			return fmt.Errorf("no configuration file found")
		}
		return deleteConfig(os.Stdout, configPath, deletePurgeData)
	},
}

func deleteConfig(w io.Writer, configPath string, purgeData bool) error {
	var dataFiles []string
	if purgeData {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading configuration file: %w", err)
		}
		cfg, err := config.ValidateYAMLContent(content)
		if err != nil {
			return fmt.Errorf("cannot purge data of an invalid config: %w", err)
		}
		if cfg.Storage.Driver != "sqlite" {
			return fmt.Errorf("--purge-data supports sqlite storage only, config uses %s", cfg.Storage.Driver)
		}
		dataFiles = sqliteFiles(cfg.Storage.DSN)
	}

	if err := os.Remove(configPath); err != nil {
		return fmt.Errorf("error deleting configuration file: %w", err)
	}
	fmt.Fprintf(w, "Configuration file successfully deleted: %s\n", configPath)

	for _, path := range dataFiles {
		err := os.Remove(path)
		switch {
		case err == nil:
			fmt.Fprintf(w, "Storage file deleted: %s\n", path)
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("error deleting storage file: %w", err)
		}
	}
	return nil
}

// sqliteFiles returns the database file of dsn and its journal files.
func sqliteFiles(dsn string) []string {
	path := strings.TrimPrefix(strings.TrimSpace(dsn), "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	return []string{path, path + "-wal", path + "-shm"}
}

func init() {
	configCmd.AddCommand(configDeleteCmd)

	configDeleteCmd.Flags().BoolVar(&deletePurgeData, "purge-data", false, "Also delete the sqlite database of the config")
}
