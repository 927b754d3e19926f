package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timer2ticket/config"
)

var (
	createStorage      string
	createDSN          string
	createMongoURI     string
	createRedis        bool
	createRedisAddress string
	createForce        bool
)

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file for a storage and lock setup.",
	Long: `Write a commented configuration file.

The storage section follows --storage. A single instance on one host works with
the sqlite default. Several instances sharing a mysql or mongo storage should
pass --redis so that a job of a user never runs twice at the same time.

An existing file is kept unless --force is given.`,
	Example: `
  # sqlite storage in $HOME/.timer2ticket.yaml
  timer2ticket config create

  # Shared mysql storage with redis locks
  timer2ticket config create --storage mysql --dsn "t2t:secret@tcp(db:3306)/timer2ticket" --redis --redis-address cache:6379

  # Mongo storage at a custom path, replacing the file
  timer2ticket --configFile ./t2t.yaml config create --storage mongo --mongo-uri mongodb://mongo:27017 --force
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := resolveConfigEditPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		opts := config.TemplateOptions{
			Driver:       createStorage,
			DSN:          createDSN,
			MongoURI:     createMongoURI,
			RedisEnabled: createRedis,
			RedisAddress: createRedisAddress,
		}
		return createConfig(cmd.OutOrStdout(), configPath, opts, createForce)
	},
}

func createConfig(w io.Writer, configPath string, opts config.TemplateOptions, force bool) error {
	written, err := writeConfigTemplate(configPath, opts, force)
	if err != nil {
		return err
	}
	if !written {
		fmt.Fprintf(w, "Config file already exists at: %s (use --force to replace it)\n", configPath)
		return nil
	}
	fmt.Fprintf(w, "New config file created at: %s (storage: %s, redis: %t)\n", configPath, templateDriver(opts), opts.RedisEnabled)
	return nil
}

// writeConfigTemplate renders opts to path. It reports false when the file
// exists and force is not set.
func writeConfigTemplate(path string, opts config.TemplateOptions, force bool) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		if !force {
			return false, nil
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking config file failed: %w", err)
	}

	content, err := config.TemplateYAML(opts)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating config directory failed: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return false, fmt.Errorf("writing config failed: %w", err)
	}
	return true, nil
}

func templateDriver(opts config.TemplateOptions) string {
	if driver := strings.ToLower(strings.TrimSpace(opts.Driver)); driver != "" {
		return driver
	}
	return "sqlite"
}

func init() {
	configCmd.AddCommand(configCreateCmd)

	defaults := config.DefaultTemplateOptions()
	configCreateCmd.Flags().StringVar(&createStorage, "storage", defaults.Driver, "Storage driver: sqlite|mysql|mongo")
	configCreateCmd.Flags().StringVar(&createDSN, "dsn", "", "Storage DSN (sqlite file or mysql DSN)")
	configCreateCmd.Flags().StringVar(&createMongoURI, "mongo-uri", "", "Mongo connection URI for the mongo driver")
	configCreateCmd.Flags().BoolVar(&createRedis, "redis", false, "Enable redis job locks")
	configCreateCmd.Flags().StringVar(&createRedisAddress, "redis-address", defaults.RedisAddress, "Redis address")
	configCreateCmd.Flags().BoolVar(&createForce, "force", false, "Replace an existing config file")
}
