package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timer2ticket/config"
)

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the active timer2ticket config file in your editor.

Editor selection order:
1) $VISUAL
2) $EDITOR
3) vi

A missing config file is created from the sqlite template first. After the
editor exits the content is validated. An invalid edit is moved to
<config>.rejected and the previous content is restored. A valid config is
checked for setups that run but misbehave, which are printed as warnings.`,
	Example: `
  # Edit active config
  timer2ticket config edit

  # Edit with a specific editor
  EDITOR="code --wait" timer2ticket config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, err := resolveConfigEditPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}

		created, err := writeConfigTemplate(configPath, config.DefaultTemplateOptions(), false)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("No config file found. Created example config at: %s\n", configPath)
		}
		previous, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config failed: %w", err)
		}

		editor := resolveEditorValue(os.Getenv("VISUAL"), os.Getenv("EDITOR"))
		editorCommand, err := buildEditorCommand(editor, configPath)
		if err != nil {
			return err
		}
		editorCommand.Stdin = os.Stdin
		editorCommand.Stdout = os.Stdout
		editorCommand.Stderr = os.Stderr
		if err := editorCommand.Run(); err != nil {
			return fmt.Errorf("opening editor failed: %w", err)
		}

		return checkEditedConfig(os.Stdout, configPath, previous)
	},
}

// checkEditedConfig validates the file at configPath. An invalid file is moved
// aside and previous is written back.
func checkEditedConfig(w io.Writer, configPath string, previous []byte) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading edited config failed: %w", err)
	}

	cfg, validateErr := config.ValidateYAMLContent(content)
	if validateErr != nil {
		rejected := configPath + ".rejected"
		if err := os.WriteFile(rejected, content, 0o600); err != nil {
			return errors.Join(fmt.Errorf("config validation failed in %s: %w", configPath, validateErr), err)
		}
		if err := os.WriteFile(configPath, previous, 0o600); err != nil {
			return errors.Join(fmt.Errorf("config validation failed in %s: %w", configPath, validateErr), err)
		}
		return fmt.Errorf("config validation failed, previous config restored and edit kept in %s: %w", rejected, validateErr)
	}

	for _, warning := range configWarnings(cfg) {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	fmt.Fprintf(w, "Configuration saved and validated: %s\n", configPath)
	return nil
}

// configWarnings lists valid settings that are unlikely to be intended.
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	shared := cfg.Storage.Driver == "mysql" || cfg.Storage.Driver == "mongo"
	if shared && !cfg.Redis.Enabled {
		warnings = append(warnings, fmt.Sprintf("storage.driver %s can be shared but redis is disabled; run a single instance only", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Redis.Enabled {
		warnings = append(warnings, "redis locks are enabled but sqlite storage is local to one host")
	}
	if cfg.Redis.Enabled && cfg.Redis.LockTTL < 3*cfg.Scheduler.DrainInterval {
		warnings = append(warnings, fmt.Sprintf("redis.lock_ttl %s is shorter than three scheduler drain intervals (%s)", cfg.Redis.LockTTL, cfg.Scheduler.DrainInterval))
	}
	if cfg.HTTP.RateLimitRetries == 0 {
		warnings = append(warnings, "http.rate_limit_retries is 0; requests answered with 429 fail immediately")
	}
	if cfg.Log.Output == "file" && cfg.Log.MaxSizeMB == 0 {
		warnings = append(warnings, "log.max_size_mb is 0; log files rotate at the 100 MB default")
	}
	return warnings
}

func resolveConfigEditPath(configFileFlag, configFileUsed string) (string, error) {
	if strings.TrimSpace(configFileFlag) != "" {
		return configFileFlag, nil
	}
	if strings.TrimSpace(configFileUsed) != "" {
		return configFileUsed, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".timer2ticket.yaml"), nil
}

func resolveEditorValue(visual, editor string) string {
	if strings.TrimSpace(visual) != "" {
		return visual
	}
	if strings.TrimSpace(editor) != "" {
		return editor
	}
	return "vi"
}

func buildEditorCommand(editorValue, configPath string) (*exec.Cmd, error) {
	fields := strings.Fields(strings.TrimSpace(editorValue))
	if len(fields) == 0 {
		return nil, fmt.Errorf("editor command is empty")
	}

	args := append(fields[1:], configPath)
	return exec.Command(fields[0], args...), nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
