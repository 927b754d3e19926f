/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timer2ticket/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "timer2ticket",
	Short: "Sync projects, issues and time entries between a primary and secondary services.",
	Long: `
**********************************************
*              TIMER 2 TICKET                *
**********************************************

This CLI runs the reconciliation engine that keeps the structural objects
(projects, issues, activities) of a primary service mirrored as tags or
projects in secondary services, and keeps time entries booked in any service
copied to every other service of the user.

Supported services:
- Redmine
- TogglTrack
`,
	Example: `
  # Create configuration file
  timer2ticket config create

  # Import a user document
  timer2ticket user import -i ./user.yaml

  # Run the scheduler and the trigger API
  timer2ticket serve

  # Run one config sync now
  timer2ticket sync --user 6502c1f0 --job config

  # Export the mappings of a user
  timer2ticket export --user 6502c1f0 --mode mappings --output ./mappings.xlsx
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.timer2ticket.yaml, then ./.timer2ticket.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if !requiresConfig(cmd) {
			return nil
		}

		_, err := config.LoadAndValidate()
		return err
	}
}

// requiresConfig reports whether cmd touches storage or remote services.
func requiresConfig(cmd *cobra.Command) bool {
	if cmd == nil {
		return false
	}
	switch cmd.Name() {
	case "serve", "sync", "export", "import", "list":
		return true
	}
	return false
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".timer2ticket")
	}

	viper.SetEnvPrefix("T2T")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found. Using defaults; create one with: timer2ticket config create")
	}
}
