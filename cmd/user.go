package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"timer2ticket/config"
	"timer2ticket/model"
	"timer2ticket/scheduler"
	"timer2ticket/synced"
)

var userImportInput string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage the users the scheduler syncs.",
	Long: `Import user documents and list stored users.

A user document holds the username, the status, the config sync and time
entries sync schedules and the service definitions of a user. Exactly one
service definition must be primary.`,
	Example: `
  # Import or update a user
  timer2ticket user import -i ./user.yaml

  # List users
  timer2ticket user list
`,
}

var userImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a user document from YAML or JSON",
	Long: `Read a user document, validate it and store it.

A document with an id updates the stored user of that id and keeps its
mappings unless the document carries mappings itself. A document without an
id creates a new user.`,
	Example: `
  timer2ticket user import -i ./user.yaml
  timer2ticket user import -i ./user.json
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, err := config.LoadUserDocument(userImportInput)
		if err != nil {
			return err
		}
		if err := validateSchedules(user); err != nil {
			return err
		}
		registered := synced.RegisteredServices()
		for _, name := range fallbackServices(user, registered) {
			fmt.Printf("warning: service %q is not one of %s and is synced as %s\n", name, strings.Join(registered, ", "), synced.FallbackService)
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if user.ID != "" && user.Mappings == nil {
			if existing, err := a.store.GetUser(ctx, user.ID); err == nil {
				user.Mappings = existing.Mappings
			}
		}

		stored, err := a.store.UpsertUser(ctx, user)
		if err != nil {
			return err
		}
		fmt.Printf("User imported. ID: %s, Username: %s, Services: %d\n", stored.ID, stored.Username, len(stored.ServiceDefinitions))
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		users, err := a.store.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printUsers(os.Stdout, users)
	},
}

// validateSchedules rejects cron expressions the scheduler would skip.
func validateSchedules(user model.User) error {
	schedules := []struct {
		name  string
		value string
	}{
		{name: "configSyncJobDefinition.schedule", value: user.ConfigSyncJobDefinition.Schedule},
		{name: "timeEntrySyncJobDefinition.schedule", value: user.TimeEntrySyncJobDefinition.Schedule},
	}
	for _, schedule := range schedules {
		if strings.TrimSpace(schedule.value) == "" {
			return fmt.Errorf("validation failed: %s is required", schedule.name)
		}
		if !scheduler.ValidSchedule(schedule.value) {
			return fmt.Errorf("validation failed: %s %q is not a valid cron expression", schedule.name, schedule.value)
		}
	}
	return nil
}

// fallbackServices returns the service definition names of user that have no
// registered implementation.
func fallbackServices(user model.User, registered []string) []string {
	var unknown []string
	for _, def := range user.ServiceDefinitions {
		if !slices.Contains(registered, def.Name) {
			unknown = append(unknown, def.Name)
		}
	}
	return unknown
}

func printUsers(w io.Writer, users []model.User) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tSTATUS\tPRIMARY\tCONFIG SYNC\tTIME ENTRIES SYNC")
	for _, user := range users {
		primary := "-"
		if def, ok := user.PrimaryServiceDefinition(); ok {
			primary = def.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			user.ID,
			user.Username,
			user.Status,
			primary,
			lastDone(user.ConfigSyncJobDefinition.LastSuccessfullyDone),
			lastDone(user.TimeEntrySyncJobDefinition.LastSuccessfullyDone),
		)
	}
	return tw.Flush()
}

func lastDone(at *time.Time) string {
	if at == nil {
		return "never"
	}
	return at.Local().Format("2006-01-02 15:04:05")
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userImportCmd)
	userCmd.AddCommand(userListCmd)

	userImportCmd.Flags().StringVarP(&userImportInput, "input", "i", "", "User document (.yaml, .yml or .json)")
	_ = userImportCmd.MarkFlagRequired("input")
}
