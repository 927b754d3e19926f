package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"timer2ticket/model"
	"timer2ticket/scheduler"
)

var (
	syncUserID string
	syncJob    string
)

// lockWaitInterval is how long sync waits before draining a job whose lock is
// held by another instance.
const lockWaitInterval = 2 * time.Second

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync job for a user now",
	Long: `Run a config sync or time entries sync job for one user immediately.

The job gets a manual job log and runs through the same runner and retry policy
as scheduled jobs. When redis is enabled, the job waits for a job of the same
user and kind that is running in another instance.

Jobs:
- config: mirror the primary service objects into every secondary service
- time-entries: copy new and changed time entries between all services`,
	Example: `
  # Sync projects, issues and activities
  timer2ticket sync --user 6502c1f0 --job config

  # Sync time entries
  timer2ticket sync --user 6502c1f0 --job time-entries
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseJobType(syncJob)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		locker, closeLocker, err := newLocker(ctx, a.cfg.Redis, a.log)
		if err != nil {
			return err
		}
		defer closeLocker()

		sched := scheduler.New(a.store, a.runner(), a.jobs(), locker, scheduler.Config{
			RetryFailedJobs: a.cfg.Scheduler.RetryFailedJobs,
		}, a.log)

		switch kind {
		case model.JobTypeConfig:
			err = sched.ScheduleConfigJob(ctx, syncUserID, model.JobOriginManual)
		case model.JobTypeTimeEntries:
			err = sched.ScheduleTimeEntriesJob(ctx, syncUserID, model.JobOriginManual)
		}
		if err != nil {
			if errors.Is(err, scheduler.ErrConfigNeverSucceeded) {
				return fmt.Errorf("user %s: run a config sync first: %w", syncUserID, err)
			}
			return err
		}

		if err := drainAll(ctx, sched); err != nil {
			return err
		}

		logs, err := a.store.ListJobLogs(ctx, syncUserID, 1)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			return fmt.Errorf("no job log recorded for user %s", syncUserID)
		}
		return reportJobLog(os.Stdout, logs[0])
	},
}

// drainAll drains until no job is queued anymore.
func drainAll(ctx context.Context, sched *scheduler.Scheduler) error {
	for {
		sched.Drain(ctx)
		if sched.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockWaitInterval):
		}
	}
}

func parseJobType(value string) (model.JobType, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "config":
		return model.JobTypeConfig, nil
	case "time-entries", "timeentries", "te":
		return model.JobTypeTimeEntries, nil
	default:
		return "", fmt.Errorf("unsupported job: %s (supported: config, time-entries)", value)
	}
}

// reportJobLog prints the outcome of a job and returns an error for failed jobs.
func reportJobLog(w io.Writer, log model.JobLog) error {
	fmt.Fprintf(w, "Job %s finished. Status: %s, Job log: %s\n", log.Type, log.Status, log.ID)
	for _, message := range log.Errors {
		fmt.Fprintf(w, "  error: %s\n", message)
	}
	if log.Status != model.JobStatusSuccessful {
		return fmt.Errorf("%s job failed with %d error(s)", log.Type, len(log.Errors))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVar(&syncUserID, "user", "", "User ID")
	syncCmd.Flags().StringVar(&syncJob, "job", "config", "Job to run: config or time-entries")
	_ = syncCmd.MarkFlagRequired("user")
}
