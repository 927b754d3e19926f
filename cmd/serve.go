package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"timer2ticket/scheduler"
	"timer2ticket/web"
)

var serveAddress string

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job scheduler and the trigger API",
	Long: `Start the scheduler for every active user and serve the trigger API.

The scheduler registers the config sync and time entries sync schedule of each
active user, queues a job log whenever a schedule fires and drains the queue
periodically. The API schedules jobs on demand, starts or stops the jobs of a
user and exposes recent job logs.

Stop with Ctrl+C. The HTTP server is shut down gracefully; running jobs are
cancelled.`,
	Example: `
  # Serve on the configured address
  timer2ticket serve

  # Override the listen address
  timer2ticket serve --address :8080
`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		defer func() {
			if err := closeLocker(); err != nil {
				a.log.Warn("close redis client", zap.Error(err))
			}
		}()

		sched := scheduler.New(a.store, a.runner(), a.jobs(), locker, scheduler.Config{
			DrainInterval:   a.cfg.Scheduler.DrainInterval,
			RetryFailedJobs: a.cfg.Scheduler.RetryFailedJobs,
		}, a.log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()

		addr := a.cfg.Server.Address
		if strings.TrimSpace(serveAddress) != "" {
			addr = serveAddress
		}
		server := web.NewServer(sched, a.store, a.log)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(addr)
		}()
		fmt.Printf("Listening on %s\n", addr)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			err := <-errCh
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address, overrides server.address")
}
