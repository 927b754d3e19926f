package cmd

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"timer2ticket/config"
	"timer2ticket/logging"
	"timer2ticket/reconcile"
	"timer2ticket/scheduler"
	"timer2ticket/storage"
	"timer2ticket/synced"

	// Service implementations register themselves with synced.
	_ "timer2ticket/redmine"
	_ "timer2ticket/toggl"
)

// app bundles what the long running and one-shot commands share.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store storage.Store
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, err
	}

	log, err := logging.New(loggingConfig(cfg.Log))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := storage.Open(ctx, storageOptions(cfg.Storage), log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	return &app{cfg: cfg, log: log, store: store}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close storage", zap.Error(err))
	}
	_ = a.log.Sync()
}

// jobs builds both sync jobs on one service factory.
func (a *app) jobs() []reconcile.Job {
	factory := synced.NewFactory(synced.Options{
		HTTPClient: httpClient(a.cfg.HTTP),
		Logger:     a.log,
	})
	return []reconcile.Job{
		reconcile.NewConfigSync(factory, a.store, a.log),
		reconcile.NewTimeEntriesSync(factory, a.store, a.log),
	}
}

func (a *app) runner() *reconcile.Runner {
	return reconcile.NewRunner(a.store, a.log)
}

func httpClient(cfg config.HTTPConfig) synced.Doer {
	return synced.NewRateLimitedDoer(&http.Client{Timeout: cfg.Timeout}, synced.RateLimitPolicy{
		Wait:       cfg.RateLimitWait,
		MaxRetries: cfg.RateLimitRetries,
	})
}

func loggingConfig(cfg config.LogConfig) logging.Config {
	return logging.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		Output:      cfg.Output,
		FilePath:    cfg.FilePath,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Development: cfg.Development,
	}
}

func storageOptions(cfg config.StorageConfig) storage.Options {
	return storage.Options{
		Driver: cfg.Driver,
		DSN:    cfg.DSN,
		Mongo: storage.MongoOptions{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
			Username: cfg.Mongo.Username,
			Password: cfg.Mongo.Password,
		},
	}
}

// newLocker returns a Redis backed locker when redis is enabled. The returned
// close func releases the client.
func newLocker(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (scheduler.Locker, func() error, error) {
	if !cfg.Enabled {
		return scheduler.NewLocalLocker(), func() error { return nil }, nil
	}
	client, err := scheduler.NewRedisClient(ctx, scheduler.RedisOptions{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return scheduler.NewRedisLocker(client, cfg.LockTTL, log), client.Close, nil
}
