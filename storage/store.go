package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/reconcile"
)

// ErrNotFound is returned when a write or lookup matched no stored document.
var ErrNotFound = errors.New("not found")

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverMongo  = "mongo"
)

// Store is the complete persistence used by the scheduler, the CLI and the
// sync jobs.
type Store interface {
	reconcile.Repository

	GetUser(ctx context.Context, id string) (model.User, error)
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	// UpsertUser stores user and returns it with the generated defaults applied.
	UpsertUser(ctx context.Context, user model.User) (model.User, error)

	CreateJobLog(ctx context.Context, log model.JobLog) (model.JobLog, error)
	// ListJobLogs returns the newest logs of a user first.
	ListJobLogs(ctx context.Context, userID string, limit int) ([]model.JobLog, error)

	Close() error
}

type MongoOptions struct {
	URI      string
	Database string
	Username string
	Password string
}

type Options struct {
	Driver string
	DSN    string
	Mongo  MongoOptions
}

// Open connects to the backend selected by opts.Driver.
func Open(ctx context.Context, opts Options, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		store Store
		err   error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		store, err = OpenSQLite(opts.DSN)
	case DriverMySQL:
		store, err = OpenMySQL(ctx, opts.DSN)
	case DriverMongo:
		store, err = OpenMongo(ctx, opts.Mongo)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	log.Info("storage opened", zap.String("driver", opts.Driver))
	return store, nil
}
