package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/synced"
)

// ErrNoPrimaryService is returned for users without a primary service definition.
var ErrNoPrimaryService = errors.New("user has no primary service definition")

// Repository is the persistence the sync jobs need.
type Repository interface {
	ReplaceUserMappings(ctx context.Context, userID string, mappings []model.Mapping) error
	SetConfigJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error
	SetTimeEntryJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error
	ListTimeEntrySyncedObjects(ctx context.Context, userID string) ([]model.TimeEntrySyncedObject, error)
	CreateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) (model.TimeEntrySyncedObject, error)
	UpdateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) error
	DeleteTimeEntrySyncedObject(ctx context.Context, id string) error
	UpdateJobLog(ctx context.Context, log model.JobLog) error
}

// ServiceProvider builds the service client of one service definition.
type ServiceProvider interface {
	Service(def model.ServiceDefinition) (synced.Service, error)
}

// Result is the outcome of one reconciliation pass. Persisted reports whether
// every durable write was applied, OK whether every remote operation succeeded.
type Result struct {
	Persisted bool
	OK        bool
	Errors    []string
}

func (r Result) Succeeded() bool {
	return r.Persisted && r.OK
}

type Job interface {
	Kind() model.JobType
	Run(ctx context.Context, user model.User) (Result, error)
}

// Retryable reports whether a failed job is worth running again.
func Retryable(err error) bool {
	return !errors.Is(err, ErrNoPrimaryService) && !errors.Is(err, model.ErrInvalidTransition)
}

// Runner moves a job log through its lifecycle around one job execution.
type Runner struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

func NewRunner(repo Repository, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{repo: repo, log: log, now: time.Now}
}

// Run executes job for user. jobLog must be scheduled; it is persisted when
// the job starts and when it completes.
func (r *Runner) Run(ctx context.Context, job Job, user model.User, jobLog *model.JobLog) (Result, error) {
	if err := jobLog.SetToRunning(r.now()); err != nil {
		return Result{}, err
	}
	if err := r.repo.UpdateJobLog(ctx, *jobLog); err != nil {
		return Result{}, fmt.Errorf("persist running job log: %w", err)
	}

	log := r.log.With(
		zap.String("user_id", user.ID),
		zap.String("job", string(job.Kind())),
		zap.String("job_log_id", jobLog.ID),
	)
	log.Info("job started", zap.String("origin", string(jobLog.Origin)))

	result, runErr := job.Run(ctx, user)
	if runErr != nil {
		result.OK = false
		result.Errors = append(result.Errors, runErr.Error())
	}

	jobLog.Errors = append([]string{}, result.Errors...)
	if err := jobLog.SetToCompleted(result.Succeeded(), r.now()); err != nil {
		return result, err
	}
	if err := r.repo.UpdateJobLog(ctx, *jobLog); err != nil {
		return result, errors.Join(runErr, fmt.Errorf("persist completed job log: %w", err))
	}

	if result.Succeeded() {
		log.Info("job finished")
	} else {
		log.Warn("job failed", zap.Strings("errors", result.Errors), zap.Bool("persisted", result.Persisted))
	}
	return result, runErr
}

// failures collects the per-entity errors of one pass.
type failures struct {
	log       *zap.Logger
	errs      []error
	persisted bool
}

func newFailures(log *zap.Logger) *failures {
	return &failures{log: log, persisted: true}
}

func (f *failures) add(err error, msg string, fields ...zap.Field) {
	f.log.Warn(msg, append(fields, zap.Error(err))...)
	f.errs = append(f.errs, fmt.Errorf("%s: %w", msg, err))
}

// addPersist records a failed durable write.
func (f *failures) addPersist(err error, msg string, fields ...zap.Field) {
	f.persisted = false
	f.add(err, msg, fields...)
}

func (f *failures) ok() bool {
	return len(f.errs) == 0
}

func (f *failures) result() Result {
	messages := make([]string, 0, len(f.errs))
	for _, err := range f.errs {
		messages = append(messages, err.Error())
	}
	return Result{Persisted: f.persisted, OK: f.ok(), Errors: messages}
}
