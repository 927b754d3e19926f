package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/reconcile"
)

var (
	ErrConfigNeverSucceeded = errors.New("config sync job has not succeeded yet")
	ErrNotScheduled         = errors.New("no jobs found for this user")
)

const DefaultDrainInterval = 10 * time.Second

// Store is the persistence the scheduler needs.
type Store interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	ListActiveUsers(ctx context.Context) ([]model.User, error)
	CreateJobLog(ctx context.Context, log model.JobLog) (model.JobLog, error)
	UpdateJobLog(ctx context.Context, log model.JobLog) error
}

// JobRunner executes one job with its job log.
type JobRunner interface {
	Run(ctx context.Context, job reconcile.Job, user model.User, jobLog *model.JobLog) (reconcile.Result, error)
}

type Config struct {
	DrainInterval   time.Duration
	RetryFailedJobs bool
}

type queuedJob struct {
	userID  string
	kind    model.JobType
	jobLog  model.JobLog
	attempt int
}

// Scheduler keeps the cron tasks of every active user and drains the queue
// of pending jobs.
type Scheduler struct {
	store  Store
	runner JobRunner
	jobs   map[model.JobType]reconcile.Job
	locker Locker
	cfg    Config
	log    *zap.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu    sync.Mutex
	queue []queuedJob
	tasks map[string]map[model.JobType]cron.EntryID
	ctx   context.Context

	cancel context.CancelFunc
	done   chan struct{}
}

// cronParser accepts five field expressions and an optional leading seconds field.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func New(store Store, runner JobRunner, jobs []reconcile.Job, locker Locker, cfg Config, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	byKind := make(map[model.JobType]reconcile.Job, len(jobs))
	for _, job := range jobs {
		byKind[job.Kind()] = job
	}
	return &Scheduler{
		store:  store,
		runner: runner,
		jobs:   byKind,
		locker: locker,
		cfg:    cfg,
		log:    log,
		cron:   cron.New(cron.WithParser(cronParser)),
		now:    time.Now,
		tasks:  make(map[string]map[model.JobType]cron.EntryID),
		ctx:    context.Background(),
	}
}

// ValidSchedule reports whether expr is a cron expression the scheduler accepts.
func ValidSchedule(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}

// Start schedules the jobs of every active user, then starts cron and the
// drain loop. The loop stops with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("load active users: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	for _, user := range users {
		s.scheduleUser(user)
	}
	s.cron.Start()
	go s.loop(runCtx, s.done)

	s.log.Info("scheduler started", zap.Int("users", len(users)), zap.Duration("drain_interval", s.cfg.DrainInterval))
	return nil
}

// Stop halts cron and waits for the running drain to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Drain(ctx)
		}
	}
}

// ScheduleConfigJob enqueues a config sync job for the user.
func (s *Scheduler) ScheduleConfigJob(ctx context.Context, userID string, origin model.JobOrigin) error {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.enqueue(ctx, userID, model.JobTypeConfig, origin)
}

// ScheduleTimeEntriesJob enqueues a time entries sync job. The user must have
// completed a config sync job once.
func (s *Scheduler) ScheduleTimeEntriesJob(ctx context.Context, userID string, origin model.JobOrigin) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.ConfigSyncedOnce() {
		return ErrConfigNeverSucceeded
	}
	return s.enqueue(ctx, userID, model.JobTypeTimeEntries, origin)
}

// StartUser reschedules the cron tasks of a user from its stored definition
// and enqueues a config sync job right away.
func (s *Scheduler) StartUser(ctx context.Context, userID string) error {
	s.removeTasks(userID)

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.enqueue(ctx, userID, model.JobTypeConfig, model.JobOriginManual); err != nil {
		return err
	}
	s.scheduleUser(user)
	return nil
}

// StopUser removes the cron tasks of a user.
func (s *Scheduler) StopUser(userID string) error {
	if !s.removeTasks(userID) {
		return ErrNotScheduled
	}
	s.log.Info("user jobs stopped", zap.String("user_id", userID))
	return nil
}

// IsScheduled reports whether both cron tasks of the user exist.
func (s *Scheduler) IsScheduled(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := s.tasks[userID]
	_, config := tasks[model.JobTypeConfig]
	_, timeEntries := tasks[model.JobTypeTimeEntries]
	return config && timeEntries
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) scheduleUser(user model.User) {
	log := s.log.With(zap.String("user_id", user.ID))
	tasks := make(map[model.JobType]cron.EntryID, 2)

	add := func(kind model.JobType, schedule string) {
		id, err := s.cron.AddFunc(schedule, func() { s.tick(user.ID, kind) })
		if err != nil {
			log.Warn("invalid job schedule", zap.String("job", string(kind)), zap.String("schedule", schedule), zap.Error(err))
			return
		}
		tasks[kind] = id
	}
	add(model.JobTypeConfig, user.ConfigSyncJobDefinition.Schedule)
	add(model.JobTypeTimeEntries, user.TimeEntrySyncJobDefinition.Schedule)

	s.mu.Lock()
	s.tasks[user.ID] = tasks
	s.mu.Unlock()
	log.Info("user jobs scheduled", zap.Int("tasks", len(tasks)))
}

// removeTasks drops the cron tasks of a user and reports whether any existed.
func (s *Scheduler) removeTasks(userID string) bool {
	s.mu.Lock()
	tasks, ok := s.tasks[userID]
	delete(s.tasks, userID)
	s.mu.Unlock()

	for _, id := range tasks {
		s.cron.Remove(id)
	}
	return ok && len(tasks) > 0
}

// tick runs on a cron schedule and enqueues the job with the current user.
func (s *Scheduler) tick(userID string, kind model.JobType) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	log := s.log.With(zap.String("user_id", userID), zap.String("job", string(kind)))
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		log.Warn("load user for scheduled job", zap.Error(err))
		return
	}
	if kind == model.JobTypeTimeEntries && !user.ConfigSyncedOnce() {
		log.Debug("skip time entries job until config sync succeeded")
		return
	}
	if err := s.enqueue(ctx, userID, kind, model.JobOriginAuto); err != nil {
		log.Warn("enqueue scheduled job", zap.Error(err))
	}
}

func (s *Scheduler) enqueue(ctx context.Context, userID string, kind model.JobType, origin model.JobOrigin) error {
	if _, ok := s.jobs[kind]; !ok {
		return fmt.Errorf("no job registered for %s", kind)
	}
	jobLog, err := s.store.CreateJobLog(ctx, model.NewJobLog(userID, kind, origin, s.now()))
	if err != nil {
		return fmt.Errorf("create job log: %w", err)
	}

	s.mu.Lock()
	s.queue = append(s.queue, queuedJob{userID: userID, kind: kind, jobLog: jobLog})
	s.mu.Unlock()

	s.log.Debug("job enqueued", zap.String("user_id", userID), zap.String("job", string(kind)), zap.String("origin", string(origin)))
	return nil
}

func (s *Scheduler) requeue(job queuedJob) {
	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.mu.Unlock()
}

// Drain runs every queued job and waits for them. Jobs of different users or
// kinds run concurrently; a job whose lock is held waits for the next drain.
func (s *Scheduler) Drain(ctx context.Context) {
	s.mu.Lock()
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, job := range pending {
		wg.Add(1)
		go func(job queuedJob) {
			defer wg.Done()
			s.execute(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) execute(ctx context.Context, queued queuedJob) {
	log := s.log.With(zap.String("user_id", queued.userID), zap.String("job", string(queued.kind)))
	key := lockKey(queued.userID, queued.kind)

	acquired, err := s.locker.TryLock(ctx, key)
	if err != nil {
		log.Warn("acquire job lock", zap.Error(err))
		s.requeue(queued)
		return
	}
	if !acquired {
		log.Debug("job already running, requeued")
		s.requeue(queued)
		return
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			log.Warn("release job lock", zap.Error(err))
		}
	}()

	job := s.jobs[queued.kind]
	for {
		result, err := s.runOnce(ctx, job, &queued)
		if err == nil && result.Succeeded() {
			return
		}
		if !s.cfg.RetryFailedJobs || queued.attempt > 0 || !reconcile.Retryable(err) || ctx.Err() != nil {
			return
		}

		retryLog, err := s.store.CreateJobLog(ctx, model.NewJobLog(queued.userID, queued.kind, queued.jobLog.Origin, s.now()))
		if err != nil {
			log.Warn("create retry job log", zap.Error(err))
			return
		}
		log.Info("retrying failed job")
		queued.jobLog = retryLog
		queued.attempt++
	}
}

// runOnce loads the current user and runs job with the queued job log.
func (s *Scheduler) runOnce(ctx context.Context, job reconcile.Job, queued *queuedJob) (reconcile.Result, error) {
	user, err := s.store.GetUser(ctx, queued.userID)
	if err != nil {
		s.abandon(ctx, &queued.jobLog, fmt.Errorf("load user: %w", err))
		return reconcile.Result{}, err
	}
	return s.runner.Run(ctx, job, user, &queued.jobLog)
}

// abandon completes a job log that never reached its job.
func (s *Scheduler) abandon(ctx context.Context, jobLog *model.JobLog, cause error) {
	now := s.now()
	if err := jobLog.SetToRunning(now); err != nil {
		return
	}
	jobLog.Errors = append(jobLog.Errors, cause.Error())
	if err := jobLog.SetToCompleted(false, now); err != nil {
		return
	}
	if err := s.store.UpdateJobLog(ctx, *jobLog); err != nil {
		s.log.Warn("persist abandoned job log", zap.String("job_log_id", jobLog.ID), zap.Error(err))
	}
}

func lockKey(userID string, kind model.JobType) string {
	return userID + ":" + string(kind)
}
