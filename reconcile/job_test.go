package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timer2ticket/model"
)

type stubJob struct {
	result Result
	err    error
}

func (j stubJob) Kind() model.JobType {
	return model.JobTypeConfig
}

func (j stubJob) Run(context.Context, model.User) (Result, error) {
	return j.result, j.err
}

func TestRunner_RecordsSuccessfulRun(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	runner := NewRunner(repo, nil)
	runner.now = fixedClock(baseTime)

	jobLog := model.NewJobLog("user-1", model.JobTypeConfig, model.JobOriginManual, baseTime)
	result, err := runner.Run(context.Background(), stubJob{result: Result{Persisted: true, OK: true}}, testUser("A", "B"), &jobLog)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	require.Len(t, repo.jobLogs, 2)
	assert.Equal(t, model.JobStatusRunning, repo.jobLogs[0].Status)
	assert.Equal(t, model.JobStatusSuccessful, repo.jobLogs[1].Status)
	assert.NotNil(t, repo.jobLogs[1].Started)
	assert.NotNil(t, repo.jobLogs[1].Completed)
	assert.Empty(t, repo.jobLogs[1].Errors)
}

func TestRunner_RecordsFailureDetail(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	runner := NewRunner(repo, nil)

	jobLog := model.NewJobLog("user-1", model.JobTypeTimeEntries, model.JobOriginAuto, baseTime)
	job := stubJob{result: Result{Persisted: true, OK: false, Errors: []string{"create time entry copy: boom"}}}
	result, err := runner.Run(context.Background(), job, testUser("A", "B"), &jobLog)
	require.NoError(t, err)
	assert.False(t, result.Succeeded())

	assert.Equal(t, model.JobStatusUnsuccessful, jobLog.Status)
	assert.Equal(t, []string{"create time entry copy: boom"}, jobLog.Errors)
}

func TestRunner_FatalJobErrorIsReturnedAndRecorded(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	runner := NewRunner(repo, nil)

	jobLog := model.NewJobLog("user-1", model.JobTypeConfig, model.JobOriginAuto, baseTime)
	_, err := runner.Run(context.Background(), stubJob{err: ErrNoPrimaryService}, testUser("A", "B"), &jobLog)
	require.ErrorIs(t, err, ErrNoPrimaryService)
	assert.Equal(t, model.JobStatusUnsuccessful, jobLog.Status)
	assert.Equal(t, []string{ErrNoPrimaryService.Error()}, jobLog.Errors)
	assert.False(t, Retryable(err))
}

func TestRunner_RefusesJobLogThatIsNotScheduled(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	runner := NewRunner(repo, nil)

	jobLog := model.NewJobLog("user-1", model.JobTypeConfig, model.JobOriginAuto, baseTime)
	require.NoError(t, jobLog.SetToRunning(baseTime))

	_, err := runner.Run(context.Background(), stubJob{result: Result{Persisted: true, OK: true}}, testUser("A", "B"), &jobLog)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Empty(t, repo.jobLogs)
}

func TestRunner_ReturnsJobLogPersistFailure(t *testing.T) {
	t.Parallel()

	repo := newMemoryRepo()
	repo.updateLogErr = errors.New("db down")
	runner := NewRunner(repo, nil)

	jobLog := model.NewJobLog("user-1", model.JobTypeConfig, model.JobOriginAuto, baseTime)
	_, err := runner.Run(context.Background(), stubJob{result: Result{Persisted: true, OK: true}}, testUser("A", "B"), &jobLog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.True(t, Retryable(err))
}
