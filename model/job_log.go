package model

import (
	"errors"
	"fmt"
	"time"
)

type JobType string

const (
	JobTypeConfig      JobType = "config"
	JobTypeTimeEntries JobType = "time-entries"
)

type JobOrigin string

const (
	JobOriginAuto   JobOrigin = "t2t-auto"
	JobOriginManual JobOrigin = "manual"
)

type JobStatus string

const (
	JobStatusScheduled    JobStatus = "scheduled"
	JobStatusRunning      JobStatus = "running"
	JobStatusSuccessful   JobStatus = "successful"
	JobStatusUnsuccessful JobStatus = "unsuccessful"
)

var ErrInvalidTransition = errors.New("invalid job log transition")

// JobLog records one execution of a sync job.
type JobLog struct {
	ID            string     `json:"id" bson:"_id"`
	UserID        string     `json:"userId" bson:"userId"`
	Type          JobType    `json:"type" bson:"type"`
	Origin        JobOrigin  `json:"origin" bson:"origin"`
	Status        JobStatus  `json:"status" bson:"status"`
	ScheduledDate time.Time  `json:"scheduledDate" bson:"scheduledDate"`
	Started       *time.Time `json:"started,omitempty" bson:"started,omitempty"`
	Completed     *time.Time `json:"completed,omitempty" bson:"completed,omitempty"`
	Errors        []string   `json:"errors" bson:"errors"`
}

func NewJobLog(userID string, jobType JobType, origin JobOrigin, now time.Time) JobLog {
	return JobLog{
		UserID:        userID,
		Type:          jobType,
		Origin:        origin,
		Status:        JobStatusScheduled,
		ScheduledDate: now,
		Errors:        []string{},
	}
}

// SetToRunning moves a scheduled log to running.
func (l *JobLog) SetToRunning(now time.Time) error {
	if l.Status != JobStatusScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, JobStatusRunning)
	}
	l.Status = JobStatusRunning
	l.Started = &now
	return nil
}

// SetToCompleted moves a running log to successful or unsuccessful.
func (l *JobLog) SetToCompleted(successful bool, now time.Time) error {
	next := JobStatusUnsuccessful
	if successful {
		next = JobStatusSuccessful
	}
	if l.Status != JobStatusRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, next)
	}
	l.Status = next
	l.Completed = &now
	return nil
}

// Terminal reports whether the log reached a final state.
func (l JobLog) Terminal() bool {
	return l.Status == JobStatusSuccessful || l.Status == JobStatusUnsuccessful
}
