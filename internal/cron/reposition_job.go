package cron

import (
	"context"
	"fmt"

	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

// RepositionRunner is the queue surface the worker drives.
type RepositionRunner interface {
	Sweep(ctx context.Context) error
	ExpireOverdue(ctx context.Context) (int64, error)
}

// NewRepositionSweepJob builds the job that attempts every due reposition
// task.
func NewRepositionSweepJob(svc RepositionRunner) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("reposition service required")
	}
	return &repositionSweepJob{svc: svc}, nil
}

type repositionSweepJob struct {
	svc RepositionRunner
}

func (j *repositionSweepJob) Name() string { return "reposition-sweep" }

func (j *repositionSweepJob) Run(ctx context.Context) error {
	return j.svc.Sweep(ctx)
}

// NewTaskExpiryJob builds the job that cancels tasks whose source start has
// elapsed.
func NewTaskExpiryJob(svc RepositionRunner, logg *logger.Logger) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("reposition service required")
	}
	return &taskExpiryJob{svc: svc, logg: logg}, nil
}

type taskExpiryJob struct {
	svc  RepositionRunner
	logg *logger.Logger
}

func (j *taskExpiryJob) Name() string { return "reposition-task-expiry" }

func (j *taskExpiryJob) Run(ctx context.Context) error {
	expired, err := j.svc.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	if expired > 0 && j.logg != nil {
		j.logg.Info(j.logg.WithField(ctx, "expired", expired), "overdue reposition tasks cancelled")
	}
	return nil
}
