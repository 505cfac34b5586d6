package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

// SettlementRunner is the settlement surface the worker drives.
type SettlementRunner interface {
	QueuePenaltyAttempts(ctx context.Context) error
	QueueSettlementAttempts(ctx context.Context) error
	RunDueAttempts(ctx context.Context) error
}

// NewPaymentQueueJob builds the job that turns elapsed cutoffs and finished
// lessons into pending charge attempts.
func NewPaymentQueueJob(svc SettlementRunner) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &paymentQueueJob{svc: svc}, nil
}

type paymentQueueJob struct {
	svc SettlementRunner
}

func (j *paymentQueueJob) Name() string { return "payment-queue" }

func (j *paymentQueueJob) Run(ctx context.Context) error {
	return multierr.Combine(
		j.svc.QueuePenaltyAttempts(ctx),
		j.svc.QueueSettlementAttempts(ctx),
	)
}

// NewPaymentRunnerJob builds the job that executes every attempt whose
// schedule has come due.
func NewPaymentRunnerJob(svc SettlementRunner) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("payments service required")
	}
	return &paymentRunnerJob{svc: svc}, nil
}

type paymentRunnerJob struct {
	svc SettlementRunner
}

func (j *paymentRunnerJob) Name() string { return "payment-attempts" }

func (j *paymentRunnerJob) Run(ctx context.Context) error {
	return j.svc.RunDueAttempts(ctx)
}
