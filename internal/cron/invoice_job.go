package cron

import (
	"context"
	"fmt"
)

// InvoiceFinalizer is the finalizer surface the worker drives.
type InvoiceFinalizer interface {
	Sweep(ctx context.Context) error
}

// NewInvoiceFinalizerJob builds the job that issues fiscal documents for
// settled appointments.
func NewInvoiceFinalizerJob(svc InvoiceFinalizer) (Job, error) {
	if svc == nil {
		return nil, fmt.Errorf("invoicing service required")
	}
	return &invoiceFinalizerJob{svc: svc}, nil
}

type invoiceFinalizerJob struct {
	svc InvoiceFinalizer
}

func (j *invoiceFinalizerJob) Name() string { return "invoice-finalizer" }

func (j *invoiceFinalizerJob) Run(ctx context.Context) error {
	return j.svc.Sweep(ctx)
}
