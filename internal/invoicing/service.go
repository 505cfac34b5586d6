package invoicing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/invoicing"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
)

const sweepBatchSize = 50

// TxRunner executes fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Issuer is the slice of the fiscal provider the finalizer calls.
type Issuer interface {
	Configured() bool
	IssueInvoice(ctx context.Context, params invoicing.InvoiceParams) (*invoicing.Invoice, error)
}

// EventEmitter queues domain events in the same transaction as the mutation.
type EventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the invoice finalizer: once an appointment's ledger settles it
// issues the fiscal document exactly once, or records why it could not.
type Service interface {
	FinalizeAppointment(ctx context.Context, appointmentID uuid.UUID) error
	Sweep(ctx context.Context) error
}

type service struct {
	repo   Repository
	tx     TxRunner
	issuer Issuer
	events EventEmitter
	logg   *logger.Logger
	now    func() time.Time
}

// Params wires the finalizer dependencies. Issuer may be nil when the
// provider is not installed; invoices then park as pending_fic.
type Params struct {
	Repo   Repository
	Tx     TxRunner
	Issuer Issuer
	Events EventEmitter
	Logger *logger.Logger
	Now    func() time.Time
}

// NewService wires the finalizer dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invoicing repository required")
	}
	if p.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if p.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "event emitter required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &service{
		repo:   p.Repo,
		tx:     p.Tx,
		issuer: p.Issuer,
		events: p.Events,
		logg:   p.Logger,
		now:    p.Now,
	}, nil
}

// invoiceDraft is the snapshot taken under the row lock, so the provider call
// runs without holding it.
type invoiceDraft struct {
	appointmentID uuid.UUID
	studentID     uuid.UUID
	amountCents   int64
	currency      string
	lessonDate    time.Time
}

// FinalizeAppointment resolves one appointment's invoice. The appointment ID
// itself is the provider reference, so re-running after a crash can never
// issue a second document for the same row: the invoice id check under the
// row lock is the only writer.
func (s *service) FinalizeAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	draft, err := s.claim(ctx, appointmentID)
	if err != nil || draft == nil {
		return err
	}

	student, err := s.repo.GetStudent(ctx, draft.studentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}

	invoice, issueErr := s.issue(ctx, draft, student)
	return s.settle(ctx, draft, invoice, issueErr)
}

// claim validates the appointment under a row lock and returns the snapshot
// to invoice, or nil when there is nothing to do.
func (s *service) claim(ctx context.Context, appointmentID uuid.UUID) (*invoiceDraft, error) {
	var draft *invoiceDraft
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.repo.GetAppointmentForUpdateTx(tx, appointmentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load appointment")
		}
		if appt == nil || !appt.PaymentRequired || !appt.InvoiceStatus.Retryable() {
			return nil
		}
		if appt.InvoiceID != nil {
			// A previous run issued the document but crashed before
			// flipping the status.
			appt.InvoiceStatus = enums.InvoiceStatusIssued
			return s.repo.SaveAppointmentTx(tx, appt)
		}
		if !appt.Finalizable(s.now()) {
			return nil
		}

		amount := payments.FinalAmountCents(*appt)
		if amount == 0 {
			appt.InvoiceStatus = enums.InvoiceStatusNotRequired
			return s.repo.SaveAppointmentTx(tx, appt)
		}
		if payments.OutstandingCents(*appt) > 0 {
			// The settlement machine has not collected yet.
			return nil
		}

		draft = &invoiceDraft{
			appointmentID: appt.ID,
			studentID:     appt.StudentID,
			amountCents:   amount,
			currency:      appt.Currency,
			lessonDate:    appt.StartsAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

func (s *service) issue(ctx context.Context, draft *invoiceDraft, student *models.Student) (*invoicing.Invoice, error) {
	if s.issuer == nil || !s.issuer.Configured() {
		return nil, pkgerrors.New(pkgerrors.CodeProviderNotConfigured, "invoicing provider is not configured")
	}
	if student == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student record missing")
	}
	return s.issuer.IssueInvoice(ctx, invoicing.InvoiceParams{
		ExternalRef:   draft.appointmentID.String(),
		CustomerName:  fmt.Sprintf("%s %s", student.FirstName, student.LastName),
		CustomerEmail: student.Email,
		Description:   fmt.Sprintf("Driving lesson on %s", draft.lessonDate.Format("2006-01-02")),
		AmountCents:   draft.amountCents,
		Currency:      draft.currency,
		IssuedAt:      s.now(),
	})
}

// settle records the provider outcome under a fresh row lock.
func (s *service) settle(ctx context.Context, draft *invoiceDraft, invoice *invoicing.Invoice, issueErr error) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.repo.GetAppointmentForUpdateTx(tx, draft.appointmentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load appointment")
		}
		if appt == nil || appt.InvoiceID != nil {
			return nil
		}

		if issueErr != nil {
			switch {
			case pkgerrors.IsCode(issueErr, pkgerrors.CodeProviderNotConfigured):
				appt.InvoiceStatus = enums.InvoiceStatusPendingFIC
			case pkgerrors.IsCode(issueErr, pkgerrors.CodeDependency):
				// Transient provider failure; the next sweep retries
				// with the status unchanged.
			default:
				appt.InvoiceStatus = enums.InvoiceStatusFailed
			}
			if s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"appointment_id": appt.ID.String(),
					"invoice_status": appt.InvoiceStatus.String(),
				})
				s.logg.Error(logCtx, "invoice issuance failed", issueErr)
			}
			return s.repo.SaveAppointmentTx(tx, appt)
		}

		appt.InvoiceID = &invoice.ID
		appt.InvoiceStatus = enums.InvoiceStatusIssued
		if err := s.repo.SaveAppointmentTx(tx, appt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save invoice outcome")
		}

		return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appt.ID,
			Data: payloads.InvoiceIssuedEvent{
				AppointmentID: appt.ID,
				StudentID:     appt.StudentID,
				InvoiceID:     invoice.ID,
				Number:        invoice.Number,
				AmountCents:   draft.amountCents,
				IssuedAt:      s.now(),
			},
		})
	})
}

// Sweep finalizes every due appointment. One failure never aborts the batch.
func (s *service) Sweep(ctx context.Context) error {
	due, err := s.repo.ListInvoiceDue(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoice-due appointments")
	}
	var errs error
	for _, appt := range due {
		if err := s.FinalizeAppointment(ctx, appt.ID); err != nil {
			errs = multierr.Append(errs, err)
			if s.logg != nil {
				s.logg.Error(s.logg.WithAppointmentID(ctx, appt.ID.String()), "invoice finalization failed", err)
			}
		}
	}
	return errs
}
