package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/metrics"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
	"github.com/lorisconti/drivehub-backend/pkg/square"
)

const sweepBatchSize = 100

// TxRunner executes fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ChargeGateway is the slice of the payment gateway the runner calls.
type ChargeGateway interface {
	ChargeStoredCard(ctx context.Context, params square.PaymentCreateParams) (*sq.Payment, error)
}

// EventEmitter queues domain events in the same transaction as the mutation.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the settlement state machine: queueing sweeps, charge
// attempts with capped retries, and the manual recovery path.
type Service interface {
	QueuePenaltyAttempts(ctx context.Context) error
	QueueSettlementAttempts(ctx context.Context) error
	RunDueAttempts(ctx context.Context) error
	RunAttempt(ctx context.Context, paymentID uuid.UUID) error
	ManualRecovery(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.AppointmentPayment, error)
	ListForAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) ([]models.AppointmentPayment, error)
}

type service struct {
	repo    Repository
	tx      TxRunner
	gateway ChargeGateway
	events  EventEmitter
	metrics *metrics.PaymentMetrics
	cfg     config.PaymentsConfig
	logg    *logger.Logger
	now     func() time.Time
}

// Params wires the settlement dependencies. Gateway may be nil when the
// install runs without payments; attempts then fail as retryable.
type Params struct {
	Repo    Repository
	Tx      TxRunner
	Gateway ChargeGateway
	Events  EventEmitter
	Metrics *metrics.PaymentMetrics
	Config  config.PaymentsConfig
	Logger  *logger.Logger
	Now     func() time.Time
}

// NewService wires the settlement dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
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
		repo:    p.Repo,
		tx:      p.Tx,
		gateway: p.Gateway,
		events:  p.Events,
		metrics: p.Metrics,
		cfg:     p.Config,
		logg:    p.Logger,
		now:     p.Now,
	}, nil
}

// IdempotencyKey derives the deterministic gateway key for one business
// attempt, so a retried network call never double-charges.
func IdempotencyKey(appointmentID uuid.UUID, phase enums.PaymentPhase, attempt int) string {
	return fmt.Sprintf("pay-%s-%s-%d", appointmentID, phase, attempt)
}

// QueuePenaltyAttempts scans appointments whose penalty cutoff has elapsed
// with the penalty still outstanding, and queues or reuses one penalty-phase
// attempt record for the exact due amount.
func (s *service) QueuePenaltyAttempts(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListPenaltyDue(ctx, now, sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list penalty due")
	}
	var errs error
	for _, appt := range due {
		if err := s.queuePhaseAttempt(ctx, appt.ID, enums.PaymentPhasePenalty); err != nil {
			errs = multierr.Append(errs, err)
			s.logFailure(ctx, appt.ID, "queue penalty attempt", err)
		}
	}
	return errs
}

// QueueSettlementAttempts scans finalizable appointments with an outstanding
// balance and queues or reuses one settlement-phase attempt record.
func (s *service) QueueSettlementAttempts(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListSettlementDue(ctx, now, sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlement due")
	}
	var errs error
	for _, appt := range due {
		if err := s.queuePhaseAttempt(ctx, appt.ID, enums.PaymentPhaseSettlement); err != nil {
			errs = multierr.Append(errs, err)
			s.logFailure(ctx, appt.ID, "queue settlement attempt", err)
		}
	}
	return errs
}

func (s *service) queuePhaseAttempt(ctx context.Context, appointmentID uuid.UUID, phase enums.PaymentPhase) error {
	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.repo.GetAppointmentForUpdateTx(tx, appointmentID)
		if err != nil {
			return err
		}
		if appt == nil || !appt.PaymentRequired || appt.PaymentStatusLocked {
			return nil
		}

		outstanding := OutstandingCents(*appt)
		if outstanding <= 0 {
			// Cancelled before the cutoff, or already covered:
			// recompute instead of charging.
			appt.PaymentStatus = ComputeStatus(*appt)
			return s.repo.SaveAppointmentTx(tx, appt)
		}

		// A settlement sweep must not stack on top of an open penalty
		// record that already covers the balance.
		if phase == enums.PaymentPhaseSettlement {
			penalty, err := s.repo.GetOpenByPhaseTx(tx, appt.ID, enums.PaymentPhasePenalty)
			if err != nil {
				return err
			}
			if penalty != nil && penalty.AmountCents >= outstanding {
				return nil
			}
		}

		open, err := s.repo.GetOpenByPhaseTx(tx, appt.ID, phase)
		if err != nil {
			return err
		}
		if open != nil {
			changed := false
			if open.Status == enums.PaymentAttemptStatusPending && open.AmountCents != outstanding {
				open.AmountCents = outstanding
				changed = true
			}
			if open.NextAttemptAt == nil {
				open.NextAttemptAt = &now
				changed = true
			}
			if changed {
				return s.repo.SaveTx(tx, open)
			}
			return nil
		}

		record := &models.AppointmentPayment{
			AppointmentID: appt.ID,
			CompanyID:     appt.CompanyID,
			StudentID:     appt.StudentID,
			Phase:         phase,
			AmountCents:   outstanding,
			Currency:      appt.Currency,
			Status:        enums.PaymentAttemptStatusPending,
			NextAttemptAt: &now,
		}
		return s.repo.CreateTx(tx, record)
	})
}

// RunDueAttempts drives every chargeable record whose retry delay elapsed.
// Claims stranded in processing by a crashed worker are reclaimed first, so
// a restart always makes progress. A single record's failure never aborts
// the rest of the batch.
func (s *service) RunDueAttempts(ctx context.Context) error {
	now := s.now()
	due, err := s.repo.ListDueAttempts(ctx, now, s.staleClaimCutoff(now), sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due attempts")
	}
	var errs error
	for _, record := range due {
		if record.Status == enums.PaymentAttemptStatusProcessing {
			if err := s.reclaimStale(ctx, record.ID); err != nil {
				errs = multierr.Append(errs, err)
				s.logFailure(ctx, record.AppointmentID, "reclaim stale attempt", err)
				continue
			}
		}
		if err := s.RunAttempt(ctx, record.ID); err != nil {
			errs = multierr.Append(errs, err)
			s.logFailure(ctx, record.AppointmentID, "run attempt", err)
		}
	}
	return errs
}

// staleClaimCutoff is the moment before which a processing claim counts as
// orphaned. Twice the gateway timeout leaves a live worker room to finish
// its call and settle.
func (s *service) staleClaimCutoff(now time.Time) time.Time {
	grace := 2 * s.cfg.GatewayTimeout
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return now.Add(-grace)
}

// reclaimStale returns an orphaned claim to the retry pool. The attempt
// number is rolled back so the re-drive reuses the same gateway idempotency
// key; if the crashed worker's charge actually went through, the gateway
// replays the original payment instead of charging twice.
func (s *service) reclaimStale(ctx context.Context, paymentID uuid.UUID) error {
	cutoff := s.staleClaimCutoff(s.now())
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.repo.GetByIDForUpdateTx(tx, paymentID)
		if err != nil || record == nil {
			return err
		}
		if record.Status != enums.PaymentAttemptStatusProcessing || record.UpdatedAt.After(cutoff) {
			return nil
		}
		if record.AttemptCount > 0 {
			record.AttemptCount--
		}
		record.Status = enums.PaymentAttemptStatusFailed
		code := "WORKER_LOST"
		record.FailureCode = &code
		return s.repo.SaveTx(tx, record)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reclaim stale attempt")
	}
	return nil
}

type attemptClaim struct {
	record  models.AppointmentPayment
	appt    models.Appointment
	student *models.Student
}

// RunAttempt executes one charge attempt: claim the record, call the gateway
// outside the row locks, then settle the outcome.
func (s *service) RunAttempt(ctx context.Context, paymentID uuid.UUID) error {
	claim, err := s.claim(ctx, paymentID)
	if err != nil || claim == nil {
		return err
	}
	payment, chargeErr := s.charge(ctx, claim)
	return s.settle(ctx, claim, payment, chargeErr)
}

func (s *service) claim(ctx context.Context, paymentID uuid.UUID) (*attemptClaim, error) {
	now := s.now()
	var claim *attemptClaim
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.repo.GetByIDForUpdateTx(tx, paymentID)
		if err != nil {
			return err
		}
		if record == nil || !record.Status.Chargeable() {
			return nil
		}
		if record.NextAttemptAt != nil && record.NextAttemptAt.After(now) {
			return nil
		}

		appt, err := s.repo.GetAppointmentForUpdateTx(tx, record.AppointmentID)
		if err != nil {
			return err
		}
		if appt == nil {
			record.Status = enums.PaymentAttemptStatusAbandoned
			code := "APPOINTMENT_MISSING"
			record.FailureCode = &code
			return s.repo.SaveTx(tx, record)
		}
		// Locked ledgers are settled (waived) or frozen (insoluto);
		// only the manual recovery phase may still charge.
		if appt.PaymentStatusLocked && record.Phase != enums.PaymentPhaseManualRecovery {
			return nil
		}

		student, err := s.repo.GetStudent(ctx, appt.CompanyID, appt.StudentID)
		if err != nil {
			return err
		}

		record.AttemptCount++
		record.Status = enums.PaymentAttemptStatusProcessing
		key := IdempotencyKey(appt.ID, record.Phase, record.AttemptCount)
		record.IdempotencyKey = &key
		if err := s.repo.SaveTx(tx, record); err != nil {
			return err
		}

		claim = &attemptClaim{record: *record, appt: *appt, student: student}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payment attempt")
	}
	return claim, nil
}

func (s *service) charge(ctx context.Context, claim *attemptClaim) (*sq.Payment, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayTransient, "payment gateway not configured")
	}
	if claim.student == nil || claim.student.GatewayCustomerID == nil || claim.student.PaymentCardID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayDeclined, "student has no stored payment method")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	return s.gateway.ChargeStoredCard(callCtx, square.PaymentCreateParams{
		AmountCents:    claim.record.AmountCents,
		Currency:       claim.record.Currency,
		CustomerID:     *claim.student.GatewayCustomerID,
		SourceID:       *claim.student.PaymentCardID,
		IdempotencyKey: *claim.record.IdempotencyKey,
		ReferenceID:    claim.appt.ID.String(),
		Note:           fmt.Sprintf("driving lesson %s", claim.record.Phase),
	})
}

func (s *service) settle(ctx context.Context, claim *attemptClaim, payment *sq.Payment, chargeErr error) error {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.repo.GetByIDForUpdateTx(tx, claim.record.ID)
		if err != nil || record == nil {
			return err
		}
		appt, err := s.repo.GetAppointmentForUpdateTx(tx, record.AppointmentID)
		if err != nil {
			return err
		}
		if appt == nil {
			// Leaving the record in processing would strand it; close
			// it out like the claim path does.
			record.Status = enums.PaymentAttemptStatusAbandoned
			code := "APPOINTMENT_MISSING"
			record.FailureCode = &code
			return s.repo.SaveTx(tx, record)
		}

		if chargeErr == nil {
			return s.settleSuccess(ctx, tx, record, appt, payment, now)
		}
		return s.settleFailure(ctx, tx, record, appt, chargeErr, now)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle payment attempt")
	}
	return nil
}

func (s *service) settleSuccess(ctx context.Context, tx *gorm.DB, record *models.AppointmentPayment, appt *models.Appointment, payment *sq.Payment, now time.Time) error {
	record.Status = enums.PaymentAttemptStatusSucceeded
	record.PaidAt = &now
	record.NextAttemptAt = nil
	record.FailureCode = nil
	record.FailureMessage = nil
	if payment != nil {
		if id := payment.GetID(); id != nil {
			record.GatewayChargeID = id
		}
	}
	if err := s.repo.SaveTx(tx, record); err != nil {
		return err
	}

	appt.PaidCents += record.AmountCents
	// A successful manual recovery that clears the balance lifts the
	// insoluto freeze.
	if appt.PaymentStatusLocked &&
		appt.PaymentStatus == enums.PaymentStatusInsoluto &&
		record.Phase == enums.PaymentPhaseManualRecovery &&
		appt.PaidCents >= FinalAmountCents(*appt) {
		appt.PaymentStatusLocked = false
	}
	appt.PaymentStatus = ComputeStatus(*appt)
	if err := s.repo.SaveAppointmentTx(tx, appt); err != nil {
		return err
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   record.ID,
		Data: payloads.PaymentSucceededEvent{
			AppointmentID: appt.ID,
			PaymentID:     record.ID,
			StudentID:     appt.StudentID,
			Phase:         record.Phase,
			AmountCents:   record.AmountCents,
			PaidAt:        now,
		},
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncAttempt(record.Phase.String(), "succeeded")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"appointment_id": appt.ID.String(),
			"payment_id":     record.ID.String(),
			"phase":          record.Phase.String(),
			"amount_cents":   record.AmountCents,
		})
		s.logg.Info(logCtx, "payment attempt succeeded")
	}
	return nil
}

func (s *service) settleFailure(ctx context.Context, tx *gorm.DB, record *models.AppointmentPayment, appt *models.Appointment, chargeErr error, now time.Time) error {
	outcome := "transient"
	code := string(pkgerrors.CodeGatewayTransient)
	if typed := pkgerrors.As(chargeErr); typed != nil {
		code = string(typed.Code())
		if typed.Code() == pkgerrors.CodeGatewayDeclined {
			outcome = "declined"
		}
	}
	msg := chargeErr.Error()
	record.FailureCode = &code
	record.FailureMessage = &msg

	exhausted := record.AttemptCount >= s.cfg.MaxAttempts
	if exhausted {
		record.Status = enums.PaymentAttemptStatusAbandoned
		record.NextAttemptAt = nil
	} else {
		record.Status = enums.PaymentAttemptStatusFailed
		next := now.Add(s.retryDelay(record.AttemptCount))
		record.NextAttemptAt = &next
	}
	if err := s.repo.SaveTx(tx, record); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.IncAttempt(record.Phase.String(), outcome)
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"appointment_id": appt.ID.String(),
			"payment_id":     record.ID.String(),
			"phase":          record.Phase.String(),
			"attempt":        record.AttemptCount,
			"failure_code":   code,
		})
		s.logg.Warn(logCtx, "payment attempt failed")
	}
	if !exhausted {
		return nil
	}

	appt.PaymentStatus = enums.PaymentStatusInsoluto
	appt.PaymentStatusLocked = true
	if err := s.repo.SaveAppointmentTx(tx, appt); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncInsoluto()
	}
	return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentInsoluto,
		AggregateType: enums.AggregateAppointment,
		AggregateID:   appt.ID,
		Data: payloads.PaymentInsolutoEvent{
			AppointmentID:    appt.ID,
			StudentID:        appt.StudentID,
			OutstandingCents: OutstandingCents(*appt),
			MarkedAt:         now,
		},
	})
}

// retryDelay returns the ladder step after the given attempt number.
func (s *service) retryDelay(attempt int) time.Duration {
	delays := s.cfg.RetryDelays()
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// ManualRecovery runs a one-off, user-initiated charge for the outstanding
// balance of an insoluto appointment.
func (s *service) ManualRecovery(ctx context.Context, companyID, appointmentID uuid.UUID) (*models.AppointmentPayment, error) {
	if companyID == uuid.Nil || appointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}

	now := s.now()
	var recordID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.repo.GetAppointmentForUpdateTx(tx, appointmentID)
		if err != nil {
			return err
		}
		if appt == nil || appt.CompanyID != companyID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
		}
		if appt.PaymentStatus != enums.PaymentStatusInsoluto {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "appointment is not insoluto")
		}

		outstanding := OutstandingCents(*appt)
		if outstanding <= 0 {
			appt.PaymentStatusLocked = false
			appt.PaymentStatus = ComputeStatus(*appt)
			return s.repo.SaveAppointmentTx(tx, appt)
		}

		open, err := s.repo.GetOpenByPhaseTx(tx, appt.ID, enums.PaymentPhaseManualRecovery)
		if err != nil {
			return err
		}
		if open != nil {
			open.AmountCents = outstanding
			open.NextAttemptAt = &now
			if err := s.repo.SaveTx(tx, open); err != nil {
				return err
			}
			recordID = open.ID
			return nil
		}

		record := &models.AppointmentPayment{
			AppointmentID: appt.ID,
			CompanyID:     appt.CompanyID,
			StudentID:     appt.StudentID,
			Phase:         enums.PaymentPhaseManualRecovery,
			AmountCents:   outstanding,
			Currency:      appt.Currency,
			Status:        enums.PaymentAttemptStatusPending,
			NextAttemptAt: &now,
		}
		if err := s.repo.CreateTx(tx, record); err != nil {
			return err
		}
		recordID = record.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if recordID == uuid.Nil {
		return nil, nil
	}

	if err := s.RunAttempt(ctx, recordID); err != nil {
		return nil, err
	}

	var result *models.AppointmentPayment
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		record, err := s.repo.GetByIDForUpdateTx(tx, recordID)
		if err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload manual recovery record")
	}
	return result, nil
}

func (s *service) ListForAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) ([]models.AppointmentPayment, error) {
	if companyID == uuid.Nil || appointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}
	rows, err := s.repo.ListByAppointment(ctx, companyID, appointmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment attempts")
	}
	return rows, nil
}

func (s *service) logFailure(ctx context.Context, appointmentID uuid.UUID, op string, err error) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithAppointmentID(ctx, appointmentID.String())
	s.logg.Error(logCtx, op+" failed", err)
}
