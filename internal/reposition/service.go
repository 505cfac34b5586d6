package reposition

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/internal/availability"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/internal/scheduling"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
)

const sweepBatchSize = 50

// TxRunner executes fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DirectoryService resolves the company's wall-clock zone for the matcher.
type DirectoryService interface {
	Location(ctx context.Context, companyID uuid.UUID) (*time.Location, error)
}

// SlotMatcher finds the best replacement slot, or nil when nothing qualifies.
type SlotMatcher interface {
	FindBestSlot(ctx context.Context, req scheduling.MatchRequest) (*scheduling.Candidate, error)
}

// EventEmitter queues domain events in the same transaction as the mutation.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PaymentLedger is the slice of the payment store a match transfer needs.
type PaymentLedger interface {
	ReassignAppointmentTx(tx *gorm.DB, fromAppointmentID, toAppointmentID uuid.UUID) error
}

// Service is the durable reposition queue: one pending task per cancelled
// source appointment, attempted immediately on cancel and by the sweep until
// matched or expired.
type Service interface {
	Enqueue(tx *gorm.DB, params appointments.EnqueueTaskParams) error
	AttemptForSource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) error
	AttemptTask(ctx context.Context, taskID uuid.UUID) error
	Sweep(ctx context.Context) error
	ExpireOverdue(ctx context.Context) (int64, error)
	TaskForSource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) (*models.RepositionTask, error)
}

type service struct {
	repo        Repository
	appts       appointments.Repository
	payments    PaymentLedger
	directory   DirectoryService
	matcher     SlotMatcher
	tx          TxRunner
	events      EventEmitter
	cfg         config.RepositionConfig
	paymentsCfg config.PaymentsConfig
	logg        *logger.Logger
	now         func() time.Time
}

// Params wires the queue dependencies.
type Params struct {
	Repo         Repository
	Appointments appointments.Repository
	Payments     PaymentLedger
	Directory    DirectoryService
	Matcher      SlotMatcher
	Tx           TxRunner
	Events       EventEmitter
	Config       config.RepositionConfig
	PaymentsCfg  config.PaymentsConfig
	Logger       *logger.Logger
	Now          func() time.Time
}

// NewService wires the queue dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "reposition repository required")
	}
	if p.Appointments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "appointment repository required")
	}
	if p.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if p.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory service required")
	}
	if p.Matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "slot matcher required")
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
		repo:        p.Repo,
		appts:       p.Appointments,
		payments:    p.Payments,
		directory:   p.Directory,
		matcher:     p.Matcher,
		tx:          p.Tx,
		events:      p.Events,
		cfg:         p.Config,
		paymentsCfg: p.PaymentsCfg,
		logg:        p.Logger,
		now:         p.Now,
	}, nil
}

// Enqueue upserts the task for a source appointment inside the cancellation
// transaction. Re-cancelling only resets the attempt schedule.
func (s *service) Enqueue(tx *gorm.DB, params appointments.EnqueueTaskParams) error {
	next := params.NextAttemptAt
	task := &models.RepositionTask{
		CompanyID:           params.CompanyID,
		SourceAppointmentID: params.SourceAppointmentID,
		StudentID:           params.StudentID,
		Status:              enums.RepositionTaskStatusPending,
		Reason:              params.Reason,
		NextAttemptAt:       &next,
	}
	return s.repo.UpsertTx(tx, task)
}

// AttemptForSource runs the first attempt for a freshly cancelled source,
// outside the cancellation transaction.
func (s *service) AttemptForSource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) error {
	task, err := s.repo.GetBySource(ctx, companyID, sourceAppointmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task for source")
	}
	if task == nil || task.Status.Terminal() {
		return nil
	}
	return s.AttemptTask(ctx, task.ID)
}

// AttemptTask runs one attempt. Safe to call concurrently from the
// immediate-attempt path and the sweep: the task and source rows are locked
// and re-read inside the transaction.
func (s *service) AttemptTask(ctx context.Context, taskID uuid.UUID) error {
	now := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		task, err := s.repo.GetByIDForUpdateTx(tx, taskID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task")
		}
		if task == nil || task.Status.Terminal() {
			return nil
		}

		source, err := s.appts.GetByIDForUpdateTx(tx, task.SourceAppointmentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load source appointment")
		}
		if source == nil || !source.StartsAt.After(now) {
			// The window elapsed with no match.
			task.Status = enums.RepositionTaskStatusCancelled
			return s.repo.SaveTx(tx, task)
		}
		if source.ReplacedByAppointmentID != nil {
			// Another process already resolved this source.
			task.Status = enums.RepositionTaskStatusMatched
			task.MatchedAppointmentID = source.ReplacedByAppointmentID
			return s.repo.SaveTx(tx, task)
		}

		open, err := s.appts.HasOpenProposalTx(tx, task.CompanyID, task.StudentID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open proposals")
		}
		if open {
			return s.deferAttempt(tx, task, now)
		}

		loc, err := s.directory.Location(ctx, task.CompanyID)
		if err != nil {
			return err
		}
		candidate, err := s.matcher.FindBestSlot(ctx, scheduling.MatchRequest{
			CompanyID:  task.CompanyID,
			StudentID:  task.StudentID,
			LessonType: source.LessonType,
			Duration:   source.Duration(),
			SearchFrom: now,
			Location:   loc,
			Exclude:    excludedOwner(task.Reason, source),
		})
		if err != nil {
			return err
		}
		if candidate == nil {
			// Normal outcome: the search space changes over time, so
			// keep trying on a fixed delay until matched or expired.
			return s.deferAttempt(tx, task, now)
		}

		// The matcher read outside the row locks; re-validate the slot
		// before committing.
		conflicts, err := s.appts.ListOverlappingTx(tx, appointments.OverlapQuery{
			CompanyID:    task.CompanyID,
			StudentID:    task.StudentID,
			InstructorID: candidate.InstructorID,
			VehicleID:    candidate.VehicleID,
			Start:        candidate.Slot.Start,
			End:          candidate.Slot.End,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-validate slot")
		}
		if len(conflicts) > 0 {
			return s.deferAttempt(tx, task, now)
		}

		return s.match(ctx, tx, task, source, candidate, now)
	})
}

// deferAttempt records a fruitless attempt and schedules the next one.
func (s *service) deferAttempt(tx *gorm.DB, task *models.RepositionTask, now time.Time) error {
	task.AttemptCount++
	task.LastAttemptAt = &now
	next := now.Add(s.cfg.RetryDelay())
	task.NextAttemptAt = &next
	return s.repo.SaveTx(tx, task)
}

// match atomically creates the proposal, transfers the ledger, links the
// replacement and terminates the task.
func (s *service) match(ctx context.Context, tx *gorm.DB, task *models.RepositionTask, source *models.Appointment, candidate *scheduling.Candidate, now time.Time) error {
	replacement := &models.Appointment{
		CompanyID:       source.CompanyID,
		StudentID:       source.StudentID,
		CaseID:          source.CaseID,
		InstructorID:    candidate.InstructorID,
		VehicleID:       candidate.VehicleID,
		LessonType:      source.LessonType,
		StartsAt:        candidate.Slot.Start,
		EndsAt:          candidate.Slot.End,
		Status:          enums.AppointmentStatusProposal,
		PaymentRequired: source.PaymentRequired,
		PriceCents:      source.PriceCents,
		PenaltyCents:    source.PenaltyCents,
		PaidCents:       source.PaidCents,
		Currency:        source.Currency,
		PaymentStatus:   enums.PaymentStatusNotRequired,
		InvoiceStatus:   enums.InvoiceStatusNotRequired,
	}
	if source.PaymentRequired {
		cutoff := candidate.Slot.Start.Add(-s.paymentsCfg.PenaltyCutoff())
		replacement.PenaltyCutoffAt = &cutoff
		// Recomputed from the transferred amounts, never copied.
		replacement.PaymentStatus = payments.ComputeStatus(*replacement)
		replacement.InvoiceStatus = enums.InvoiceStatusPending
	}
	if err := s.appts.CreateTx(tx, replacement); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create proposal")
	}

	if err := s.payments.ReassignAppointmentTx(tx, source.ID, replacement.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer payment records")
	}
	if source.PaidCents != 0 {
		source.PaidCents = 0
		if err := s.appts.SaveTx(tx, source); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear source ledger")
		}
	}

	linked, err := s.appts.LinkReplacementTx(tx, source.ID, replacement.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link replacement")
	}
	if !linked {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "source already replaced")
	}

	task.AttemptCount++
	task.LastAttemptAt = &now
	task.NextAttemptAt = nil
	task.Status = enums.RepositionTaskStatusMatched
	task.MatchedAppointmentID = &replacement.ID
	if err := s.repo.SaveTx(tx, task); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "terminate task")
	}

	if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventProposalCreated,
		AggregateType: enums.AggregateTask,
		AggregateID:   task.ID,
		Data: payloads.ProposalCreatedEvent{
			TaskID:                task.ID,
			SourceAppointmentID:   source.ID,
			ProposalAppointmentID: replacement.ID,
			StudentID:             source.StudentID,
			InstructorID:          candidate.InstructorID,
			VehicleID:             candidate.VehicleID,
			StartsAt:              replacement.StartsAt,
			EndsAt:                replacement.EndsAt,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue proposal event")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"task_id":        task.ID.String(),
			"source_id":      source.ID.String(),
			"replacement_id": replacement.ID.String(),
			"score":          candidate.Score,
		})
		s.logg.Info(logCtx, "reposition matched")
	}
	return nil
}

// excludedOwner maps the cancellation reason to the resource that must not be
// re-offered.
func excludedOwner(reason enums.CancellationReason, source *models.Appointment) *availability.OwnerKey {
	ownerType, ok := reason.ExcludedOwner()
	if !ok {
		return nil
	}
	key := availability.OwnerKey{Type: ownerType}
	switch ownerType {
	case enums.OwnerTypeInstructor:
		key.ID = source.InstructorID
	case enums.OwnerTypeVehicle:
		key.ID = source.VehicleID
	default:
		return nil
	}
	return &key
}

// Sweep attempts every due pending task. One task's failure never aborts the
// rest of the batch.
func (s *service) Sweep(ctx context.Context) error {
	due, err := s.repo.ListDue(ctx, s.now(), sweepBatchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due tasks")
	}
	var errs error
	for _, task := range due {
		if err := s.AttemptTask(ctx, task.ID); err != nil {
			errs = multierr.Append(errs, err)
			if s.logg != nil {
				logCtx := s.logg.WithField(ctx, "task_id", task.ID.String())
				s.logg.Error(logCtx, "reposition attempt failed", err)
			}
		}
	}
	return errs
}

// ExpireOverdue cancels pending tasks whose source start has elapsed.
func (s *service) ExpireOverdue(ctx context.Context) (int64, error) {
	expired, err := s.repo.CancelExpired(ctx, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire tasks")
	}
	if expired > 0 && s.logg != nil {
		logCtx := s.logg.WithField(ctx, "expired", expired)
		s.logg.Info(logCtx, "reposition tasks expired")
	}
	return expired, nil
}

func (s *service) TaskForSource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) (*models.RepositionTask, error) {
	if companyID == uuid.Nil || sourceAppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}
	task, err := s.repo.GetBySource(ctx, companyID, sourceAppointmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task")
	}
	return task, nil
}
