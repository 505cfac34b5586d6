package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/internal/directory"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/outbox/payloads"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

// TxRunner executes fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// DirectoryService is the slice of the tenant directory the lifecycle uses.
type DirectoryService interface {
	Location(ctx context.Context, companyID uuid.UUID) (*time.Location, error)
	ResolveBookingResources(ctx context.Context, params directory.ResolveParams) (*directory.BookingResources, error)
}

// EventEmitter queues domain events in the same transaction as the mutation.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TaskEnqueuer upserts a reposition task for an operationally cancelled
// appointment and runs its first attempt once the cancellation has
// committed. Implemented by the reposition queue; declared here so the
// lifecycle does not import it.
type TaskEnqueuer interface {
	Enqueue(tx *gorm.DB, params EnqueueTaskParams) error
	AttemptForSource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) error
}

// EnqueueTaskParams identifies the source appointment to reposition.
type EnqueueTaskParams struct {
	CompanyID           uuid.UUID
	SourceAppointmentID uuid.UUID
	StudentID           uuid.UUID
	Reason              enums.CancellationReason
	NextAttemptAt       time.Time
}

// Service owns appointment creation, cancellation, status transitions and
// replacement linking.
type Service interface {
	Create(ctx context.Context, params CreateParams) (*models.Appointment, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error)
	ListForStudent(ctx context.Context, companyID, studentID uuid.UUID, limit int) ([]models.Appointment, error)
	CancelOperational(ctx context.Context, params OperationalCancelParams) (*models.Appointment, error)
	CancelByStudent(ctx context.Context, params StudentCancelParams) (*models.Appointment, error)
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (*models.Appointment, error)
	LinkReplacement(ctx context.Context, companyID, sourceID, replacementID uuid.UUID) error

	// BindEnqueuer attaches the reposition queue after construction; the
	// queue depends on this service, so it cannot be wired up front.
	BindEnqueuer(enqueuer TaskEnqueuer)
}

type service struct {
	repo       Repository
	directory  DirectoryService
	tx         TxRunner
	events     EventEmitter
	enqueuer   TaskEnqueuer
	scheduling config.SchedulingConfig
	payments   config.PaymentsConfig
	logg       *logger.Logger
	now        func() time.Time
}

// Params wires the lifecycle dependencies. Enqueuer may be set after
// construction via BindEnqueuer because the queue depends on this service.
type Params struct {
	Repo       Repository
	Directory  DirectoryService
	Tx         TxRunner
	Events     EventEmitter
	Enqueuer   TaskEnqueuer
	Scheduling config.SchedulingConfig
	Payments   config.PaymentsConfig
	Logger     *logger.Logger
	Now        func() time.Time
}

// CreateParams is a booking request for one student/instructor/vehicle triple.
type CreateParams struct {
	CompanyID       uuid.UUID
	StudentID       uuid.UUID
	InstructorID    uuid.UUID
	VehicleID       uuid.UUID
	CaseID          *uuid.UUID
	LessonType      enums.LessonType
	StartsAt        time.Time
	Duration        time.Duration
	PaymentRequired bool
}

// OperationalCancelParams cancels an appointment because a resource became
// unavailable and queues a reposition.
type OperationalCancelParams struct {
	CompanyID     uuid.UUID
	AppointmentID uuid.UUID
	Reason        enums.CancellationReason
	Notes         *string
}

// StudentCancelParams is a student-initiated cancellation or proposal decline.
type StudentCancelParams struct {
	CompanyID     uuid.UUID
	AppointmentID uuid.UUID
	Notes         *string
}

// UpdateStatusParams requests one lifecycle transition.
type UpdateStatusParams struct {
	CompanyID     uuid.UUID
	AppointmentID uuid.UUID
	Status        enums.AppointmentStatus
}

// NewService wires the lifecycle dependencies.
func NewService(p Params) (Service, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "appointment repository required")
	}
	if p.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "directory service required")
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
		repo:       p.Repo,
		directory:  p.Directory,
		tx:         p.Tx,
		events:     p.Events,
		enqueuer:   p.Enqueuer,
		scheduling: p.Scheduling,
		payments:   p.Payments,
		logg:       p.Logger,
		now:        p.Now,
	}, nil
}

func (s *service) BindEnqueuer(enqueuer TaskEnqueuer) {
	s.enqueuer = enqueuer
}

func (s *service) Create(ctx context.Context, params CreateParams) (*models.Appointment, error) {
	now := s.now()
	if params.CompanyID == uuid.Nil || params.StudentID == uuid.Nil ||
		params.InstructorID == uuid.Nil || params.VehicleID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company, student, instructor and vehicle ids required")
	}
	if params.LessonType == "" {
		params.LessonType = enums.LessonTypeStandard
	}
	if !params.LessonType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown lesson type")
	}
	if params.Duration < s.scheduling.MinDuration() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration below the minimum lesson length")
	}
	if params.Duration%s.scheduling.SlotStep() != 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration must be a multiple of the slot step")
	}
	if !params.StartsAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start must be in the future")
	}

	loc, err := s.directory.Location(ctx, params.CompanyID)
	if err != nil {
		return nil, err
	}
	if timeslot.MinuteOfDay(params.StartsAt, loc)%s.scheduling.SlotStepMinutes != 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start is not aligned to the slot step")
	}

	if _, err := s.directory.ResolveBookingResources(ctx, directory.ResolveParams{
		CompanyID:    params.CompanyID,
		StudentID:    params.StudentID,
		InstructorID: params.InstructorID,
		VehicleID:    params.VehicleID,
	}); err != nil {
		return nil, err
	}

	if params.PaymentRequired {
		blocked, err := s.repo.HasInsoluto(ctx, params.CompanyID, params.StudentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check outstanding balance")
		}
		if blocked {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "student has an unsettled balance")
		}
	}

	appt := s.buildAppointment(params)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// Conflict check and insert share the transaction so two
		// concurrent bookings cannot both pass the overlap test.
		conflicts, err := s.repo.ListOverlappingTx(tx, OverlapQuery{
			CompanyID:    params.CompanyID,
			StudentID:    params.StudentID,
			InstructorID: params.InstructorID,
			VehicleID:    params.VehicleID,
			Start:        appt.StartsAt,
			End:          appt.EndsAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "scan for conflicts")
		}
		if len(conflicts) > 0 {
			return pkgerrors.New(pkgerrors.CodeSlotConflict, "a resource is already booked in this window").
				WithDetails(map[string]any{"conflicting_appointment_id": conflicts[0].ID.String()})
		}
		return s.repo.CreateTx(tx, appt)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithAppointmentID(ctx, appt.ID.String())
		s.logg.Info(logCtx, "appointment created")
	}
	return appt, nil
}

func (s *service) buildAppointment(params CreateParams) *models.Appointment {
	appt := &models.Appointment{
		CompanyID:       params.CompanyID,
		StudentID:       params.StudentID,
		CaseID:          params.CaseID,
		InstructorID:    params.InstructorID,
		VehicleID:       params.VehicleID,
		LessonType:      params.LessonType,
		StartsAt:        params.StartsAt,
		EndsAt:          params.StartsAt.Add(params.Duration),
		Status:          enums.AppointmentStatusScheduled,
		PaymentRequired: params.PaymentRequired,
		Currency:        s.payments.Currency,
		PaymentStatus:   enums.PaymentStatusNotRequired,
		InvoiceStatus:   enums.InvoiceStatusNotRequired,
	}
	if params.PaymentRequired {
		appt.PriceCents = payments.PriceCents(s.payments, params.Duration, s.scheduling.SlotStep())
		appt.PenaltyCents = payments.PenaltyCents(s.payments, appt.PriceCents)
		cutoff := params.StartsAt.Add(-s.payments.PenaltyCutoff())
		appt.PenaltyCutoffAt = &cutoff
		appt.PaymentStatus = payments.ComputeStatus(*appt)
		appt.InvoiceStatus = enums.InvoiceStatusPending
	}
	return appt
}

func (s *service) Get(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error) {
	if companyID == uuid.Nil || id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}
	appt, err := s.repo.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load appointment")
	}
	if appt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
	}
	return appt, nil
}

func (s *service) ListForStudent(ctx context.Context, companyID, studentID uuid.UUID, limit int) ([]models.Appointment, error) {
	if companyID == uuid.Nil || studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and student ids required")
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.repo.ListForStudent(ctx, companyID, studentID, s.now(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list appointments")
	}
	return rows, nil
}

func (s *service) CancelOperational(ctx context.Context, params OperationalCancelParams) (*models.Appointment, error) {
	if params.CompanyID == uuid.Nil || params.AppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}
	if !params.Reason.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown cancellation reason")
	}
	if s.enqueuer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "reposition queue not bound")
	}

	now := s.now()
	var cancelled *models.Appointment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.loadOwnedForUpdate(tx, params.CompanyID, params.AppointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.Repositionable() || !appt.StartsAt.After(now) {
			return pkgerrors.New(pkgerrors.CodeNotRepositionable, "appointment already started or in a terminal status")
		}

		kind := enums.CancellationKindOperational
		appt.Status = enums.AppointmentStatusCancelled
		appt.CancelledAt = &now
		appt.CancellationKind = &kind
		appt.CancellationReason = &params.Reason
		appt.CancellationNotes = params.Notes
		if appt.PaymentRequired {
			// An operational cancellation is never the student's
			// fault: waive regardless of the cutoff and pin it.
			appt.PaymentStatus = enums.PaymentStatusWaived
			appt.PaymentStatusLocked = true
		}
		if err := s.repo.SaveTx(tx, appt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAppointmentCancelled,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appt.ID,
			Data: payloads.AppointmentCancelledEvent{
				AppointmentID: appt.ID,
				StudentID:     appt.StudentID,
				Kind:          kind,
				Reason:        params.Reason,
				CancelledAt:   now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue cancellation event")
		}

		if err := s.enqueuer.Enqueue(tx, EnqueueTaskParams{
			CompanyID:           appt.CompanyID,
			SourceAppointmentID: appt.ID,
			StudentID:           appt.StudentID,
			Reason:              params.Reason,
			NextAttemptAt:       now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue reposition task")
		}

		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"appointment_id": cancelled.ID.String(),
			"reason":         params.Reason.String(),
		})
		s.logg.Info(logCtx, "appointment cancelled operationally")
	}

	// First attempt runs right away, after the cancellation committed. A
	// miss here is not an error for the caller: the sweep retries.
	if err := s.enqueuer.AttemptForSource(ctx, cancelled.CompanyID, cancelled.ID); err != nil && s.logg != nil {
		logCtx := s.logg.WithField(ctx, "appointment_id", cancelled.ID.String())
		s.logg.Error(logCtx, "immediate reposition attempt failed", err)
	}
	return cancelled, nil
}

func (s *service) CancelByStudent(ctx context.Context, params StudentCancelParams) (*models.Appointment, error) {
	if params.CompanyID == uuid.Nil || params.AppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}

	now := s.now()
	var cancelled *models.Appointment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.loadOwnedForUpdate(tx, params.CompanyID, params.AppointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.Repositionable() || !appt.StartsAt.After(now) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "appointment already started or in a terminal status")
		}

		kind := enums.CancellationKindStudent
		reason := enums.CancellationReasonStudentRequest
		appt.Status = enums.AppointmentStatusCancelled
		appt.CancelledAt = &now
		appt.CancellationKind = &kind
		appt.CancellationReason = &reason
		appt.CancellationNotes = params.Notes
		// Before the cutoff this recomputes to waived; after it the
		// penalty stays due and the sweep collects it.
		appt.PaymentStatus = payments.ComputeStatus(*appt)
		if err := s.repo.SaveTx(tx, appt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}

		if err := s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAppointmentCancelled,
			AggregateType: enums.AggregateAppointment,
			AggregateID:   appt.ID,
			Data: payloads.AppointmentCancelledEvent{
				AppointmentID: appt.ID,
				StudentID:     appt.StudentID,
				Kind:          kind,
				Reason:        reason,
				CancelledAt:   now,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue cancellation event")
		}

		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// statusTransitions is the allowed lifecycle graph outside of the
// cancellation paths.
var statusTransitions = map[enums.AppointmentStatus][]enums.AppointmentStatus{
	enums.AppointmentStatusScheduled: {enums.AppointmentStatusConfirmed, enums.AppointmentStatusCheckedIn, enums.AppointmentStatusNoShow},
	enums.AppointmentStatusConfirmed: {enums.AppointmentStatusCheckedIn, enums.AppointmentStatusNoShow},
	enums.AppointmentStatusProposal:  {enums.AppointmentStatusScheduled},
	enums.AppointmentStatusCheckedIn: {enums.AppointmentStatusCompleted},
}

func transitionAllowed(from, to enums.AppointmentStatus) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *service) UpdateStatus(ctx context.Context, params UpdateStatusParams) (*models.Appointment, error) {
	if params.CompanyID == uuid.Nil || params.AppointmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and appointment ids required")
	}
	if !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown appointment status")
	}
	if params.Status == enums.AppointmentStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "use the cancellation operations to cancel")
	}

	now := s.now()
	var updated *models.Appointment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		appt, err := s.loadOwnedForUpdate(tx, params.CompanyID, params.AppointmentID)
		if err != nil {
			return err
		}
		if !transitionAllowed(appt.Status, params.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed from the current status")
		}
		if params.Status == enums.AppointmentStatusNoShow && now.Before(appt.StartsAt) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot mark no-show before the start time")
		}

		appt.Status = params.Status
		appt.PaymentStatus = payments.ComputeStatus(*appt)
		if err := s.repo.SaveTx(tx, appt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist status")
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) LinkReplacement(ctx context.Context, companyID, sourceID, replacementID uuid.UUID) error {
	if companyID == uuid.Nil || sourceID == uuid.Nil || replacementID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company, source and replacement ids required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.loadOwnedForUpdate(tx, companyID, sourceID); err != nil {
			return err
		}
		// First writer wins; a second call is a guarded no-op.
		_, err := s.repo.LinkReplacementTx(tx, sourceID, replacementID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "link replacement")
		}
		return nil
	})
}

func (s *service) loadOwnedForUpdate(tx *gorm.DB, companyID, id uuid.UUID) (*models.Appointment, error) {
	appt, err := s.repo.GetByIDForUpdateTx(tx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load appointment")
	}
	if appt == nil || appt.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
	}
	return appt, nil
}
