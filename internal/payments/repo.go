package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lorisconti/drivehub-backend/internal/repo"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// Repository persists charge attempt records and the ledger fields on the
// owning appointments. The appointment accessors are duplicated here rather
// than borrowed from the lifecycle package so the settlement machine stays a
// leaf dependency.
type Repository interface {
	ListByAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) ([]models.AppointmentPayment, error)
	ListDueAttempts(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.AppointmentPayment, error)
	ListPenaltyDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error)
	ListSettlementDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error)
	GetStudent(ctx context.Context, companyID, id uuid.UUID) (*models.Student, error)

	CreateTx(tx *gorm.DB, record *models.AppointmentPayment) error
	SaveTx(tx *gorm.DB, record *models.AppointmentPayment) error
	GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.AppointmentPayment, error)
	GetOpenByPhaseTx(tx *gorm.DB, appointmentID uuid.UUID, phase enums.PaymentPhase) (*models.AppointmentPayment, error)
	ReassignAppointmentTx(tx *gorm.DB, fromAppointmentID, toAppointmentID uuid.UUID) error

	GetAppointmentForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error)
	SaveAppointmentTx(tx *gorm.DB, appt *models.Appointment) error
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed payments repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) ListByAppointment(ctx context.Context, companyID, appointmentID uuid.UUID) ([]models.AppointmentPayment, error) {
	var rows []models.AppointmentPayment
	err := r.DB(ctx).
		Where("company_id = ? AND appointment_id = ?", companyID, appointmentID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListDueAttempts returns chargeable records whose schedule has elapsed,
// plus processing claims that went stale because a worker died between the
// claim and the settle transactions. The caller reclaims the latter before
// re-driving them.
func (r *gormRepository) ListDueAttempts(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.AppointmentPayment, error) {
	var rows []models.AppointmentPayment
	err := r.DB(ctx).
		Where("(status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)) OR (status = ? AND updated_at <= ?)",
			[]enums.PaymentAttemptStatus{
				enums.PaymentAttemptStatusPending,
				enums.PaymentAttemptStatusFailed,
			}, now,
			enums.PaymentAttemptStatusProcessing, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListPenaltyDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.DB(ctx).
		Where("payment_required = ? AND payment_status_locked = ?", true, false).
		Where("status IN ?", []enums.AppointmentStatus{
			enums.AppointmentStatusCancelled,
			enums.AppointmentStatusNoShow,
		}).
		Where("payment_status IN ?", []enums.PaymentStatus{
			enums.PaymentStatusPendingPenalty,
			enums.PaymentStatusPartialPaid,
		}).
		Where("penalty_cutoff_at IS NOT NULL AND penalty_cutoff_at <= ?", now).
		Order("penalty_cutoff_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListSettlementDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.DB(ctx).
		Where("payment_required = ? AND payment_status_locked = ?", true, false).
		Where("payment_status IN ?", []enums.PaymentStatus{
			enums.PaymentStatusPendingPenalty,
			enums.PaymentStatusPartialPaid,
		}).
		Where("status IN ? OR ends_at <= ?", []enums.AppointmentStatus{
			enums.AppointmentStatusCompleted,
			enums.AppointmentStatusNoShow,
			enums.AppointmentStatusCancelled,
		}, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) GetStudent(ctx context.Context, companyID, id uuid.UUID) (*models.Student, error) {
	var row models.Student
	err := r.DB(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) CreateTx(tx *gorm.DB, record *models.AppointmentPayment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(record).Error
}

func (r *gormRepository) SaveTx(tx *gorm.DB, record *models.AppointmentPayment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(record).Error
}

func (r *gormRepository) GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.AppointmentPayment, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.AppointmentPayment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) GetOpenByPhaseTx(tx *gorm.DB, appointmentID uuid.UUID, phase enums.PaymentPhase) (*models.AppointmentPayment, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.AppointmentPayment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("appointment_id = ? AND phase = ?", appointmentID, phase).
		Where("status NOT IN ?", []enums.PaymentAttemptStatus{
			enums.PaymentAttemptStatusSucceeded,
			enums.PaymentAttemptStatusAbandoned,
		}).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ReassignAppointmentTx moves every attempt record from a cancelled source to
// its replacement during a reposition match.
func (r *gormRepository) ReassignAppointmentTx(tx *gorm.DB, fromAppointmentID, toAppointmentID uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.AppointmentPayment{}).
		Where("appointment_id = ?", fromAppointmentID).
		Update("appointment_id", toAppointmentID).Error
}

func (r *gormRepository) GetAppointmentForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.Appointment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) SaveAppointmentTx(tx *gorm.DB, appt *models.Appointment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(appt).Error
}
