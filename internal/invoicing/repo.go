package invoicing

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

// Repository reads the appointments whose fiscal document is still owed and
// persists finalizer outcomes.
type Repository interface {
	ListInvoiceDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error)
	GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error)

	GetAppointmentForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error)
	SaveAppointmentTx(tx *gorm.DB, appt *models.Appointment) error
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed finalizer repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

// ListInvoiceDue returns appointments with a settled ledger and a retryable
// invoice status whose financial outcome is already known.
func (r *gormRepository) ListInvoiceDue(ctx context.Context, now time.Time, limit int) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.DB(ctx).
		Where("payment_required = ?", true).
		Where("invoice_status IN ?", []enums.InvoiceStatus{
			enums.InvoiceStatusPending,
			enums.InvoiceStatusPendingFIC,
			enums.InvoiceStatusFailed,
		}).
		Where("payment_status IN ?", []enums.PaymentStatus{
			enums.PaymentStatusPaid,
			enums.PaymentStatusWaived,
		}).
		Where("status IN ? OR ends_at <= ?", []enums.AppointmentStatus{
			enums.AppointmentStatusCompleted,
			enums.AppointmentStatusNoShow,
			enums.AppointmentStatusCancelled,
		}, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *gormRepository) GetStudent(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var row models.Student
	err := r.DB(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) GetAppointmentForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error) {
	var row models.Appointment
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
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
	return tx.Save(appt).Error
}
