package appointments

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

// Repository persists appointments. Methods suffixed Tx run inside a caller
// transaction so lifecycle changes, ledger updates and outbox rows commit
// together.
type Repository interface {
	GetByID(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error)
	ListInRange(ctx context.Context, companyID uuid.UUID, from, to time.Time) ([]models.Appointment, error)
	ListForStudent(ctx context.Context, companyID, studentID uuid.UUID, from time.Time, limit int) ([]models.Appointment, error)
	HasInsoluto(ctx context.Context, companyID, studentID uuid.UUID) (bool, error)

	CreateTx(tx *gorm.DB, appt *models.Appointment) error
	GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error)
	ListOverlappingTx(tx *gorm.DB, q OverlapQuery) ([]models.Appointment, error)
	SaveTx(tx *gorm.DB, appt *models.Appointment) error
	LinkReplacementTx(tx *gorm.DB, sourceID, replacementID uuid.UUID) (bool, error)
	HasOpenProposalTx(tx *gorm.DB, companyID, studentID uuid.UUID, after time.Time) (bool, error)
}

// OverlapQuery finds non-cancelled appointments of any of the three owners
// that share an instant with [Start, End).
type OverlapQuery struct {
	CompanyID    uuid.UUID
	StudentID    uuid.UUID
	InstructorID uuid.UUID
	VehicleID    uuid.UUID
	Start        time.Time
	End          time.Time
	ExcludeID    *uuid.UUID
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed appointment repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) GetByID(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error) {
	var row models.Appointment
	err := r.DB(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) ListInRange(ctx context.Context, companyID uuid.UUID, from, to time.Time) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.DB(ctx).
		Where("company_id = ? AND starts_at < ? AND ends_at > ?", companyID, to, from).
		Order("starts_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListForStudent(ctx context.Context, companyID, studentID uuid.UUID, from time.Time, limit int) ([]models.Appointment, error) {
	var rows []models.Appointment
	err := r.DB(ctx).
		Where("company_id = ? AND student_id = ? AND ends_at > ?", companyID, studentID, from).
		Order("starts_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) HasInsoluto(ctx context.Context, companyID, studentID uuid.UUID) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&models.Appointment{}).
		Where("company_id = ? AND student_id = ? AND payment_status = ?",
			companyID, studentID, enums.PaymentStatusInsoluto).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateTx(tx *gorm.DB, appt *models.Appointment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(appt).Error
}

func (r *gormRepository) GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.Appointment, error) {
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

func (r *gormRepository) ListOverlappingTx(tx *gorm.DB, q OverlapQuery) ([]models.Appointment, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	query := tx.
		Where("company_id = ?", q.CompanyID).
		Where("status <> ?", enums.AppointmentStatusCancelled).
		Where("starts_at < ? AND ends_at > ?", q.End, q.Start).
		Where("student_id = ? OR instructor_id = ? OR vehicle_id = ?",
			q.StudentID, q.InstructorID, q.VehicleID)
	if q.ExcludeID != nil {
		query = query.Where("id <> ?", *q.ExcludeID)
	}
	var rows []models.Appointment
	err := query.Order("starts_at ASC").Find(&rows).Error
	return rows, err
}

func (r *gormRepository) SaveTx(tx *gorm.DB, appt *models.Appointment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(appt).Error
}

// LinkReplacementTx sets the forward link exactly once. Returns false when
// another process already linked a replacement.
func (r *gormRepository) LinkReplacementTx(tx *gorm.DB, sourceID, replacementID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.Appointment{}).
		Where("id = ? AND replaced_by_appointment_id IS NULL", sourceID).
		Update("replaced_by_appointment_id", replacementID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) HasOpenProposalTx(tx *gorm.DB, companyID, studentID uuid.UUID, after time.Time) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var count int64
	err := tx.Model(&models.Appointment{}).
		Where("company_id = ? AND student_id = ? AND status = ? AND starts_at > ?",
			companyID, studentID, enums.AppointmentStatusProposal, after).
		Count(&count).Error
	return count > 0, err
}
