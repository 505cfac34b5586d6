package reposition

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

// Repository persists reposition queue rows. The unique constraint on
// source_appointment_id keeps enqueueing idempotent.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RepositionTask, error)
	GetBySource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) (*models.RepositionTask, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.RepositionTask, error)
	CancelExpired(ctx context.Context, now time.Time) (int64, error)

	UpsertTx(tx *gorm.DB, task *models.RepositionTask) error
	GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.RepositionTask, error)
	SaveTx(tx *gorm.DB, task *models.RepositionTask) error
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed reposition repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RepositionTask, error) {
	var row models.RepositionTask
	err := r.DB(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) GetBySource(ctx context.Context, companyID, sourceAppointmentID uuid.UUID) (*models.RepositionTask, error) {
	var row models.RepositionTask
	err := r.DB(ctx).
		Where("company_id = ? AND source_appointment_id = ?", companyID, sourceAppointmentID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.RepositionTask, error) {
	var rows []models.RepositionTask
	err := r.DB(ctx).
		Where("status = ?", enums.RepositionTaskStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("next_attempt_at ASC NULLS FIRST").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CancelExpired terminates pending tasks whose source start has elapsed with
// no match.
func (r *gormRepository) CancelExpired(ctx context.Context, now time.Time) (int64, error) {
	sources := r.DB(ctx).Model(&models.Appointment{}).
		Select("id").
		Where("starts_at <= ?", now)
	res := r.DB(ctx).Model(&models.RepositionTask{}).
		Where("status = ?", enums.RepositionTaskStatusPending).
		Where("source_appointment_id IN (?)", sources).
		Update("status", enums.RepositionTaskStatusCancelled)
	return res.RowsAffected, res.Error
}

// UpsertTx inserts the task, or on a duplicate source only resets the next
// attempt schedule.
func (r *gormRepository) UpsertTx(tx *gorm.DB, task *models.RepositionTask) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_appointment_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"next_attempt_at": task.NextAttemptAt,
			"reason":          task.Reason,
			"updated_at":      gorm.Expr("now()"),
		}),
	}).Create(task).Error
}

func (r *gormRepository) GetByIDForUpdateTx(tx *gorm.DB, id uuid.UUID) (*models.RepositionTask, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.RepositionTask
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

func (r *gormRepository) SaveTx(tx *gorm.DB, task *models.RepositionTask) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(task).Error
}
