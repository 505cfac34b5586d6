package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/internal/repo"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/pagination"
)

// Repository persists the in-app notification feed.
type Repository interface {
	Insert(ctx context.Context, notification *models.Notification) error
	ListPage(ctx context.Context, companyID, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, companyID, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, companyID, userID, id uuid.UUID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, companyID, userID uuid.UUID, at time.Time) (int64, error)
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed notification repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) Insert(ctx context.Context, notification *models.Notification) error {
	return r.DB(ctx).Create(notification).Error
}

// ListPage returns the newest-first feed page. The (created_at, id) pair
// keeps the order stable across rows created in the same instant.
func (r *gormRepository) ListPage(ctx context.Context, companyID, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Notification, error) {
	q := r.DB(ctx).
		Where("company_id = ? AND user_id = ?", companyID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Notification
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *gormRepository) CountUnread(ctx context.Context, companyID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.Notification{}).
		Where("company_id = ? AND user_id = ? AND read_at IS NULL", companyID, userID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) MarkRead(ctx context.Context, companyID, userID, id uuid.UUID, at time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND company_id = ? AND user_id = ? AND read_at IS NULL", id, companyID, userID).
		Update("read_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, companyID, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Notification{}).
		Where("company_id = ? AND user_id = ? AND read_at IS NULL", companyID, userID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}
