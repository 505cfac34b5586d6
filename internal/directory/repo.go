package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lorisconti/drivehub-backend/internal/repo"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// Repository exposes the directory reads and writes used by scheduling and
// payments.
type Repository interface {
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	GetStudent(ctx context.Context, companyID, id uuid.UUID) (*models.Student, error)
	GetInstructor(ctx context.Context, companyID, id uuid.UUID) (*models.Instructor, error)
	GetVehicle(ctx context.Context, companyID, id uuid.UUID) (*models.Vehicle, error)
	ListActiveInstructors(ctx context.Context, companyID uuid.UUID) ([]models.Instructor, error)
	ListActiveVehicles(ctx context.Context, companyID uuid.UUID) ([]models.Vehicle, error)
	GetAvailabilityWindow(ctx context.Context, companyID uuid.UUID, ownerType enums.OwnerType, ownerID uuid.UUID) (*models.AvailabilityWindow, error)
	ListAvailabilityWindows(ctx context.Context, companyID uuid.UUID) ([]models.AvailabilityWindow, error)
	UpsertAvailabilityWindow(ctx context.Context, window models.AvailabilityWindow) error
	GetLessonPolicy(ctx context.Context, companyID uuid.UUID, lessonType enums.LessonType) (*models.LessonPolicy, error)
	UpsertLessonPolicy(ctx context.Context, policy models.LessonPolicy) error
	SaveStudentGatewayRefs(ctx context.Context, studentID uuid.UUID, customerID, cardID string) error
}

type gormRepository struct {
	repo.Base
}

// NewRepository builds the GORM-backed directory repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{Base: repo.NewBase(db)}
}

func (r *gormRepository) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var row models.Company
	err := r.DB(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
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

func (r *gormRepository) GetInstructor(ctx context.Context, companyID, id uuid.UUID) (*models.Instructor, error) {
	var row models.Instructor
	err := r.DB(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) GetVehicle(ctx context.Context, companyID, id uuid.UUID) (*models.Vehicle, error) {
	var row models.Vehicle
	err := r.DB(ctx).Where("company_id = ? AND id = ?", companyID, id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) ListActiveInstructors(ctx context.Context, companyID uuid.UUID) ([]models.Instructor, error) {
	var rows []models.Instructor
	err := r.DB(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListActiveVehicles(ctx context.Context, companyID uuid.UUID) ([]models.Vehicle, error) {
	var rows []models.Vehicle
	err := r.DB(ctx).
		Where("company_id = ? AND active = ?", companyID, true).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) GetAvailabilityWindow(ctx context.Context, companyID uuid.UUID, ownerType enums.OwnerType, ownerID uuid.UUID) (*models.AvailabilityWindow, error) {
	var row models.AvailabilityWindow
	err := r.DB(ctx).
		Where("company_id = ? AND owner_type = ? AND owner_id = ?", companyID, ownerType, ownerID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) ListAvailabilityWindows(ctx context.Context, companyID uuid.UUID) ([]models.AvailabilityWindow, error) {
	var rows []models.AvailabilityWindow
	err := r.DB(ctx).Where("company_id = ?", companyID).Find(&rows).Error
	return rows, err
}

func (r *gormRepository) UpsertAvailabilityWindow(ctx context.Context, window models.AvailabilityWindow) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"}, {Name: "owner_type"}, {Name: "owner_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"weekday_mask", "start_minute", "end_minute", "updated_at"}),
	}).Create(&window).Error
}

func (r *gormRepository) GetLessonPolicy(ctx context.Context, companyID uuid.UUID, lessonType enums.LessonType) (*models.LessonPolicy, error) {
	var row models.LessonPolicy
	err := r.DB(ctx).
		Where("company_id = ? AND lesson_type = ?", companyID, lessonType).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *gormRepository) UpsertLessonPolicy(ctx context.Context, policy models.LessonPolicy) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"}, {Name: "lesson_type"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"start_minute", "end_minute", "updated_at"}),
	}).Create(&policy).Error
}

func (r *gormRepository) SaveStudentGatewayRefs(ctx context.Context, studentID uuid.UUID, customerID, cardID string) error {
	updates := map[string]any{}
	if customerID != "" {
		updates["gateway_customer_id"] = customerID
	}
	if cardID != "" {
		updates["payment_card_id"] = cardID
	}
	if len(updates) == 0 {
		return nil
	}
	return r.DB(ctx).Model(&models.Student{}).
		Where("id = ?", studentID).
		Updates(updates).Error
}
