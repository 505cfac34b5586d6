package models

import (
	"time"

	"github.com/google/uuid"
)

// Vehicle is a drivable resource owner.
type Vehicle struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID uuid.UUID `gorm:"column:company_id;type:uuid;not null;index"`
	Plate     string    `gorm:"column:plate;not null"`
	Model     string    `gorm:"column:model;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
