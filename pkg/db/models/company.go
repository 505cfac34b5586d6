package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is a tenant. Its timezone drives all wall-clock scheduling math.
type Company struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Timezone  string    `gorm:"column:timezone;not null;default:'Europe/Rome'"`
	Currency  string    `gorm:"column:currency;not null;default:'EUR'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
