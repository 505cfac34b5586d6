package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// AvailabilityWindow is the recurring weekly bookable range for one resource
// owner: a set of weekdays plus a start/end minute-of-day, interpreted in the
// company's timezone. At most one row per owner per company.
type AvailabilityWindow struct {
	ID          uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID   uuid.UUID       `gorm:"column:company_id;type:uuid;not null;uniqueIndex:ux_availability_owner,priority:1"`
	OwnerType   enums.OwnerType `gorm:"column:owner_type;type:owner_type;not null;uniqueIndex:ux_availability_owner,priority:2"`
	OwnerID     uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;uniqueIndex:ux_availability_owner,priority:3"`
	WeekdayMask int             `gorm:"column:weekday_mask;not null"`
	StartMinute int             `gorm:"column:start_minute;not null"`
	EndMinute   int             `gorm:"column:end_minute;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IncludesWeekday reports whether the window is active on the given weekday.
func (w AvailabilityWindow) IncludesWeekday(day time.Weekday) bool {
	return w.WeekdayMask&(1<<uint(day)) != 0
}
