package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// LessonPolicy restricts a lesson type to a sub-window of the day, e.g.
// night lessons only between 20:00 and 23:00. Absence of a row means the
// lesson type is allowed anywhere inside the owners' availability windows.
type LessonPolicy struct {
	ID          uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID   uuid.UUID        `gorm:"column:company_id;type:uuid;not null;uniqueIndex:ux_lesson_policy,priority:1"`
	LessonType  enums.LessonType `gorm:"column:lesson_type;type:lesson_type;not null;uniqueIndex:ux_lesson_policy,priority:2"`
	StartMinute int              `gorm:"column:start_minute;not null"`
	EndMinute   int              `gorm:"column:end_minute;not null"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
