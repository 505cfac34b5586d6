package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// RepositionTask is one durable queue row per operationally cancelled
// appointment. The unique constraint on source_appointment_id makes enqueueing
// idempotent and keeps two workers from racing on the same source.
type RepositionTask struct {
	ID                   uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID            uuid.UUID                  `gorm:"column:company_id;type:uuid;not null;index"`
	SourceAppointmentID  uuid.UUID                  `gorm:"column:source_appointment_id;type:uuid;not null;uniqueIndex:ux_reposition_tasks_source"`
	StudentID            uuid.UUID                  `gorm:"column:student_id;type:uuid;not null;index"`
	Status               enums.RepositionTaskStatus `gorm:"column:status;type:reposition_task_status;not null;default:'pending'"`
	Reason               enums.CancellationReason   `gorm:"column:reason;type:cancellation_reason;not null"`
	AttemptCount         int                        `gorm:"column:attempt_count;not null;default:0"`
	LastAttemptAt        *time.Time                 `gorm:"column:last_attempt_at"`
	NextAttemptAt        *time.Time                 `gorm:"column:next_attempt_at;index"`
	MatchedAppointmentID *uuid.UUID                 `gorm:"column:matched_appointment_id;type:uuid"`
	CreatedAt            time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}
