package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// Notification is one entry in a user's in-app feed. Channel fan-out
// (push/email) happens downstream of the outbox publisher.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID uuid.UUID              `gorm:"column:company_id;type:uuid;not null;index"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Kind      enums.NotificationKind `gorm:"column:kind;type:notification_kind;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Body      string                 `gorm:"column:body;not null"`
	Metadata  json.RawMessage        `gorm:"column:metadata;type:jsonb"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
