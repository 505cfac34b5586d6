package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// AppointmentPayment is one charge attempt record. The gateway idempotency key
// is derived from (appointment, phase, attempt number), so a retried network
// call can never double-charge.
type AppointmentPayment struct {
	ID            uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AppointmentID uuid.UUID                  `gorm:"column:appointment_id;type:uuid;not null;index"`
	CompanyID     uuid.UUID                  `gorm:"column:company_id;type:uuid;not null;index"`
	StudentID     uuid.UUID                  `gorm:"column:student_id;type:uuid;not null;index"`
	Phase         enums.PaymentPhase         `gorm:"column:phase;type:payment_phase;not null"`
	AmountCents   int64                      `gorm:"column:amount_cents;not null"`
	Currency      string                     `gorm:"column:currency;not null;default:'EUR'"`
	Status        enums.PaymentAttemptStatus `gorm:"column:status;type:payment_attempt_status;not null;default:'pending'"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt *time.Time                 `gorm:"column:next_attempt_at;index"`

	FailureCode    *string `gorm:"column:failure_code"`
	FailureMessage *string `gorm:"column:failure_message"`

	GatewayChargeID *string    `gorm:"column:gateway_charge_id"`
	IdempotencyKey  *string    `gorm:"column:idempotency_key"`
	PaidAt          *time.Time `gorm:"column:paid_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
