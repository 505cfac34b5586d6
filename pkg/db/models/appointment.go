package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// Appointment is a scheduled lesson binding one student, one instructor and
// one vehicle to a time window, plus the payment snapshot that the settlement
// state machine drives. Rows are never deleted outside an admin purge.
type Appointment struct {
	ID           uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID    uuid.UUID               `gorm:"column:company_id;type:uuid;not null;index"`
	StudentID    uuid.UUID               `gorm:"column:student_id;type:uuid;not null;index"`
	CaseID       *uuid.UUID              `gorm:"column:case_id;type:uuid"`
	InstructorID uuid.UUID               `gorm:"column:instructor_id;type:uuid;not null;index"`
	VehicleID    uuid.UUID               `gorm:"column:vehicle_id;type:uuid;not null;index"`
	LessonType   enums.LessonType        `gorm:"column:lesson_type;type:lesson_type;not null;default:'standard'"`
	StartsAt     time.Time               `gorm:"column:starts_at;not null;index"`
	EndsAt       time.Time               `gorm:"column:ends_at;not null"`
	Status       enums.AppointmentStatus `gorm:"column:status;type:appointment_status;not null;default:'scheduled'"`

	CancelledAt        *time.Time               `gorm:"column:cancelled_at"`
	CancellationKind   *enums.CancellationKind  `gorm:"column:cancellation_kind;type:cancellation_kind"`
	CancellationReason *enums.CancellationReason `gorm:"column:cancellation_reason;type:cancellation_reason"`
	CancellationNotes  *string                  `gorm:"column:cancellation_notes"`

	// Forward link to the appointment that replaced this one; set at most once.
	ReplacedByAppointmentID *uuid.UUID `gorm:"column:replaced_by_appointment_id;type:uuid"`

	PaymentRequired     bool                `gorm:"column:payment_required;not null;default:false"`
	PriceCents          int64               `gorm:"column:price_cents;not null;default:0"`
	PenaltyCents        int64               `gorm:"column:penalty_cents;not null;default:0"`
	PaidCents           int64               `gorm:"column:paid_cents;not null;default:0"`
	Currency            string              `gorm:"column:currency;not null;default:'EUR'"`
	PenaltyCutoffAt     *time.Time          `gorm:"column:penalty_cutoff_at"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'not_required'"`
	PaymentStatusLocked bool                `gorm:"column:payment_status_locked;not null;default:false"`

	InvoiceStatus enums.InvoiceStatus `gorm:"column:invoice_status;type:invoice_status;not null;default:'pending'"`
	InvoiceID     *string             `gorm:"column:invoice_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Duration returns the booked lesson length.
func (a Appointment) Duration() time.Duration {
	return a.EndsAt.Sub(a.StartsAt)
}

// Finalizable reports whether the appointment's financial outcome is known.
func (a Appointment) Finalizable(now time.Time) bool {
	switch a.Status {
	case enums.AppointmentStatusNoShow, enums.AppointmentStatusCancelled, enums.AppointmentStatusCompleted:
		return true
	default:
		return !a.EndsAt.After(now)
	}
}
