package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// ProposalCreatedEvent signals that the matcher produced a replacement slot
// for a repositioned student.
type ProposalCreatedEvent struct {
	TaskID                uuid.UUID `json:"taskId"`
	SourceAppointmentID   uuid.UUID `json:"sourceAppointmentId"`
	ProposalAppointmentID uuid.UUID `json:"proposalAppointmentId"`
	StudentID             uuid.UUID `json:"studentId"`
	InstructorID          uuid.UUID `json:"instructorId"`
	VehicleID             uuid.UUID `json:"vehicleId"`
	StartsAt              time.Time `json:"startsAt"`
	EndsAt                time.Time `json:"endsAt"`
}

// AppointmentCancelledEvent is emitted for every cancellation, operational or not.
type AppointmentCancelledEvent struct {
	AppointmentID uuid.UUID                `json:"appointmentId"`
	StudentID     uuid.UUID                `json:"studentId"`
	Kind          enums.CancellationKind   `json:"kind"`
	Reason        enums.CancellationReason `json:"reason"`
	CancelledAt   time.Time                `json:"cancelledAt"`
}

// PaymentSucceededEvent reports a settled charge attempt.
type PaymentSucceededEvent struct {
	AppointmentID uuid.UUID          `json:"appointmentId"`
	PaymentID     uuid.UUID          `json:"paymentId"`
	StudentID     uuid.UUID          `json:"studentId"`
	Phase         enums.PaymentPhase `json:"phase"`
	AmountCents   int64              `json:"amountCents"`
	PaidAt        time.Time          `json:"paidAt"`
}

// PaymentInsolutoEvent marks an appointment's balance as unrecoverable after
// the retry ladder is exhausted.
type PaymentInsolutoEvent struct {
	AppointmentID    uuid.UUID `json:"appointmentId"`
	StudentID        uuid.UUID `json:"studentId"`
	OutstandingCents int64     `json:"outstandingCents"`
	MarkedAt         time.Time `json:"markedAt"`
}

// InvoiceIssuedEvent reports a fiscal document created for a paid appointment.
type InvoiceIssuedEvent struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	StudentID     uuid.UUID `json:"studentId"`
	InvoiceID     string    `json:"invoiceId"`
	Number        string    `json:"number,omitempty"`
	AmountCents   int64     `json:"amountCents"`
	IssuedAt      time.Time `json:"issuedAt"`
}
