package enums

import "fmt"

// PaymentStatus is the ledger-derived payment state of an appointment.
// It is recomputed from the ledger fields after every mutation; the two
// terminal overrides (waived, insoluto) are pinned by the locked flag on the
// appointment row and never recomputed away.
type PaymentStatus string

const (
	PaymentStatusNotRequired    PaymentStatus = "not_required"
	PaymentStatusPendingPenalty PaymentStatus = "pending_penalty"
	PaymentStatusPartialPaid    PaymentStatus = "partial_paid"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusWaived         PaymentStatus = "waived"
	PaymentStatusInsoluto       PaymentStatus = "insoluto"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusNotRequired,
	PaymentStatusPendingPenalty,
	PaymentStatusPartialPaid,
	PaymentStatusPaid,
	PaymentStatusWaived,
	PaymentStatusInsoluto,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// BlocksBooking reports whether this status blocks further paid bookings.
func (p PaymentStatus) BlocksBooking() bool {
	return p == PaymentStatusInsoluto
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
