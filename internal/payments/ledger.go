package payments

import (
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
)

// FinalAmountCents is the amount the student ultimately owes for the
// appointment: zero when cancelled before the penalty cutoff, the penalty
// when cancelled after the cutoff or no-showed, the full price otherwise.
func FinalAmountCents(appt models.Appointment) int64 {
	if !appt.PaymentRequired {
		return 0
	}
	switch appt.Status {
	case enums.AppointmentStatusCancelled:
		if appt.CancelledAt != nil && appt.PenaltyCutoffAt != nil && appt.CancelledAt.Before(*appt.PenaltyCutoffAt) {
			return 0
		}
		return appt.PenaltyCents
	case enums.AppointmentStatusNoShow:
		return appt.PenaltyCents
	default:
		return appt.PriceCents
	}
}

// OutstandingCents is what remains to collect. Never negative.
func OutstandingCents(appt models.Appointment) int64 {
	due := FinalAmountCents(appt) - appt.PaidCents
	if due < 0 {
		return 0
	}
	return due
}

// ComputeStatus derives the payment status from the ledger fields. It is
// called after every ledger mutation inside the same transaction. A locked
// status (waived by operational cancel, insoluto by retry exhaustion) is a
// terminal override and is returned unchanged.
func ComputeStatus(appt models.Appointment) enums.PaymentStatus {
	if appt.PaymentStatusLocked {
		return appt.PaymentStatus
	}
	if !appt.PaymentRequired {
		return enums.PaymentStatusNotRequired
	}
	final := FinalAmountCents(appt)
	switch {
	case final == 0:
		return enums.PaymentStatusWaived
	case appt.PaidCents >= final:
		return enums.PaymentStatusPaid
	case appt.PaidCents > 0:
		return enums.PaymentStatusPartialPaid
	default:
		return enums.PaymentStatusPendingPenalty
	}
}
