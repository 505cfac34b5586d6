package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/api/responses"
	"github.com/lorisconti/drivehub-backend/api/validators"
	"github.com/lorisconti/drivehub-backend/internal/payments"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

type paymentAttemptResponse struct {
	ID             uuid.UUID  `json:"id"`
	AppointmentID  uuid.UUID  `json:"appointmentId"`
	Phase          string     `json:"phase"`
	AmountCents    int64      `json:"amountCents"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	AttemptCount   int        `json:"attemptCount"`
	NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
	FailureCode    *string    `json:"failureCode,omitempty"`
	FailureMessage *string    `json:"failureMessage,omitempty"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toPaymentAttemptResponse(p *models.AppointmentPayment) paymentAttemptResponse {
	return paymentAttemptResponse{
		ID:             p.ID,
		AppointmentID:  p.AppointmentID,
		Phase:          p.Phase.String(),
		AmountCents:    p.AmountCents,
		Currency:       p.Currency,
		Status:         p.Status.String(),
		AttemptCount:   p.AttemptCount,
		NextAttemptAt:  p.NextAttemptAt,
		FailureCode:    p.FailureCode,
		FailureMessage: p.FailureMessage,
		PaidAt:         p.PaidAt,
		CreatedAt:      p.CreatedAt,
	}
}

// ListAppointmentPayments returns the payment ledger for one appointment.
func ListAppointmentPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attempts, err := svc.ListForAppointment(r.Context(), middleware.CompanyIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]paymentAttemptResponse, 0, len(attempts))
		for i := range attempts {
			out = append(out, toPaymentAttemptResponse(&attempts[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// RecoverAppointmentPayment re-opens an exhausted charge after the office has
// sorted out the card problem with the student.
func RecoverAppointmentPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attempt, err := svc.ManualRecovery(r.Context(), middleware.CompanyIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, toPaymentAttemptResponse(attempt))
	}
}
