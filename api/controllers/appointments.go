package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/api/responses"
	"github.com/lorisconti/drivehub-backend/api/validators"
	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

type createAppointmentRequest struct {
	StudentID       string    `json:"studentId" validate:"required,uuid"`
	InstructorID    string    `json:"instructorId" validate:"required,uuid"`
	VehicleID       string    `json:"vehicleId" validate:"required,uuid"`
	CaseID          *string   `json:"caseId,omitempty" validate:"omitempty,uuid"`
	LessonType      string    `json:"lessonType" validate:"required"`
	StartsAt        time.Time `json:"startsAt" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"required,min=1"`
	PaymentRequired bool      `json:"paymentRequired"`
}

type appointmentResponse struct {
	ID                      uuid.UUID  `json:"id"`
	StudentID               uuid.UUID  `json:"studentId"`
	InstructorID            uuid.UUID  `json:"instructorId"`
	VehicleID               uuid.UUID  `json:"vehicleId"`
	LessonType              string     `json:"lessonType"`
	StartsAt                time.Time  `json:"startsAt"`
	EndsAt                  time.Time  `json:"endsAt"`
	Status                  string     `json:"status"`
	CancelledAt             *time.Time `json:"cancelledAt,omitempty"`
	ReplacedByAppointmentID *uuid.UUID `json:"replacedByAppointmentId,omitempty"`
	PaymentRequired         bool       `json:"paymentRequired"`
	PriceCents              int64      `json:"priceCents"`
	PenaltyCents            int64      `json:"penaltyCents"`
	PaidCents               int64      `json:"paidCents"`
	Currency                string     `json:"currency"`
	PenaltyCutoffAt         *time.Time `json:"penaltyCutoffAt,omitempty"`
	PaymentStatus           string     `json:"paymentStatus"`
	InvoiceStatus           string     `json:"invoiceStatus"`
	InvoiceID               *string    `json:"invoiceId,omitempty"`
}

func toAppointmentResponse(appt *models.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                      appt.ID,
		StudentID:               appt.StudentID,
		InstructorID:            appt.InstructorID,
		VehicleID:               appt.VehicleID,
		LessonType:              appt.LessonType.String(),
		StartsAt:                appt.StartsAt,
		EndsAt:                  appt.EndsAt,
		Status:                  appt.Status.String(),
		CancelledAt:             appt.CancelledAt,
		ReplacedByAppointmentID: appt.ReplacedByAppointmentID,
		PaymentRequired:         appt.PaymentRequired,
		PriceCents:              appt.PriceCents,
		PenaltyCents:            appt.PenaltyCents,
		PaidCents:               appt.PaidCents,
		Currency:                appt.Currency,
		PenaltyCutoffAt:         appt.PenaltyCutoffAt,
		PaymentStatus:           appt.PaymentStatus.String(),
		InvoiceStatus:           appt.InvoiceStatus.String(),
		InvoiceID:               appt.InvoiceID,
	}
}

// CreateAppointment books one validated slot.
func CreateAppointment(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createAppointmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lessonType, err := enums.ParseLessonType(body.LessonType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lesson type"))
			return
		}

		params := appointments.CreateParams{
			CompanyID:       middleware.CompanyIDFromContext(r.Context()),
			StudentID:       uuid.MustParse(body.StudentID),
			InstructorID:    uuid.MustParse(body.InstructorID),
			VehicleID:       uuid.MustParse(body.VehicleID),
			LessonType:      lessonType,
			StartsAt:        body.StartsAt,
			Duration:        time.Duration(body.DurationMinutes) * time.Minute,
			PaymentRequired: body.PaymentRequired,
		}
		if body.CaseID != nil {
			caseID := uuid.MustParse(*body.CaseID)
			params.CaseID = &caseID
		}

		appt, err := svc.Create(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

// GetAppointment returns one appointment scoped to the caller's company.
func GetAppointment(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		appt, err := svc.Get(r.Context(), middleware.CompanyIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAppointmentResponse(appt))
	}
}

// ListStudentAppointments returns a student's upcoming bookings.
func ListStudentAppointments(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		studentID, err := validators.ParsePathUUID(chi.URLParam(r, "studentId"), "studentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		appts, err := svc.ListForStudent(r.Context(), middleware.CompanyIDFromContext(r.Context()), studentID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]appointmentResponse, 0, len(appts))
		for i := range appts {
			out = append(out, toAppointmentResponse(&appts[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type operationalCancelRequest struct {
	Reason string  `json:"reason" validate:"required"`
	Notes  *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// CancelAppointmentOperational cancels on behalf of the school and queues a
// reposition for the student.
func CancelAppointmentOperational(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body operationalCancelRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := enums.ParseCancellationReason(body.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cancellation reason"))
			return
		}

		appt, err := svc.CancelOperational(r.Context(), appointments.OperationalCancelParams{
			CompanyID:     middleware.CompanyIDFromContext(r.Context()),
			AppointmentID: id,
			Reason:        reason,
			Notes:         body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAppointmentResponse(appt))
	}
}

type studentCancelRequest struct {
	Notes *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// CancelAppointmentByStudent cancels at the student's request; the penalty
// follows the cutoff.
func CancelAppointmentByStudent(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body studentCancelRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		appt, err := svc.CancelByStudent(r.Context(), appointments.StudentCancelParams{
			CompanyID:     middleware.CompanyIDFromContext(r.Context()),
			AppointmentID: id,
			Notes:         body.Notes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAppointmentResponse(appt))
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateAppointmentStatus applies one lifecycle transition.
func UpdateAppointmentStatus(svc appointments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body updateStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseAppointmentStatus(body.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), appointments.UpdateStatusParams{
			CompanyID:     middleware.CompanyIDFromContext(r.Context()),
			AppointmentID: id,
			Status:        status,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toAppointmentResponse(appt))
	}
}
