package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/api/responses"
	"github.com/lorisconti/drivehub-backend/api/validators"
	"github.com/lorisconti/drivehub-backend/internal/reposition"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

type repositionTaskResponse struct {
	ID                   uuid.UUID  `json:"id"`
	SourceAppointmentID  uuid.UUID  `json:"sourceAppointmentId"`
	StudentID            uuid.UUID  `json:"studentId"`
	Status               string     `json:"status"`
	Reason               string     `json:"reason"`
	AttemptCount         int        `json:"attemptCount"`
	LastAttemptAt        *time.Time `json:"lastAttemptAt,omitempty"`
	NextAttemptAt        *time.Time `json:"nextAttemptAt,omitempty"`
	MatchedAppointmentID *uuid.UUID `json:"matchedAppointmentId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// GetRepositionTask returns the reposition task spawned by one cancelled
// appointment, if any.
func GetRepositionTask(svc reposition.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "appointmentId"), "appointmentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		task, err := svc.TaskForSource(r.Context(), middleware.CompanyIDFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if task == nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeNotFound, "no reposition task for this appointment"))
			return
		}
		responses.WriteSuccess(w, repositionTaskResponse{
			ID:                   task.ID,
			SourceAppointmentID:  task.SourceAppointmentID,
			StudentID:            task.StudentID,
			Status:               task.Status.String(),
			Reason:               task.Reason.String(),
			AttemptCount:         task.AttemptCount,
			LastAttemptAt:        task.LastAttemptAt,
			NextAttemptAt:        task.NextAttemptAt,
			MatchedAppointmentID: task.MatchedAppointmentID,
			CreatedAt:            task.CreatedAt,
		})
	}
}
