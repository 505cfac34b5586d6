package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/api/responses"
	"github.com/lorisconti/drivehub-backend/api/validators"
	"github.com/lorisconti/drivehub-backend/internal/scheduling"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

// SlotFinder searches the booking horizon for the best free slot.
type SlotFinder interface {
	FindBestSlot(ctx context.Context, req scheduling.MatchRequest) (*scheduling.Candidate, error)
}

// TimezoneResolver returns the company's calendar timezone.
type TimezoneResolver interface {
	Location(ctx context.Context, companyID uuid.UUID) (*time.Location, error)
}

type slotCandidateResponse struct {
	InstructorID uuid.UUID `json:"instructorId"`
	VehicleID    uuid.UUID `json:"vehicleId"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	Score        int       `json:"score"`
}

// SearchBestSlot finds the highest scoring bookable slot for a student.
func SearchBestSlot(finder SlotFinder, tz TimezoneResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		companyID := middleware.CompanyIDFromContext(ctx)

		studentID, err := validators.ParseQueryUUID(r, "studentId", true)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rawLessonType := r.URL.Query().Get("lessonType")
		lessonType, err := enums.ParseLessonType(rawLessonType)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lesson type"))
			return
		}
		durationMinutes, err := validators.ParseQueryInt(r, "durationMinutes", 30, 1, 8*60)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		searchFrom, err := validators.ParseQueryTime(r, "from", time.Now().UTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		loc, err := tz.Location(ctx, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		candidate, err := finder.FindBestSlot(ctx, scheduling.MatchRequest{
			CompanyID:  companyID,
			StudentID:  studentID,
			LessonType: lessonType,
			Duration:   time.Duration(durationMinutes) * time.Minute,
			SearchFrom: searchFrom,
			Location:   loc,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if candidate == nil {
			responses.WriteSuccess(w, map[string]any{"candidate": nil})
			return
		}
		responses.WriteSuccess(w, map[string]any{"candidate": slotCandidateResponse{
			InstructorID: candidate.InstructorID,
			VehicleID:    candidate.VehicleID,
			StartsAt:     candidate.Slot.Start,
			EndsAt:       candidate.Slot.End,
			Score:        candidate.Score,
		}})
	}
}
