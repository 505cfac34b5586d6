package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/api/responses"
	"github.com/lorisconti/drivehub-backend/api/validators"
	"github.com/lorisconti/drivehub-backend/internal/directory"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

// WindowLister reads the company's weekly availability windows.
type WindowLister interface {
	ListAvailabilityWindows(ctx context.Context, companyID uuid.UUID) ([]models.AvailabilityWindow, error)
}

type availabilityWindowResponse struct {
	OwnerType   string    `json:"ownerType"`
	OwnerID     uuid.UUID `json:"ownerId"`
	WeekdayMask int       `json:"weekdayMask"`
	StartMinute int       `json:"startMinute"`
	EndMinute   int       `json:"endMinute"`
}

// ListAvailabilityWindows returns every weekly window configured for the
// caller's company.
func ListAvailabilityWindows(lister WindowLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		windows, err := lister.ListAvailabilityWindows(r.Context(), middleware.CompanyIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list windows"))
			return
		}

		out := make([]availabilityWindowResponse, 0, len(windows))
		for _, win := range windows {
			out = append(out, availabilityWindowResponse{
				OwnerType:   win.OwnerType.String(),
				OwnerID:     win.OwnerID,
				WeekdayMask: win.WeekdayMask,
				StartMinute: win.StartMinute,
				EndMinute:   win.EndMinute,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

type setAvailabilityRequest struct {
	OwnerType   string `json:"ownerType" validate:"required"`
	OwnerID     string `json:"ownerId" validate:"required,uuid"`
	WeekdayMask int    `json:"weekdayMask" validate:"required,min=1,max=127"`
	StartMinute int    `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"endMinute" validate:"required,min=1,max=1440"`
}

// SetAvailabilityWindow upserts one owner's weekly window.
func SetAvailabilityWindow(svc directory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body setAvailabilityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ownerType, err := enums.ParseOwnerType(body.OwnerType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid owner type"))
			return
		}

		err = svc.SetAvailability(r.Context(), directory.AvailabilityParams{
			CompanyID:   middleware.CompanyIDFromContext(r.Context()),
			OwnerType:   ownerType,
			OwnerID:     uuid.MustParse(body.OwnerID),
			WeekdayMask: body.WeekdayMask,
			StartMinute: body.StartMinute,
			EndMinute:   body.EndMinute,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "saved"})
	}
}

type setLessonPolicyRequest struct {
	LessonType  string `json:"lessonType" validate:"required"`
	StartMinute int    `json:"startMinute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"endMinute" validate:"required,min=1,max=1440"`
}

// SetLessonPolicy upserts the bookable sub-window for one lesson type.
func SetLessonPolicy(svc directory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body setLessonPolicyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		lessonType, err := enums.ParseLessonType(body.LessonType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lesson type"))
			return
		}

		err = svc.SetLessonPolicy(r.Context(), directory.PolicyParams{
			CompanyID:   middleware.CompanyIDFromContext(r.Context()),
			LessonType:  lessonType,
			StartMinute: body.StartMinute,
			EndMinute:   body.EndMinute,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "saved"})
	}
}

type registerCardRequest struct {
	StudentID         string `json:"studentId" validate:"required,uuid"`
	SourceID          string `json:"sourceId" validate:"required"`
	VerificationToken string `json:"verificationToken,omitempty"`
}

// RegisterStudentCard vaults a card with the gateway and stores the refs on
// the student.
func RegisterStudentCard(svc directory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerCardRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refs, err := svc.RegisterPaymentCard(r.Context(), directory.RegisterCardParams{
			CompanyID:         middleware.CompanyIDFromContext(r.Context()),
			StudentID:         uuid.MustParse(body.StudentID),
			SourceID:          body.SourceID,
			VerificationToken: body.VerificationToken,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, refs)
	}
}
