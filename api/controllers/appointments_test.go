package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/api/middleware"
	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/logger"
)

type testAppointmentsService struct {
	createFn            func(ctx context.Context, params appointments.CreateParams) (*models.Appointment, error)
	getFn               func(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error)
	cancelOperationalFn func(ctx context.Context, params appointments.OperationalCancelParams) (*models.Appointment, error)
	cancelByStudentFn   func(ctx context.Context, params appointments.StudentCancelParams) (*models.Appointment, error)
	updateStatusFn      func(ctx context.Context, params appointments.UpdateStatusParams) (*models.Appointment, error)
}

func (s *testAppointmentsService) Create(ctx context.Context, params appointments.CreateParams) (*models.Appointment, error) {
	if s.createFn != nil {
		return s.createFn(ctx, params)
	}
	return nil, nil
}

func (s *testAppointmentsService) Get(ctx context.Context, companyID, id uuid.UUID) (*models.Appointment, error) {
	if s.getFn != nil {
		return s.getFn(ctx, companyID, id)
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
}

func (s *testAppointmentsService) ListForStudent(_ context.Context, _, _ uuid.UUID, _ int) ([]models.Appointment, error) {
	return nil, nil
}

func (s *testAppointmentsService) CancelOperational(ctx context.Context, params appointments.OperationalCancelParams) (*models.Appointment, error) {
	if s.cancelOperationalFn != nil {
		return s.cancelOperationalFn(ctx, params)
	}
	return nil, nil
}

func (s *testAppointmentsService) CancelByStudent(ctx context.Context, params appointments.StudentCancelParams) (*models.Appointment, error) {
	if s.cancelByStudentFn != nil {
		return s.cancelByStudentFn(ctx, params)
	}
	return nil, nil
}

func (s *testAppointmentsService) UpdateStatus(ctx context.Context, params appointments.UpdateStatusParams) (*models.Appointment, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, params)
	}
	return nil, nil
}

func (s *testAppointmentsService) LinkReplacement(_ context.Context, _, _, _ uuid.UUID) error {
	return nil
}

func (s *testAppointmentsService) BindEnqueuer(_ appointments.TaskEnqueuer) {}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func sampleAppointment(companyID uuid.UUID) *models.Appointment {
	starts := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	return &models.Appointment{
		ID:            uuid.New(),
		CompanyID:     companyID,
		StudentID:     uuid.New(),
		InstructorID:  uuid.New(),
		VehicleID:     uuid.New(),
		LessonType:    enums.LessonTypeStandard,
		StartsAt:      starts,
		EndsAt:        starts.Add(30 * time.Minute),
		Status:        enums.AppointmentStatusScheduled,
		Currency:      "EUR",
		PaymentStatus: enums.PaymentStatusNotRequired,
		InvoiceStatus: enums.InvoiceStatusPending,
	}
}

func withCompany(req *http.Request, companyID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithCompanyID(req.Context(), companyID))
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreateAppointmentSuccess(t *testing.T) {
	companyID := uuid.New()
	appt := sampleAppointment(companyID)

	var got appointments.CreateParams
	svc := &testAppointmentsService{
		createFn: func(_ context.Context, params appointments.CreateParams) (*models.Appointment, error) {
			got = params
			return appt, nil
		},
	}

	body := `{
		"studentId": "` + appt.StudentID.String() + `",
		"instructorId": "` + appt.InstructorID.String() + `",
		"vehicleId": "` + appt.VehicleID.String() + `",
		"lessonType": "standard",
		"startsAt": "2026-06-15T09:00:00Z",
		"durationMinutes": 30,
		"paymentRequired": true
	}`
	req := withCompany(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body)), companyID)
	resp := httptest.NewRecorder()
	CreateAppointment(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.CompanyID != companyID {
		t.Fatalf("expected company %s got %s", companyID, got.CompanyID)
	}
	if got.Duration != 30*time.Minute {
		t.Fatalf("unexpected duration %s", got.Duration)
	}
	if !got.PaymentRequired {
		t.Fatal("expected payment required")
	}
}

func TestCreateAppointmentRejectsUnknownField(t *testing.T) {
	req := withCompany(httptest.NewRequest(http.MethodPost, "/api/v1/appointments",
		strings.NewReader(`{"bogus": true}`)), uuid.New())
	resp := httptest.NewRecorder()
	CreateAppointment(&testAppointmentsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCreateAppointmentRejectsBadLessonType(t *testing.T) {
	body := `{
		"studentId": "` + uuid.NewString() + `",
		"instructorId": "` + uuid.NewString() + `",
		"vehicleId": "` + uuid.NewString() + `",
		"lessonType": "acrobatics",
		"startsAt": "2026-06-15T09:00:00Z",
		"durationMinutes": 30
	}`
	req := withCompany(httptest.NewRequest(http.MethodPost, "/api/v1/appointments", strings.NewReader(body)), uuid.New())
	resp := httptest.NewRecorder()
	CreateAppointment(&testAppointmentsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetAppointmentNotFound(t *testing.T) {
	id := uuid.New()
	req := withCompany(httptest.NewRequest(http.MethodGet, "/api/v1/appointments/"+id.String(), nil), uuid.New())
	req = addRouteParam(req, "appointmentId", id.String())
	resp := httptest.NewRecorder()
	GetAppointment(&testAppointmentsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeNotFound) {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestCancelOperationalPassesReason(t *testing.T) {
	companyID := uuid.New()
	appt := sampleAppointment(companyID)
	appt.Status = enums.AppointmentStatusCancelled

	var got appointments.OperationalCancelParams
	svc := &testAppointmentsService{
		cancelOperationalFn: func(_ context.Context, params appointments.OperationalCancelParams) (*models.Appointment, error) {
			got = params
			return appt, nil
		},
	}

	req := withCompany(httptest.NewRequest(http.MethodPost,
		"/api/v1/appointments/"+appt.ID.String()+"/cancel",
		strings.NewReader(`{"reason": "instructor_cancelled"}`)), companyID)
	req = addRouteParam(req, "appointmentId", appt.ID.String())
	resp := httptest.NewRecorder()
	CancelAppointmentOperational(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if got.Reason != enums.CancellationReasonInstructorCancelled {
		t.Fatalf("unexpected reason %s", got.Reason)
	}
	if got.AppointmentID != appt.ID {
		t.Fatalf("unexpected appointment %s", got.AppointmentID)
	}
}

func TestCancelByStudentAllowsEmptyBody(t *testing.T) {
	companyID := uuid.New()
	appt := sampleAppointment(companyID)
	svc := &testAppointmentsService{
		cancelByStudentFn: func(_ context.Context, _ appointments.StudentCancelParams) (*models.Appointment, error) {
			return appt, nil
		},
	}

	req := withCompany(httptest.NewRequest(http.MethodPost,
		"/api/v1/appointments/"+appt.ID.String()+"/cancel-by-student", nil), companyID)
	req = addRouteParam(req, "appointmentId", appt.ID.String())
	resp := httptest.NewRecorder()
	CancelAppointmentByStudent(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	id := uuid.New()
	req := withCompany(httptest.NewRequest(http.MethodPatch,
		"/api/v1/appointments/"+id.String()+"/status",
		strings.NewReader(`{"status": "teleported"}`)), uuid.New())
	req = addRouteParam(req, "appointmentId", id.String())
	resp := httptest.NewRecorder()
	UpdateAppointmentStatus(&testAppointmentsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
