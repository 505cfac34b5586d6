package invoicing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/invoicing"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
)

type fakeRepo struct {
	appts    map[uuid.UUID]*models.Appointment
	students map[uuid.UUID]*models.Student
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		appts:    map[uuid.UUID]*models.Appointment{},
		students: map[uuid.UUID]*models.Student{},
	}
}

func (f *fakeRepo) ListInvoiceDue(_ context.Context, now time.Time, _ int) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, appt := range f.appts {
		if !appt.PaymentRequired || !appt.InvoiceStatus.Retryable() {
			continue
		}
		switch appt.PaymentStatus {
		case enums.PaymentStatusPaid, enums.PaymentStatusWaived:
		default:
			continue
		}
		if appt.Finalizable(now) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetStudent(_ context.Context, id uuid.UUID) (*models.Student, error) {
	student, ok := f.students[id]
	if !ok {
		return nil, nil
	}
	copied := *student
	return &copied, nil
}

func (f *fakeRepo) GetAppointmentForUpdateTx(_ *gorm.DB, id uuid.UUID) (*models.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (f *fakeRepo) SaveAppointmentTx(_ *gorm.DB, appt *models.Appointment) error {
	copied := *appt
	f.appts[appt.ID] = &copied
	return nil
}

type fakeIssuer struct {
	configured bool
	err        error
	calls      []invoicing.InvoiceParams
}

func (f *fakeIssuer) Configured() bool { return f.configured }

func (f *fakeIssuer) IssueInvoice(_ context.Context, params invoicing.InvoiceParams) (*invoicing.Invoice, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &invoicing.Invoice{ID: "doc-" + params.ExternalRef, Number: "2026/42"}, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	for _, existing := range f.events {
		if existing.EventType == event.EventType && existing.AggregateID == event.AggregateID {
			return nil
		}
	}
	f.events = append(f.events, event)
	return nil
}

var testNow = time.Date(2026, 4, 7, 18, 0, 0, 0, time.UTC)

type harness struct {
	svc     Service
	repo    *fakeRepo
	issuer  *fakeIssuer
	emitter *fakeEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    newFakeRepo(),
		issuer:  &fakeIssuer{configured: true},
		emitter: &fakeEmitter{},
	}
	svc, err := NewService(Params{
		Repo:   h.repo,
		Tx:     fakeTx{},
		Issuer: h.issuer,
		Events: h.emitter,
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// seedPaid stores a completed, fully paid appointment awaiting its document.
func (h *harness) seedPaid(t *testing.T) *models.Appointment {
	t.Helper()
	student := &models.Student{
		ID:        uuid.New(),
		FirstName: "Giulia",
		LastName:  "Ricci",
		Email:     "giulia@example.com",
	}
	h.repo.students[student.ID] = student

	start := testNow.Add(-3 * time.Hour)
	appt := &models.Appointment{
		ID:              uuid.New(),
		CompanyID:       uuid.New(),
		StudentID:       student.ID,
		StartsAt:        start,
		EndsAt:          start.Add(30 * time.Minute),
		Status:          enums.AppointmentStatusCompleted,
		PaymentRequired: true,
		PriceCents:      2500,
		PenaltyCents:    1250,
		PaidCents:       2500,
		Currency:        "EUR",
		PaymentStatus:   enums.PaymentStatusPaid,
		InvoiceStatus:   enums.InvoiceStatusPending,
	}
	h.repo.appts[appt.ID] = appt
	return appt
}

func TestFinalizeIssuesDocumentOnce(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusIssued {
		t.Fatalf("invoice status = %s, want issued", got.InvoiceStatus)
	}
	if got.InvoiceID == nil || *got.InvoiceID != "doc-"+appt.ID.String() {
		t.Fatalf("invoice id = %v", got.InvoiceID)
	}
	if len(h.issuer.calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(h.issuer.calls))
	}
	call := h.issuer.calls[0]
	if call.AmountCents != 2500 || call.CustomerName != "Giulia Ricci" {
		t.Fatalf("call = %+v", call)
	}
	if len(h.emitter.events) != 1 || h.emitter.events[0].EventType != enums.EventInvoiceIssued {
		t.Fatalf("events = %v", h.emitter.events)
	}

	// A second run sees the stored invoice id and stays quiet.
	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if len(h.issuer.calls) != 1 {
		t.Fatalf("provider calls after rerun = %d, want 1", len(h.issuer.calls))
	}
}

func TestFinalizeRecoversCrashedIssue(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)
	docID := "doc-earlier"
	appt.InvoiceID = &docID
	appt.InvoiceStatus = enums.InvoiceStatusFailed

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusIssued {
		t.Fatalf("invoice status = %s, want issued", got.InvoiceStatus)
	}
	if len(h.issuer.calls) != 0 {
		t.Fatal("provider must not be called when an invoice id exists")
	}
}

func TestFinalizeZeroAmountNeedsNoDocument(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)
	// Cancelled before the cutoff: nothing was owed.
	cancelled := appt.StartsAt.Add(-48 * time.Hour)
	cutoff := appt.StartsAt.Add(-24 * time.Hour)
	appt.Status = enums.AppointmentStatusCancelled
	appt.CancelledAt = &cancelled
	appt.PenaltyCutoffAt = &cutoff
	appt.PaidCents = 0
	appt.PaymentStatus = enums.PaymentStatusWaived

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusNotRequired {
		t.Fatalf("invoice status = %s, want not_required", got.InvoiceStatus)
	}
	if len(h.issuer.calls) != 0 {
		t.Fatal("provider must not be called for a zero amount")
	}
}

func TestFinalizeParksWhenProviderNotConfigured(t *testing.T) {
	h := newHarness(t)
	h.issuer.configured = false
	appt := h.seedPaid(t)

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusPendingFIC {
		t.Fatalf("invoice status = %s, want pending_fic", got.InvoiceStatus)
	}
	if got.InvoiceID != nil {
		t.Fatal("no invoice id expected")
	}
}

func TestFinalizeKeepsStatusOnTransientFailure(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)
	h.issuer.err = pkgerrors.New(pkgerrors.CodeDependency, "provider returned status 503")

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusPending {
		t.Fatalf("invoice status = %s, want pending", got.InvoiceStatus)
	}
	if len(h.emitter.events) != 0 {
		t.Fatal("no event expected on failure")
	}
}

func TestFinalizeMarksRejectedInvoiceFailed(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)
	h.issuer.err = pkgerrors.New(pkgerrors.CodeValidation, "invalid vat configuration")

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusFailed {
		t.Fatalf("invoice status = %s, want failed", got.InvoiceStatus)
	}
}

func TestFinalizeSkipsUnsettledLedger(t *testing.T) {
	h := newHarness(t)
	appt := h.seedPaid(t)
	appt.PaidCents = 1000
	appt.PaymentStatus = enums.PaymentStatusPartialPaid

	if err := h.svc.FinalizeAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got := h.repo.appts[appt.ID]
	if got.InvoiceStatus != enums.InvoiceStatusPending {
		t.Fatalf("invoice status = %s, want pending", got.InvoiceStatus)
	}
	if len(h.issuer.calls) != 0 {
		t.Fatal("provider must not be called before the ledger settles")
	}
}

func TestSweepFinalizesEveryDueAppointment(t *testing.T) {
	h := newHarness(t)
	first := h.seedPaid(t)
	second := h.seedPaid(t)

	if err := h.svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		if h.repo.appts[id].InvoiceStatus != enums.InvoiceStatusIssued {
			t.Fatalf("appointment %s not issued", id)
		}
	}
}
