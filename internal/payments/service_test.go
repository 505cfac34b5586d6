package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/square"
)

type fakeRepo struct {
	records  map[uuid.UUID]*models.AppointmentPayment
	appts    map[uuid.UUID]*models.Appointment
	students map[uuid.UUID]*models.Student
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		records:  map[uuid.UUID]*models.AppointmentPayment{},
		appts:    map[uuid.UUID]*models.Appointment{},
		students: map[uuid.UUID]*models.Student{},
	}
}

func (f *fakeRepo) ListByAppointment(_ context.Context, companyID, appointmentID uuid.UUID) ([]models.AppointmentPayment, error) {
	var out []models.AppointmentPayment
	for _, rec := range f.records {
		if rec.CompanyID == companyID && rec.AppointmentID == appointmentID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListDueAttempts(_ context.Context, now, staleBefore time.Time, _ int) ([]models.AppointmentPayment, error) {
	var out []models.AppointmentPayment
	for _, rec := range f.records {
		switch {
		case rec.Status.Chargeable() && (rec.NextAttemptAt == nil || !rec.NextAttemptAt.After(now)):
			out = append(out, *rec)
		case rec.Status == enums.PaymentAttemptStatusProcessing && !rec.UpdatedAt.After(staleBefore):
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListPenaltyDue(_ context.Context, now time.Time, _ int) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, appt := range f.appts {
		if !appt.PaymentRequired || appt.PaymentStatusLocked {
			continue
		}
		if appt.Status != enums.AppointmentStatusCancelled && appt.Status != enums.AppointmentStatusNoShow {
			continue
		}
		if appt.PaymentStatus != enums.PaymentStatusPendingPenalty && appt.PaymentStatus != enums.PaymentStatusPartialPaid {
			continue
		}
		if appt.PenaltyCutoffAt == nil || appt.PenaltyCutoffAt.After(now) {
			continue
		}
		out = append(out, *appt)
	}
	return out, nil
}

func (f *fakeRepo) ListSettlementDue(_ context.Context, now time.Time, _ int) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, appt := range f.appts {
		if !appt.PaymentRequired || appt.PaymentStatusLocked {
			continue
		}
		if appt.PaymentStatus != enums.PaymentStatusPendingPenalty && appt.PaymentStatus != enums.PaymentStatusPartialPaid {
			continue
		}
		final := appt.Status == enums.AppointmentStatusCompleted ||
			appt.Status == enums.AppointmentStatusNoShow ||
			appt.Status == enums.AppointmentStatusCancelled ||
			!appt.EndsAt.After(now)
		if final {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetStudent(_ context.Context, companyID, id uuid.UUID) (*models.Student, error) {
	student, ok := f.students[id]
	if !ok || student.CompanyID != companyID {
		return nil, nil
	}
	copied := *student
	return &copied, nil
}

func (f *fakeRepo) CreateTx(_ *gorm.DB, record *models.AppointmentPayment) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeRepo) SaveTx(_ *gorm.DB, record *models.AppointmentPayment) error {
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeRepo) GetByIDForUpdateTx(_ *gorm.DB, id uuid.UUID) (*models.AppointmentPayment, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeRepo) GetOpenByPhaseTx(_ *gorm.DB, appointmentID uuid.UUID, phase enums.PaymentPhase) (*models.AppointmentPayment, error) {
	for _, rec := range f.records {
		if rec.AppointmentID == appointmentID && rec.Phase == phase && !rec.Status.Terminal() {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ReassignAppointmentTx(_ *gorm.DB, fromAppointmentID, toAppointmentID uuid.UUID) error {
	for _, rec := range f.records {
		if rec.AppointmentID == fromAppointmentID {
			rec.AppointmentID = toAppointmentID
		}
	}
	return nil
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

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeGateway struct {
	err   error
	calls []square.PaymentCreateParams
}

func (f *fakeGateway) ChargeStoredCard(_ context.Context, params square.PaymentCreateParams) (*sq.Payment, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	id := "charge-" + params.IdempotencyKey
	return &sq.Payment{ID: &id}, nil
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
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

var testNow = time.Date(2026, 2, 11, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc     Service
	repo    *fakeRepo
	gateway *fakeGateway
	emitter *fakeEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:    newFakeRepo(),
		gateway: &fakeGateway{},
		emitter: &fakeEmitter{},
	}
	svc, err := NewService(Params{
		Repo:    h.repo,
		Tx:      fakeTx{},
		Gateway: h.gateway,
		Events:  h.emitter,
		Config: config.PaymentsConfig{
			MaxAttempts:        3,
			RetryDelaysHours:   []int{4, 8},
			PenaltyPercent:     50,
			PenaltyCutoffHours: 24,
			Currency:           "EUR",
			GatewayTimeout:     15 * time.Second,
		},
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) seedAppointment(status enums.AppointmentStatus, paymentStatus enums.PaymentStatus) *models.Appointment {
	customer := "cust-1"
	card := "card-1"
	student := &models.Student{
		ID:                uuid.New(),
		CompanyID:         uuid.New(),
		Active:            true,
		GatewayCustomerID: &customer,
		PaymentCardID:     &card,
	}
	h.repo.students[student.ID] = student

	start := testNow.Add(-48 * time.Hour)
	cutoff := start.Add(-24 * time.Hour)
	appt := &models.Appointment{
		ID:              uuid.New(),
		CompanyID:       student.CompanyID,
		StudentID:       student.ID,
		InstructorID:    uuid.New(),
		VehicleID:       uuid.New(),
		Status:          status,
		StartsAt:        start,
		EndsAt:          start.Add(30 * time.Minute),
		PaymentRequired: true,
		PriceCents:      2500,
		PenaltyCents:    1250,
		Currency:        "EUR",
		PenaltyCutoffAt: &cutoff,
		PaymentStatus:   paymentStatus,
	}
	h.repo.appts[appt.ID] = appt
	return appt
}

func (h *harness) seedRecord(appt *models.Appointment, phase enums.PaymentPhase, amount int64) *models.AppointmentPayment {
	rec := &models.AppointmentPayment{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		CompanyID:     appt.CompanyID,
		StudentID:     appt.StudentID,
		Phase:         phase,
		AmountCents:   amount,
		Currency:      "EUR",
		Status:        enums.PaymentAttemptStatusPending,
		NextAttemptAt: &testNow,
	}
	h.repo.records[rec.ID] = rec
	return rec
}

func TestRunAttemptSuccessSettlesLedger(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCompleted, enums.PaymentStatusPendingPenalty)
	rec := h.seedRecord(appt, enums.PaymentPhaseSettlement, 2500)

	if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}

	stored := h.repo.records[rec.ID]
	if stored.Status != enums.PaymentAttemptStatusSucceeded {
		t.Fatalf("unexpected record status: %s", stored.Status)
	}
	wantKey := "pay-" + appt.ID.String() + "-settlement-1"
	if stored.IdempotencyKey == nil || *stored.IdempotencyKey != wantKey {
		t.Fatalf("unexpected idempotency key: %v", stored.IdempotencyKey)
	}
	if len(h.gateway.calls) != 1 || h.gateway.calls[0].IdempotencyKey != wantKey {
		t.Fatalf("gateway must be called once with the deterministic key")
	}

	settled := h.repo.appts[appt.ID]
	if settled.PaidCents != 2500 || settled.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("ledger not settled: paid=%d status=%s", settled.PaidCents, settled.PaymentStatus)
	}
	if len(h.emitter.events) != 1 || h.emitter.events[0].EventType != enums.EventPaymentSucceeded {
		t.Fatalf("expected payment succeeded event, got %+v", h.emitter.events)
	}
}

func TestRunAttemptFailureSchedulesLadder(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayDeclined, "card declined")
	appt := h.seedAppointment(enums.AppointmentStatusNoShow, enums.PaymentStatusPendingPenalty)
	rec := h.seedRecord(appt, enums.PaymentPhasePenalty, 1250)

	if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	stored := h.repo.records[rec.ID]
	if stored.Status != enums.PaymentAttemptStatusFailed || stored.AttemptCount != 1 {
		t.Fatalf("unexpected state after first failure: %s attempts=%d", stored.Status, stored.AttemptCount)
	}
	if stored.NextAttemptAt == nil || !stored.NextAttemptAt.Equal(testNow.Add(4*time.Hour)) {
		t.Fatalf("expected 4h backoff, got %v", stored.NextAttemptAt)
	}

	// Make the retry due and fail again: 8h rung.
	stored.NextAttemptAt = &testNow
	h.repo.records[rec.ID] = stored
	if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
		t.Fatalf("second RunAttempt: %v", err)
	}
	stored = h.repo.records[rec.ID]
	if stored.NextAttemptAt == nil || !stored.NextAttemptAt.Equal(testNow.Add(8*time.Hour)) {
		t.Fatalf("expected 8h backoff, got %v", stored.NextAttemptAt)
	}
}

func TestRunAttemptExhaustionMarksInsoluto(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGatewayDeclined, "card declined")
	appt := h.seedAppointment(enums.AppointmentStatusNoShow, enums.PaymentStatusPendingPenalty)
	rec := h.seedRecord(appt, enums.PaymentPhasePenalty, 1250)

	for i := 0; i < 3; i++ {
		stored := h.repo.records[rec.ID]
		stored.NextAttemptAt = &testNow
		h.repo.records[rec.ID] = stored
		if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	stored := h.repo.records[rec.ID]
	if stored.Status != enums.PaymentAttemptStatusAbandoned || stored.AttemptCount != 3 {
		t.Fatalf("expected abandoned after 3 attempts, got %s attempts=%d", stored.Status, stored.AttemptCount)
	}
	frozen := h.repo.appts[appt.ID]
	if frozen.PaymentStatus != enums.PaymentStatusInsoluto || !frozen.PaymentStatusLocked {
		t.Fatalf("expected locked insoluto, got %s locked=%v", frozen.PaymentStatus, frozen.PaymentStatusLocked)
	}
	var insolutoEvents int
	for _, event := range h.emitter.events {
		if event.EventType == enums.EventPaymentInsoluto {
			insolutoEvents++
		}
	}
	if insolutoEvents != 1 {
		t.Fatalf("expected exactly one insoluto event, got %d", insolutoEvents)
	}

	// Abandoned records are never retried.
	calls := len(h.gateway.calls)
	if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
		t.Fatalf("post-abandon attempt: %v", err)
	}
	if len(h.gateway.calls) != calls {
		t.Fatalf("abandoned record must not reach the gateway")
	}
}

func TestRunDueAttemptsReclaimsOrphanedClaim(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCompleted, enums.PaymentStatusPendingPenalty)
	rec := h.seedRecord(appt, enums.PaymentPhaseSettlement, 2500)

	// A worker that died between claim and settle leaves the row in
	// processing, carrying the key of the attempt it never finished.
	key := IdempotencyKey(appt.ID, rec.Phase, 1)
	stored := h.repo.records[rec.ID]
	stored.Status = enums.PaymentAttemptStatusProcessing
	stored.AttemptCount = 1
	stored.IdempotencyKey = &key
	stored.UpdatedAt = testNow.Add(-time.Hour)
	h.repo.records[rec.ID] = stored

	if err := h.svc.RunDueAttempts(context.Background()); err != nil {
		t.Fatalf("RunDueAttempts: %v", err)
	}

	settled := h.repo.records[rec.ID]
	if settled.Status != enums.PaymentAttemptStatusSucceeded {
		t.Fatalf("orphaned claim not re-driven: %s", settled.Status)
	}
	if settled.AttemptCount != 1 {
		t.Fatalf("re-drive must reuse the attempt number, got %d", settled.AttemptCount)
	}
	if len(h.gateway.calls) != 1 || h.gateway.calls[0].IdempotencyKey != key {
		t.Fatalf("re-drive must reuse the original idempotency key, got %+v", h.gateway.calls)
	}
}

func TestRunDueAttemptsLeavesLiveClaimAlone(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCompleted, enums.PaymentStatusPendingPenalty)
	rec := h.seedRecord(appt, enums.PaymentPhaseSettlement, 2500)

	stored := h.repo.records[rec.ID]
	stored.Status = enums.PaymentAttemptStatusProcessing
	stored.AttemptCount = 1
	stored.UpdatedAt = testNow.Add(-time.Second)
	h.repo.records[rec.ID] = stored

	if err := h.svc.RunDueAttempts(context.Background()); err != nil {
		t.Fatalf("RunDueAttempts: %v", err)
	}
	if len(h.gateway.calls) != 0 {
		t.Fatalf("a claim inside the grace window must not be re-driven")
	}
	if h.repo.records[rec.ID].Status != enums.PaymentAttemptStatusProcessing {
		t.Fatalf("live claim must keep its status, got %s", h.repo.records[rec.ID].Status)
	}
}

func TestQueuePenaltyAttemptsCreatesOneRecord(t *testing.T) {
	h := newHarness(t)
	late := testNow.Add(-time.Hour)
	appt := h.seedAppointment(enums.AppointmentStatusCancelled, enums.PaymentStatusPendingPenalty)
	appt.CancelledAt = &late
	h.repo.appts[appt.ID] = appt

	if err := h.svc.QueuePenaltyAttempts(context.Background()); err != nil {
		t.Fatalf("QueuePenaltyAttempts: %v", err)
	}
	if len(h.repo.records) != 1 {
		t.Fatalf("expected one queued record, got %d", len(h.repo.records))
	}
	for _, rec := range h.repo.records {
		if rec.Phase != enums.PaymentPhasePenalty || rec.AmountCents != 1250 {
			t.Fatalf("unexpected record: phase=%s amount=%d", rec.Phase, rec.AmountCents)
		}
	}

	// A second sweep reuses the open record.
	if err := h.svc.QueuePenaltyAttempts(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(h.repo.records) != 1 {
		t.Fatalf("sweep must not duplicate open records, got %d", len(h.repo.records))
	}
}

func TestQueuePenaltyAttemptsWaivesCancelledBeforeCutoff(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCancelled, enums.PaymentStatusPendingPenalty)
	early := appt.PenaltyCutoffAt.Add(-time.Hour)
	appt.CancelledAt = &early
	h.repo.appts[appt.ID] = appt

	if err := h.svc.QueuePenaltyAttempts(context.Background()); err != nil {
		t.Fatalf("QueuePenaltyAttempts: %v", err)
	}
	if len(h.repo.records) != 0 {
		t.Fatalf("no charge should be queued, got %d records", len(h.repo.records))
	}
	if got := h.repo.appts[appt.ID].PaymentStatus; got != enums.PaymentStatusWaived {
		t.Fatalf("expected waived, got %s", got)
	}
}

func TestQueueSettlementSkipsWhenPenaltyRecordCovers(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusNoShow, enums.PaymentStatusPendingPenalty)
	h.seedRecord(appt, enums.PaymentPhasePenalty, 1250)

	if err := h.svc.QueueSettlementAttempts(context.Background()); err != nil {
		t.Fatalf("QueueSettlementAttempts: %v", err)
	}
	for _, rec := range h.repo.records {
		if rec.Phase == enums.PaymentPhaseSettlement {
			t.Fatalf("settlement must not stack on an open penalty record")
		}
	}
}

func TestManualRecoveryClearsInsoluto(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusNoShow, enums.PaymentStatusInsoluto)
	appt.PaymentStatusLocked = true
	h.repo.appts[appt.ID] = appt

	record, err := h.svc.ManualRecovery(context.Background(), appt.CompanyID, appt.ID)
	if err != nil {
		t.Fatalf("ManualRecovery: %v", err)
	}
	if record == nil || record.Status != enums.PaymentAttemptStatusSucceeded {
		t.Fatalf("expected succeeded recovery record, got %+v", record)
	}
	cleared := h.repo.appts[appt.ID]
	if cleared.PaymentStatusLocked || cleared.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("expected unlocked paid ledger, got %s locked=%v", cleared.PaymentStatus, cleared.PaymentStatusLocked)
	}
}

func TestManualRecoveryRejectsNonInsoluto(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCompleted, enums.PaymentStatusPendingPenalty)

	_, err := h.svc.ManualRecovery(context.Background(), appt.CompanyID, appt.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestClaimSkipsLockedLedgerForAutomatedPhases(t *testing.T) {
	h := newHarness(t)
	appt := h.seedAppointment(enums.AppointmentStatusCancelled, enums.PaymentStatusWaived)
	appt.PaymentStatusLocked = true
	h.repo.appts[appt.ID] = appt
	rec := h.seedRecord(appt, enums.PaymentPhaseSettlement, 1250)

	if err := h.svc.RunAttempt(context.Background(), rec.ID); err != nil {
		t.Fatalf("RunAttempt: %v", err)
	}
	if len(h.gateway.calls) != 0 {
		t.Fatalf("waived ledgers must not be charged")
	}
	if got := h.repo.records[rec.ID].Status; got != enums.PaymentAttemptStatusPending {
		t.Fatalf("record should stay untouched, got %s", got)
	}
}
