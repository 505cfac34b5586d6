package reposition

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lorisconti/drivehub-backend/internal/appointments"
	"github.com/lorisconti/drivehub-backend/internal/availability"
	"github.com/lorisconti/drivehub-backend/internal/scheduling"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	"github.com/lorisconti/drivehub-backend/pkg/outbox"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

type fakeTaskRepo struct {
	tasks map[uuid.UUID]*models.RepositionTask
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[uuid.UUID]*models.RepositionTask{}}
}

func (f *fakeTaskRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RepositionTask, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) GetBySource(_ context.Context, companyID, sourceID uuid.UUID) (*models.RepositionTask, error) {
	for _, task := range f.tasks {
		if task.CompanyID == companyID && task.SourceAppointmentID == sourceID {
			copied := *task
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeTaskRepo) ListDue(_ context.Context, now time.Time, _ int) ([]models.RepositionTask, error) {
	var out []models.RepositionTask
	for _, task := range f.tasks {
		if task.Status != enums.RepositionTaskStatusPending {
			continue
		}
		if task.NextAttemptAt == nil || !task.NextAttemptAt.After(now) {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (f *fakeTaskRepo) CancelExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeTaskRepo) UpsertTx(_ *gorm.DB, task *models.RepositionTask) error {
	for _, existing := range f.tasks {
		if existing.SourceAppointmentID == task.SourceAppointmentID {
			existing.NextAttemptAt = task.NextAttemptAt
			existing.Reason = task.Reason
			return nil
		}
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

func (f *fakeTaskRepo) GetByIDForUpdateTx(_ *gorm.DB, id uuid.UUID) (*models.RepositionTask, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (f *fakeTaskRepo) SaveTx(_ *gorm.DB, task *models.RepositionTask) error {
	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

type fakeApptRepo struct {
	appts map[uuid.UUID]*models.Appointment
}

func newFakeApptRepo() *fakeApptRepo {
	return &fakeApptRepo{appts: map[uuid.UUID]*models.Appointment{}}
}

func (f *fakeApptRepo) GetByID(_ context.Context, companyID, id uuid.UUID) (*models.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok || appt.CompanyID != companyID {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (f *fakeApptRepo) ListInRange(_ context.Context, companyID uuid.UUID, from, to time.Time) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, appt := range f.appts {
		if appt.CompanyID == companyID && appt.StartsAt.Before(to) && appt.EndsAt.After(from) {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (f *fakeApptRepo) ListForStudent(_ context.Context, _, _ uuid.UUID, _ time.Time, _ int) ([]models.Appointment, error) {
	return nil, nil
}

func (f *fakeApptRepo) HasInsoluto(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return false, nil
}

func (f *fakeApptRepo) CreateTx(_ *gorm.DB, appt *models.Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	copied := *appt
	f.appts[appt.ID] = &copied
	return nil
}

func (f *fakeApptRepo) GetByIDForUpdateTx(_ *gorm.DB, id uuid.UUID) (*models.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return nil, nil
	}
	copied := *appt
	return &copied, nil
}

func (f *fakeApptRepo) ListOverlappingTx(_ *gorm.DB, q appointments.OverlapQuery) ([]models.Appointment, error) {
	var out []models.Appointment
	for _, appt := range f.appts {
		if appt.CompanyID != q.CompanyID || appt.Status == enums.AppointmentStatusCancelled {
			continue
		}
		if !appt.StartsAt.Before(q.End) || !appt.EndsAt.After(q.Start) {
			continue
		}
		if appt.StudentID == q.StudentID || appt.InstructorID == q.InstructorID || appt.VehicleID == q.VehicleID {
			out = append(out, *appt)
		}
	}
	return out, nil
}

func (f *fakeApptRepo) SaveTx(_ *gorm.DB, appt *models.Appointment) error {
	copied := *appt
	f.appts[appt.ID] = &copied
	return nil
}

func (f *fakeApptRepo) LinkReplacementTx(_ *gorm.DB, sourceID, replacementID uuid.UUID) (bool, error) {
	appt, ok := f.appts[sourceID]
	if !ok || appt.ReplacedByAppointmentID != nil {
		return false, nil
	}
	appt.ReplacedByAppointmentID = &replacementID
	return true, nil
}

func (f *fakeApptRepo) HasOpenProposalTx(_ *gorm.DB, companyID, studentID uuid.UUID, after time.Time) (bool, error) {
	for _, appt := range f.appts {
		if appt.CompanyID == companyID && appt.StudentID == studentID &&
			appt.Status == enums.AppointmentStatusProposal && appt.StartsAt.After(after) {
			return true, nil
		}
	}
	return false, nil
}

type fakeLedger struct {
	reassigned [][2]uuid.UUID
}

func (f *fakeLedger) ReassignAppointmentTx(_ *gorm.DB, from, to uuid.UUID) error {
	f.reassigned = append(f.reassigned, [2]uuid.UUID{from, to})
	return nil
}

type fakeDirectory struct{}

func (fakeDirectory) Location(_ context.Context, _ uuid.UUID) (*time.Location, error) {
	return time.UTC, nil
}

type fakeMatcher struct {
	candidate *scheduling.Candidate
	requests  []scheduling.MatchRequest
}

func (f *fakeMatcher) FindBestSlot(_ context.Context, req scheduling.MatchRequest) (*scheduling.Candidate, error) {
	f.requests = append(f.requests, req)
	return f.candidate, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc     Service
	tasks   *fakeTaskRepo
	appts   *fakeApptRepo
	ledger  *fakeLedger
	matcher *fakeMatcher
	emitter *fakeEmitter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		tasks:   newFakeTaskRepo(),
		appts:   newFakeApptRepo(),
		ledger:  &fakeLedger{},
		matcher: &fakeMatcher{},
		emitter: &fakeEmitter{},
	}
	svc, err := NewService(Params{
		Repo:         h.tasks,
		Appointments: h.appts,
		Payments:     h.ledger,
		Directory:    fakeDirectory{},
		Matcher:      h.matcher,
		Tx:           fakeTx{},
		Events:       h.emitter,
		Config:       config.RepositionConfig{RetryDelayMinutes: 30},
		PaymentsCfg: config.PaymentsConfig{
			MaxAttempts:         3,
			RetryDelaysHours:    []int{4, 8},
			PenaltyPercent:      50,
			PenaltyCutoffHours:  24,
			BasePriceCents:      2500,
			ExtraSlotPriceCents: 2000,
			Currency:            "EUR",
		},
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

// seedSource stores a cancelled source appointment whose slot was tomorrow,
// with a partially paid ledger.
func (h *harness) seedSource(t *testing.T) *models.Appointment {
	t.Helper()
	start := testNow.Add(24 * time.Hour)
	end := start.Add(30 * time.Minute)
	cancelled := testNow.Add(-time.Hour)
	kind := enums.CancellationKindOperational
	reason := enums.CancellationReasonInstructorCancelled
	cutoff := start.Add(-24 * time.Hour)
	appt := &models.Appointment{
		CompanyID:           uuid.New(),
		StudentID:           uuid.New(),
		InstructorID:        uuid.New(),
		VehicleID:           uuid.New(),
		LessonType:          enums.LessonTypeStandard,
		StartsAt:            start,
		EndsAt:              end,
		Status:              enums.AppointmentStatusCancelled,
		CancelledAt:         &cancelled,
		CancellationKind:    &kind,
		CancellationReason:  &reason,
		PaymentRequired:     true,
		PriceCents:          2500,
		PenaltyCents:        1250,
		PaidCents:           1000,
		Currency:            "EUR",
		PenaltyCutoffAt:     &cutoff,
		PaymentStatus:       enums.PaymentStatusWaived,
		PaymentStatusLocked: true,
		InvoiceStatus:       enums.InvoiceStatusPending,
	}
	if err := h.appts.CreateTx(&gorm.DB{}, appt); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return h.appts.appts[appt.ID]
}

func (h *harness) seedTask(t *testing.T, source *models.Appointment) *models.RepositionTask {
	t.Helper()
	if err := h.svc.Enqueue(&gorm.DB{}, appointments.EnqueueTaskParams{
		CompanyID:           source.CompanyID,
		SourceAppointmentID: source.ID,
		StudentID:           source.StudentID,
		Reason:              enums.CancellationReasonInstructorCancelled,
		NextAttemptAt:       testNow,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, err := h.svc.TaskForSource(context.Background(), source.CompanyID, source.ID)
	if err != nil || task == nil {
		t.Fatalf("task for source: %v", err)
	}
	return task
}

func (h *harness) candidateFor(source *models.Appointment, offset time.Duration) *scheduling.Candidate {
	start := testNow.Add(offset)
	return &scheduling.Candidate{
		InstructorID: uuid.New(),
		VehicleID:    uuid.New(),
		Slot:         timeslot.NewInterval(start, 30*time.Minute),
		Score:        2,
	}
}

func TestEnqueueIsIdempotentPerSource(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)

	h.seedTask(t, source)
	later := testNow.Add(time.Hour)
	if err := h.svc.Enqueue(&gorm.DB{}, appointments.EnqueueTaskParams{
		CompanyID:           source.CompanyID,
		SourceAppointmentID: source.ID,
		StudentID:           source.StudentID,
		Reason:              enums.CancellationReasonScheduleChange,
		NextAttemptAt:       later,
	}); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	if len(h.tasks.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(h.tasks.tasks))
	}
	task, _ := h.svc.TaskForSource(context.Background(), source.CompanyID, source.ID)
	if task.NextAttemptAt == nil || !task.NextAttemptAt.Equal(later) {
		t.Fatalf("next attempt = %v, want %v", task.NextAttemptAt, later)
	}
	if task.Reason != enums.CancellationReasonScheduleChange {
		t.Fatalf("reason = %s, want schedule_change", task.Reason)
	}
}

func TestAttemptTaskMatchesAndTransfersLedger(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	task := h.seedTask(t, source)
	h.matcher.candidate = h.candidateFor(source, 48*time.Hour)

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusMatched {
		t.Fatalf("task status = %s, want matched", got.Status)
	}
	if got.MatchedAppointmentID == nil {
		t.Fatal("matched appointment id not set")
	}

	replacement := h.appts.appts[*got.MatchedAppointmentID]
	if replacement == nil {
		t.Fatal("replacement not created")
	}
	if replacement.Status != enums.AppointmentStatusProposal {
		t.Fatalf("replacement status = %s, want proposal", replacement.Status)
	}
	if replacement.PriceCents != 2500 || replacement.PenaltyCents != 1250 || replacement.PaidCents != 1000 {
		t.Fatalf("ledger snapshot = %d/%d/%d", replacement.PriceCents, replacement.PenaltyCents, replacement.PaidCents)
	}
	if replacement.PaymentStatus != enums.PaymentStatusPartialPaid {
		t.Fatalf("replacement payment status = %s, want partial_paid", replacement.PaymentStatus)
	}
	if replacement.PenaltyCutoffAt == nil || !replacement.PenaltyCutoffAt.Equal(replacement.StartsAt.Add(-24*time.Hour)) {
		t.Fatalf("penalty cutoff = %v", replacement.PenaltyCutoffAt)
	}

	updatedSource := h.appts.appts[source.ID]
	if updatedSource.PaidCents != 0 {
		t.Fatalf("source paid = %d, want 0", updatedSource.PaidCents)
	}
	if updatedSource.ReplacedByAppointmentID == nil || *updatedSource.ReplacedByAppointmentID != replacement.ID {
		t.Fatal("source not linked to replacement")
	}

	if len(h.ledger.reassigned) != 1 || h.ledger.reassigned[0] != [2]uuid.UUID{source.ID, replacement.ID} {
		t.Fatalf("reassigned = %v", h.ledger.reassigned)
	}
	if len(h.emitter.events) != 1 || h.emitter.events[0].EventType != enums.EventProposalCreated {
		t.Fatalf("events = %v", h.emitter.events)
	}
}

func TestAttemptForSourceMatchesWithoutSweep(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	h.seedTask(t, source)
	h.matcher.candidate = h.candidateFor(source, 48*time.Hour)

	if err := h.svc.AttemptForSource(context.Background(), source.CompanyID, source.ID); err != nil {
		t.Fatalf("AttemptForSource: %v", err)
	}

	task, err := h.svc.TaskForSource(context.Background(), source.CompanyID, source.ID)
	if err != nil || task == nil {
		t.Fatalf("task for source: %v", err)
	}
	if task.Status != enums.RepositionTaskStatusMatched || task.MatchedAppointmentID == nil {
		t.Fatalf("task status = %s, want matched", task.Status)
	}
	if replacement := h.appts.appts[*task.MatchedAppointmentID]; replacement == nil || replacement.Status != enums.AppointmentStatusProposal {
		t.Fatal("immediate attempt did not create the proposal")
	}
}

func TestAttemptForSourceWithoutTaskIsNoop(t *testing.T) {
	h := newHarness(t)

	if err := h.svc.AttemptForSource(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("AttemptForSource: %v", err)
	}
	if len(h.matcher.requests) != 0 {
		t.Fatalf("no task must mean no matcher call, got %d", len(h.matcher.requests))
	}
}

func TestAttemptTaskDefersWhenNoCandidate(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	task := h.seedTask(t, source)

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusPending {
		t.Fatalf("task status = %s, want pending", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Fatalf("attempt count = %d, want 1", got.AttemptCount)
	}
	want := testNow.Add(30 * time.Minute)
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(want) {
		t.Fatalf("next attempt = %v, want %v", got.NextAttemptAt, want)
	}
}

func TestAttemptTaskDefersWhileProposalIsOpen(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	task := h.seedTask(t, source)
	h.matcher.candidate = h.candidateFor(source, 48*time.Hour)

	open := &models.Appointment{
		CompanyID: source.CompanyID,
		StudentID: source.StudentID,
		StartsAt:  testNow.Add(72 * time.Hour),
		EndsAt:    testNow.Add(72*time.Hour + 30*time.Minute),
		Status:    enums.AppointmentStatusProposal,
	}
	if err := h.appts.CreateTx(&gorm.DB{}, open); err != nil {
		t.Fatalf("seed proposal: %v", err)
	}

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	if len(h.matcher.requests) != 0 {
		t.Fatal("matcher called while a proposal is open")
	}
	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusPending || got.AttemptCount != 1 {
		t.Fatalf("task = %s attempts %d, want pending with 1", got.Status, got.AttemptCount)
	}
}

func TestAttemptTaskCancelsAfterSourceStartElapsed(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	source.StartsAt = testNow.Add(-time.Hour)
	source.EndsAt = testNow.Add(-30 * time.Minute)
	h.appts.appts[source.ID] = source
	task := h.seedTask(t, source)

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusCancelled {
		t.Fatalf("task status = %s, want cancelled", got.Status)
	}
}

func TestAttemptTaskAdoptsExistingReplacement(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	existing := uuid.New()
	source.ReplacedByAppointmentID = &existing
	h.appts.appts[source.ID] = source
	task := h.seedTask(t, source)

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusMatched {
		t.Fatalf("task status = %s, want matched", got.Status)
	}
	if got.MatchedAppointmentID == nil || *got.MatchedAppointmentID != existing {
		t.Fatal("task not pointed at the existing replacement")
	}
	if len(h.emitter.events) != 0 {
		t.Fatal("no event expected when adopting an existing replacement")
	}
}

func TestAttemptTaskDefersOnRevalidationConflict(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	task := h.seedTask(t, source)
	candidate := h.candidateFor(source, 48*time.Hour)
	h.matcher.candidate = candidate

	// A booking for the same student lands on the candidate slot between
	// the matcher scan and the commit.
	clash := &models.Appointment{
		CompanyID: source.CompanyID,
		StudentID: source.StudentID,
		StartsAt:  candidate.Slot.Start,
		EndsAt:    candidate.Slot.End,
		Status:    enums.AppointmentStatusScheduled,
	}
	if err := h.appts.CreateTx(&gorm.DB{}, clash); err != nil {
		t.Fatalf("seed clash: %v", err)
	}

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got := h.tasks.tasks[task.ID]
	if got.Status != enums.RepositionTaskStatusPending || got.AttemptCount != 1 {
		t.Fatalf("task = %s attempts %d, want pending with 1", got.Status, got.AttemptCount)
	}
	if len(h.ledger.reassigned) != 0 {
		t.Fatal("ledger must not move on a deferred attempt")
	}
}

func TestAttemptTaskExcludesFaultyInstructor(t *testing.T) {
	h := newHarness(t)
	source := h.seedSource(t)
	task := h.seedTask(t, source)

	if err := h.svc.AttemptTask(context.Background(), task.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	if len(h.matcher.requests) != 1 {
		t.Fatalf("matcher requests = %d, want 1", len(h.matcher.requests))
	}
	req := h.matcher.requests[0]
	want := availability.InstructorKey(source.InstructorID)
	if req.Exclude == nil || *req.Exclude != want {
		t.Fatalf("exclude = %v, want %v", req.Exclude, want)
	}
	if req.Duration != 30*time.Minute {
		t.Fatalf("duration = %v, want 30m", req.Duration)
	}
}

func TestSweepAttemptsEveryDueTask(t *testing.T) {
	h := newHarness(t)
	first := h.seedSource(t)
	h.seedTask(t, first)
	second := h.seedSource(t)
	h.seedTask(t, second)

	if err := h.svc.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, task := range h.tasks.tasks {
		if task.AttemptCount != 1 {
			t.Fatalf("task %s attempts = %d, want 1", task.ID, task.AttemptCount)
		}
	}
}
