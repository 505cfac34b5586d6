package availability

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

var rome = mustLoadLocation("Europe/Rome")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Tuesday 2026-02-10 in Europe/Rome.
func testDay() time.Time {
	return time.Date(2026, 2, 10, 0, 0, 0, 0, rome)
}

func window(ownerType enums.OwnerType, ownerID uuid.UUID, startMin, endMin int) models.AvailabilityWindow {
	return models.AvailabilityWindow{
		CompanyID:   uuid.New(),
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		WeekdayMask: 0b0111110, // Mon-Fri
		StartMinute: startMin,
		EndMinute:   endMin,
	}
}

func TestFreeRespectsWindowAndBookings(t *testing.T) {
	instructorID := uuid.New()
	booked := models.Appointment{
		StudentID:    uuid.New(),
		InstructorID: instructorID,
		VehicleID:    uuid.New(),
		Status:       enums.AppointmentStatusScheduled,
		StartsAt:     time.Date(2026, 2, 10, 10, 0, 0, 0, rome),
		EndsAt:       time.Date(2026, 2, 10, 11, 0, 0, 0, rome),
	}
	ix := NewIndex(rome,
		[]models.AvailabilityWindow{window(enums.OwnerTypeInstructor, instructorID, 8*60, 18*60)},
		[]models.Appointment{booked},
	)

	key := InstructorKey(instructorID)
	free := timeslot.NewInterval(time.Date(2026, 2, 10, 11, 0, 0, 0, rome), time.Hour)
	if !ix.Free(key, free) {
		t.Fatal("expected 11:00 slot to be free")
	}
	clash := timeslot.NewInterval(time.Date(2026, 2, 10, 10, 30, 0, 0, rome), time.Hour)
	if ix.Free(key, clash) {
		t.Fatal("expected 10:30 slot to clash with booking")
	}
	outside := timeslot.NewInterval(time.Date(2026, 2, 10, 7, 0, 0, 0, rome), time.Hour)
	if ix.Free(key, outside) {
		t.Fatal("expected 07:00 slot to fall outside the window")
	}
}

func TestFreeOwnerWithoutWindowIsClosed(t *testing.T) {
	ix := NewIndex(rome, nil, nil)
	iv := timeslot.NewInterval(time.Date(2026, 2, 10, 10, 0, 0, 0, rome), time.Hour)
	if ix.Free(InstructorKey(uuid.New()), iv) {
		t.Fatal("owner without a declared window must not be free")
	}
}

func TestCancelledAppointmentsDoNotBlock(t *testing.T) {
	instructorID := uuid.New()
	cancelled := models.Appointment{
		StudentID:    uuid.New(),
		InstructorID: instructorID,
		VehicleID:    uuid.New(),
		Status:       enums.AppointmentStatusCancelled,
		StartsAt:     time.Date(2026, 2, 10, 10, 0, 0, 0, rome),
		EndsAt:       time.Date(2026, 2, 10, 11, 0, 0, 0, rome),
	}
	ix := NewIndex(rome,
		[]models.AvailabilityWindow{window(enums.OwnerTypeInstructor, instructorID, 8*60, 18*60)},
		[]models.Appointment{cancelled},
	)
	iv := timeslot.NewInterval(time.Date(2026, 2, 10, 10, 0, 0, 0, rome), time.Hour)
	if !ix.Free(InstructorKey(instructorID), iv) {
		t.Fatal("cancelled appointment must not occupy the slot")
	}
}

func TestDayRangeIntersectsOwnersAndPolicy(t *testing.T) {
	instructorID, vehicleID := uuid.New(), uuid.New()
	ix := NewIndex(rome, []models.AvailabilityWindow{
		window(enums.OwnerTypeInstructor, instructorID, 8*60, 18*60),
		window(enums.OwnerTypeVehicle, vehicleID, 9*60, 20*60),
	}, nil)

	keys := []OwnerKey{InstructorKey(instructorID), VehicleKey(vehicleID)}
	start, end, ok := ix.DayRange(testDay(), keys, nil)
	if !ok || start != 9*60 || end != 18*60 {
		t.Fatalf("unexpected intersection %d-%d ok=%v", start, end, ok)
	}

	policy := &models.LessonPolicy{StartMinute: 16 * 60, EndMinute: 23 * 60}
	start, end, ok = ix.DayRange(testDay(), keys, policy)
	if !ok || start != 16*60 || end != 18*60 {
		t.Fatalf("unexpected policy intersection %d-%d ok=%v", start, end, ok)
	}

	// Sunday is outside every Mon-Fri mask.
	sunday := time.Date(2026, 2, 8, 0, 0, 0, 0, rome)
	if _, _, ok := ix.DayRange(sunday, keys, nil); ok {
		t.Fatal("expected no intersection on sunday")
	}
}

func TestCandidateSlotsAreAligned(t *testing.T) {
	ix := NewIndex(rome, nil, nil)
	slots := ix.CandidateSlots(testDay(), 9*60+10, 11*60, time.Hour, 30*time.Minute)
	if len(slots) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(slots))
	}
	if got := slots[0].Start; !got.Equal(time.Date(2026, 2, 10, 9, 30, 0, 0, rome)) {
		t.Fatalf("first candidate %v not aligned to the half hour", got)
	}
	if got := slots[1].Start; !got.Equal(time.Date(2026, 2, 10, 10, 0, 0, 0, rome)) {
		t.Fatalf("second candidate %v unexpected", got)
	}
}
