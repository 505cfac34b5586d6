package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

// OwnerKey identifies one resource calendar.
type OwnerKey struct {
	Type enums.OwnerType
	ID   uuid.UUID
}

// StudentKey builds the calendar key for a student.
func StudentKey(id uuid.UUID) OwnerKey {
	return OwnerKey{Type: enums.OwnerTypeStudent, ID: id}
}

// InstructorKey builds the calendar key for an instructor.
func InstructorKey(id uuid.UUID) OwnerKey {
	return OwnerKey{Type: enums.OwnerTypeInstructor, ID: id}
}

// VehicleKey builds the calendar key for a vehicle.
func VehicleKey(id uuid.UUID) OwnerKey {
	return OwnerKey{Type: enums.OwnerTypeVehicle, ID: id}
}

// Index is an in-memory view of the calendars inside one scan range: each
// owner's weekly window plus the busy intervals of its slot-occupying
// appointments. Callers load appointments with padding around the scan range
// so boundary-crossing bookings are never missed.
type Index struct {
	loc     *time.Location
	windows map[OwnerKey]models.AvailabilityWindow
	busy    map[OwnerKey][]timeslot.Interval
}

// NewIndex builds the index from directory windows and loaded appointments.
func NewIndex(loc *time.Location, windows []models.AvailabilityWindow, appointments []models.Appointment) *Index {
	ix := &Index{
		loc:     loc,
		windows: make(map[OwnerKey]models.AvailabilityWindow, len(windows)),
		busy:    make(map[OwnerKey][]timeslot.Interval),
	}
	for _, w := range windows {
		ix.windows[OwnerKey{Type: w.OwnerType, ID: w.OwnerID}] = w
	}
	for _, appt := range appointments {
		if !appt.Status.OccupiesSlot() {
			continue
		}
		iv := timeslot.Interval{Start: appt.StartsAt, End: appt.EndsAt}
		ix.addBusy(StudentKey(appt.StudentID), iv)
		ix.addBusy(InstructorKey(appt.InstructorID), iv)
		ix.addBusy(VehicleKey(appt.VehicleID), iv)
	}
	for key := range ix.busy {
		set := ix.busy[key]
		sort.Slice(set, func(i, j int) bool { return set[i].Start.Before(set[j].Start) })
		ix.busy[key] = set
	}
	return ix
}

func (ix *Index) addBusy(key OwnerKey, iv timeslot.Interval) {
	ix.busy[key] = append(ix.busy[key], iv)
}

// Window returns the owner's weekly availability window, if declared.
func (ix *Index) Window(key OwnerKey) (models.AvailabilityWindow, bool) {
	w, ok := ix.windows[key]
	return w, ok
}

// Busy returns the sorted busy intervals of one owner.
func (ix *Index) Busy(key OwnerKey) []timeslot.Interval {
	return ix.busy[key]
}

// Free reports whether the interval fits inside the owner's declared window
// and collides with none of its bookings. An owner with no window is never
// free: undeclared calendars are closed, not open.
func (ix *Index) Free(key OwnerKey, iv timeslot.Interval) bool {
	w, ok := ix.windows[key]
	if !ok {
		return false
	}
	if !w.IncludesWeekday(timeslot.Weekday(iv.Start, ix.loc)) {
		return false
	}
	startMin := timeslot.MinuteOfDay(iv.Start, ix.loc)
	endMin := startMin + int(iv.Duration().Minutes())
	if startMin < w.StartMinute || endMin > w.EndMinute {
		return false
	}
	return !timeslot.OverlapsAny(iv, ix.busy[key])
}

// FreeForAll reports whether every owner is free for the interval.
func (ix *Index) FreeForAll(keys []OwnerKey, iv timeslot.Interval) bool {
	for _, key := range keys {
		if !ix.Free(key, iv) {
			return false
		}
	}
	return true
}

// DayRange intersects the owners' windows on the given day, optionally
// clipped by a lesson policy sub-window. ok is false when any owner has no
// window, excludes the weekday, or the intersection is empty.
func (ix *Index) DayRange(day time.Time, keys []OwnerKey, policy *models.LessonPolicy) (startMin, endMin int, ok bool) {
	weekday := timeslot.Weekday(day, ix.loc)
	startMin, endMin = 0, 24*60
	for _, key := range keys {
		w, found := ix.windows[key]
		if !found || !w.IncludesWeekday(weekday) {
			return 0, 0, false
		}
		if w.StartMinute > startMin {
			startMin = w.StartMinute
		}
		if w.EndMinute < endMin {
			endMin = w.EndMinute
		}
	}
	if policy != nil {
		if policy.StartMinute > startMin {
			startMin = policy.StartMinute
		}
		if policy.EndMinute < endMin {
			endMin = policy.EndMinute
		}
	}
	if startMin >= endMin {
		return 0, 0, false
	}
	return startMin, endMin, true
}

// CandidateSlots enumerates aligned intervals of the requested duration
// inside [startMin, endMin) of the day, stepping by step.
func (ix *Index) CandidateSlots(day time.Time, startMin, endMin int, duration, step time.Duration) []timeslot.Interval {
	stepMin := int(step.Minutes())
	durMin := int(duration.Minutes())
	if stepMin <= 0 || durMin <= 0 {
		return nil
	}
	var out []timeslot.Interval
	for min := timeslot.QuantizedUp(startMin, stepMin); min+durMin <= endMin; min += stepMin {
		start := timeslot.AtMinute(day, min, ix.loc)
		out = append(out, timeslot.NewInterval(start, duration))
	}
	return out
}
