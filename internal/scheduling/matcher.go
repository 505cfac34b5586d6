package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorisconti/drivehub-backend/internal/availability"
	"github.com/lorisconti/drivehub-backend/pkg/config"
	"github.com/lorisconti/drivehub-backend/pkg/db/models"
	"github.com/lorisconti/drivehub-backend/pkg/enums"
	pkgerrors "github.com/lorisconti/drivehub-backend/pkg/errors"
	"github.com/lorisconti/drivehub-backend/pkg/timeslot"
)

// Directory is the slice of the tenant directory the matcher reads.
type Directory interface {
	ListActiveInstructors(ctx context.Context, companyID uuid.UUID) ([]models.Instructor, error)
	ListActiveVehicles(ctx context.Context, companyID uuid.UUID) ([]models.Vehicle, error)
	ListAvailabilityWindows(ctx context.Context, companyID uuid.UUID) ([]models.AvailabilityWindow, error)
	GetLessonPolicy(ctx context.Context, companyID uuid.UUID, lessonType enums.LessonType) (*models.LessonPolicy, error)
}

// AppointmentSource loads the bookings that occupy calendars in a time range.
type AppointmentSource interface {
	ListInRange(ctx context.Context, companyID uuid.UUID, from, to time.Time) ([]models.Appointment, error)
}

// MatchRequest asks for the best replacement slot for one student.
type MatchRequest struct {
	CompanyID  uuid.UUID
	StudentID  uuid.UUID
	LessonType enums.LessonType
	Duration   time.Duration
	SearchFrom time.Time
	Location   *time.Location
	// Exclude removes one owner from the candidate pool, e.g. the
	// instructor whose cancellation triggered the search.
	Exclude *availability.OwnerKey
}

// Candidate is a scored bookable slot.
type Candidate struct {
	InstructorID uuid.UUID
	VehicleID    uuid.UUID
	Slot         timeslot.Interval
	Score        int
}

// Matcher searches the next horizon days for the best slot across every
// instructor/vehicle pairing.
type Matcher struct {
	directory    Directory
	appointments AppointmentSource
	scorer       Scorer
	cfg          config.SchedulingConfig
}

// MatcherParams wires the matcher dependencies.
type MatcherParams struct {
	Directory    Directory
	Appointments AppointmentSource
	Scorer       Scorer
	Config       config.SchedulingConfig
}

// NewMatcher validates dependencies and applies the default scorer.
func NewMatcher(p MatcherParams) (*Matcher, error) {
	if p.Directory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "matcher directory required")
	}
	if p.Appointments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "matcher appointment source required")
	}
	if p.Scorer == nil {
		p.Scorer = AdjacencyScorer{}
	}
	return &Matcher{
		directory:    p.Directory,
		appointments: p.Appointments,
		scorer:       p.Scorer,
		cfg:          p.Config,
	}, nil
}

// FindBestSlot returns the winning candidate, or nil when no pairing has a
// free aligned slot inside the horizon.
func (m *Matcher) FindBestSlot(ctx context.Context, req MatchRequest) (*Candidate, error) {
	if req.CompanyID == uuid.Nil || req.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and student ids required")
	}
	if req.Duration < m.cfg.MinDuration() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration below the minimum lesson length")
	}
	if req.Duration%m.cfg.SlotStep() != 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "duration must be a multiple of the slot step")
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	instructors, err := m.directory.ListActiveInstructors(ctx, req.CompanyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list instructors")
	}
	vehicles, err := m.directory.ListActiveVehicles(ctx, req.CompanyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vehicles")
	}
	instructors = filterInstructors(instructors, req.Exclude)
	vehicles = filterVehicles(vehicles, req.Exclude)
	if len(instructors) == 0 || len(vehicles) == 0 {
		return nil, nil
	}

	windows, err := m.directory.ListAvailabilityWindows(ctx, req.CompanyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list availability windows")
	}
	policy, err := m.directory.GetLessonPolicy(ctx, req.CompanyID, req.LessonType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load lesson policy")
	}

	horizonEnd := req.SearchFrom.AddDate(0, 0, m.cfg.HorizonDays)
	appts, err := m.appointments.ListInRange(ctx,
		req.CompanyID,
		req.SearchFrom.Add(-m.cfg.ScanPadding()),
		horizonEnd.Add(m.cfg.ScanPadding()),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load appointments")
	}

	ix := availability.NewIndex(loc, windows, appts)
	studentKey := availability.StudentKey(req.StudentID)

	var best *Candidate
	day := timeslot.DayStart(req.SearchFrom, loc)
	for ; day.Before(horizonEnd); day = day.AddDate(0, 0, 1) {
		for _, instructor := range instructors {
			instructorKey := availability.InstructorKey(instructor.ID)
			for _, vehicle := range vehicles {
				vehicleKey := availability.VehicleKey(vehicle.ID)
				keys := []availability.OwnerKey{studentKey, instructorKey, vehicleKey}

				startMin, endMin, ok := ix.DayRange(day, keys, policy)
				if !ok {
					continue
				}
				for _, slot := range ix.CandidateSlots(day, startMin, endMin, req.Duration, m.cfg.SlotStep()) {
					if slot.Start.Before(req.SearchFrom) {
						continue
					}
					if !ix.FreeForAll(keys, slot) {
						continue
					}
					cand := Candidate{
						InstructorID: instructor.ID,
						VehicleID:    vehicle.ID,
						Slot:         slot,
						Score:        m.scorer.Score(ix, instructorKey, vehicleKey, slot),
					}
					if best == nil || cand.beats(*best) {
						c := cand
						best = &c
					}
				}
			}
		}
	}
	return best, nil
}

// beats implements the deterministic ranking: higher score, then earlier
// start, then lowest instructor id, then lowest vehicle id.
func (c Candidate) beats(other Candidate) bool {
	if c.Score != other.Score {
		return c.Score > other.Score
	}
	if !c.Slot.Start.Equal(other.Slot.Start) {
		return c.Slot.Start.Before(other.Slot.Start)
	}
	if c.InstructorID != other.InstructorID {
		return strings.Compare(c.InstructorID.String(), other.InstructorID.String()) < 0
	}
	return strings.Compare(c.VehicleID.String(), other.VehicleID.String()) < 0
}

func filterInstructors(in []models.Instructor, exclude *availability.OwnerKey) []models.Instructor {
	if exclude == nil || exclude.Type != enums.OwnerTypeInstructor {
		return in
	}
	out := in[:0]
	for _, item := range in {
		if item.ID != exclude.ID {
			out = append(out, item)
		}
	}
	return out
}

func filterVehicles(in []models.Vehicle, exclude *availability.OwnerKey) []models.Vehicle {
	if exclude == nil || exclude.Type != enums.OwnerTypeVehicle {
		return in
	}
	out := in[:0]
	for _, item := range in {
		if item.ID != exclude.ID {
			out = append(out, item)
		}
	}
	return out
}
