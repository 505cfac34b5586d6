package enums

import "fmt"

// CancellationKind separates who triggered a cancellation.
type CancellationKind string

const (
	CancellationKindOperational CancellationKind = "operational"
	CancellationKindStudent     CancellationKind = "student"
	CancellationKindAdmin       CancellationKind = "admin"
)

var validCancellationKinds = []CancellationKind{
	CancellationKindOperational,
	CancellationKindStudent,
	CancellationKindAdmin,
}

func (c CancellationKind) String() string { return string(c) }

func (c CancellationKind) IsValid() bool {
	for _, candidate := range validCancellationKinds {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCancellationKind converts raw input into a CancellationKind.
func ParseCancellationKind(value string) (CancellationKind, error) {
	for _, candidate := range validCancellationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cancellation kind %q", value)
}

// CancellationReason is the closed set of operational cancellation causes.
// The reposition matcher branches on it to decide which resource must not be
// re-offered, so free-text reasons are confined to the separate notes column.
type CancellationReason string

const (
	CancellationReasonInstructorInactive  CancellationReason = "instructor_inactive"
	CancellationReasonInstructorCancelled CancellationReason = "instructor_cancelled"
	CancellationReasonVehicleInactive     CancellationReason = "vehicle_inactive"
	CancellationReasonScheduleChange      CancellationReason = "schedule_change"
	CancellationReasonStudentRequest      CancellationReason = "student_request"
)

var validCancellationReasons = []CancellationReason{
	CancellationReasonInstructorInactive,
	CancellationReasonInstructorCancelled,
	CancellationReasonVehicleInactive,
	CancellationReasonScheduleChange,
	CancellationReasonStudentRequest,
}

func (c CancellationReason) String() string { return string(c) }

func (c CancellationReason) IsValid() bool {
	for _, candidate := range validCancellationReasons {
		if candidate == c {
			return true
		}
	}
	return false
}

// ExcludedOwner returns the resource dimension that must be excluded from
// re-matching, when the reason indicates a resource-level fault.
func (c CancellationReason) ExcludedOwner() (OwnerType, bool) {
	switch c {
	case CancellationReasonInstructorInactive, CancellationReasonInstructorCancelled:
		return OwnerTypeInstructor, true
	case CancellationReasonVehicleInactive:
		return OwnerTypeVehicle, true
	default:
		return "", false
	}
}

// ParseCancellationReason converts raw input into a CancellationReason.
func ParseCancellationReason(value string) (CancellationReason, error) {
	for _, candidate := range validCancellationReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cancellation reason %q", value)
}
