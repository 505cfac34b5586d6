package enums

import "fmt"

// AppointmentStatus tracks the lifecycle of a lesson appointment.
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusProposal  AppointmentStatus = "proposal"
	AppointmentStatusCheckedIn AppointmentStatus = "checked_in"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

var validAppointmentStatuses = []AppointmentStatus{
	AppointmentStatusScheduled,
	AppointmentStatusConfirmed,
	AppointmentStatusProposal,
	AppointmentStatusCheckedIn,
	AppointmentStatusCompleted,
	AppointmentStatusNoShow,
	AppointmentStatusCancelled,
}

// String implements fmt.Stringer.
func (a AppointmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AppointmentStatus) IsValid() bool {
	for _, candidate := range validAppointmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// OccupiesSlot reports whether the appointment still blocks its time window.
func (a AppointmentStatus) OccupiesSlot() bool {
	return a != AppointmentStatusCancelled
}

// Repositionable reports whether an operational cancellation may still happen.
func (a AppointmentStatus) Repositionable() bool {
	switch a {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusProposal, AppointmentStatusCheckedIn:
		return true
	default:
		return false
	}
}

// ParseAppointmentStatus converts raw input into an AppointmentStatus.
func ParseAppointmentStatus(value string) (AppointmentStatus, error) {
	for _, candidate := range validAppointmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid appointment status %q", value)
}
