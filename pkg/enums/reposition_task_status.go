package enums

import "fmt"

// RepositionTaskStatus is the state of a reposition queue row.
type RepositionTaskStatus string

const (
	RepositionTaskStatusPending   RepositionTaskStatus = "pending"
	RepositionTaskStatusMatched   RepositionTaskStatus = "matched"
	RepositionTaskStatusCancelled RepositionTaskStatus = "cancelled"
)

var validRepositionTaskStatuses = []RepositionTaskStatus{
	RepositionTaskStatusPending,
	RepositionTaskStatusMatched,
	RepositionTaskStatusCancelled,
}

// String implements fmt.Stringer.
func (r RepositionTaskStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r RepositionTaskStatus) IsValid() bool {
	for _, candidate := range validRepositionTaskStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// Terminal reports whether the task will never be attempted again.
func (r RepositionTaskStatus) Terminal() bool {
	return r == RepositionTaskStatusMatched || r == RepositionTaskStatusCancelled
}

// ParseRepositionTaskStatus converts raw input into a RepositionTaskStatus.
func ParseRepositionTaskStatus(value string) (RepositionTaskStatus, error) {
	for _, candidate := range validRepositionTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reposition task status %q", value)
}
