package enums

import "fmt"

// OwnerType identifies which resource dimension an availability window or
// busy interval belongs to.
type OwnerType string

const (
	OwnerTypeStudent    OwnerType = "student"
	OwnerTypeInstructor OwnerType = "instructor"
	OwnerTypeVehicle    OwnerType = "vehicle"
)

var validOwnerTypes = []OwnerType{
	OwnerTypeStudent,
	OwnerTypeInstructor,
	OwnerTypeVehicle,
}

// String implements fmt.Stringer.
func (o OwnerType) String() string {
	return string(o)
}

// IsValid reports whether the value is known.
func (o OwnerType) IsValid() bool {
	for _, candidate := range validOwnerTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOwnerType converts raw input into an OwnerType.
func ParseOwnerType(value string) (OwnerType, error) {
	for _, candidate := range validOwnerTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid owner type %q", value)
}
