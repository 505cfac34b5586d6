package enums

import "fmt"

// LessonType classifies a driving lesson; some types are restricted to
// sub-windows of the day by a company's lesson policy.
type LessonType string

const (
	LessonTypeStandard LessonType = "standard"
	LessonTypeNight    LessonType = "night"
	LessonTypeHighway  LessonType = "highway"
	LessonTypeExam     LessonType = "exam"
)

var validLessonTypes = []LessonType{
	LessonTypeStandard,
	LessonTypeNight,
	LessonTypeHighway,
	LessonTypeExam,
}

// String implements fmt.Stringer.
func (l LessonType) String() string {
	return string(l)
}

// IsValid reports whether the value is known.
func (l LessonType) IsValid() bool {
	for _, candidate := range validLessonTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLessonType converts raw input into a LessonType.
func ParseLessonType(value string) (LessonType, error) {
	for _, candidate := range validLessonTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lesson type %q", value)
}
