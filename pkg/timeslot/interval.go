package timeslot

import "time"

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval from a start instant and a duration.
func NewInterval(start time.Time, duration time.Duration) Interval {
	return Interval{Start: start, End: start.Add(duration)}
}

// Overlaps reports whether two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Contains reports whether the instant falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// AbutsEndOf reports whether this interval starts exactly where other ends.
func (i Interval) AbutsEndOf(other Interval) bool {
	return i.Start.Equal(other.End)
}

// AbutsStartOf reports whether this interval ends exactly where other starts.
func (i Interval) AbutsStartOf(other Interval) bool {
	return i.End.Equal(other.Start)
}

// Equal reports whether both bounds match.
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// OverlapsAny reports whether the interval overlaps any member of the set.
func OverlapsAny(iv Interval, set []Interval) bool {
	for _, other := range set {
		if iv.Overlaps(other) {
			return true
		}
	}
	return false
}
