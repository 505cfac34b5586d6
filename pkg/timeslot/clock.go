package timeslot

import "time"

// DayStart returns local midnight of the day containing t.
func DayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// AtMinute returns the instant minute-of-day minutes after local midnight of
// the given day. Using time.Date keeps the math correct across DST shifts.
func AtMinute(day time.Time, minute int, loc *time.Location) time.Time {
	local := day.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), minute/60, minute%60, 0, 0, loc)
}

// MinuteOfDay returns the wall-clock minute of t in the given location.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// Weekday returns the wall-clock weekday of t in the given location.
func Weekday(t time.Time, loc *time.Location) time.Weekday {
	return t.In(loc).Weekday()
}

// QuantizedUp rounds minute up to the next multiple of step.
func QuantizedUp(minute, step int) int {
	if step <= 0 {
		return minute
	}
	if rem := minute % step; rem != 0 {
		return minute + step - rem
	}
	return minute
}
