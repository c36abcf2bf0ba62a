package replay

import "time"

const _day = 24 * time.Hour

type WeekInterval struct {
	Start time.Time
	End   time.Time
}

// SplitIntoWeeks splits [from, to] into Monday-to-Sunday intervals. The first and last
// intervals are cut to from and the end of to's day.
func SplitIntoWeeks(from, to time.Time) []WeekInterval {
	var intervals []WeekInterval

	current := from.Truncate(_day)
	end := to.Truncate(_day)

	if current.After(end) {
		return intervals
	}

	current = findNextMonday(current)
	if current.After(end) {
		return append(intervals, WeekInterval{Start: from, End: endOfDay(end)})
	}

	if firstSunday := current.Add(-_day); !firstSunday.Before(from.Truncate(_day)) {
		intervals = append(intervals, WeekInterval{Start: from, End: endOfDay(firstSunday)})
	}

	for {
		nextSunday := current.Add(6 * _day)
		if nextSunday.After(end) {
			break
		}
		intervals = append(intervals, WeekInterval{Start: current, End: endOfDay(nextSunday)})
		current = current.Add(7 * _day)
	}

	if !current.After(end) {
		intervals = append(intervals, WeekInterval{Start: current, End: endOfDay(end)})
	}

	return intervals
}

func findNextMonday(t time.Time) time.Time {
	daysUntilMonday := (8 - int(t.Weekday())) % 7
	return t.AddDate(0, 0, daysUntilMonday)
}

func endOfDay(t time.Time) time.Time {
	return t.Add(_day - time.Nanosecond)
}

// DivideInto lists the instants from, from+step, ... strictly before to.
func DivideInto(from, to time.Time, step time.Duration) []time.Time {
	if step <= 0 || !from.Before(to) {
		return nil
	}
	out := make([]time.Time, 0, int(to.Sub(from)/step)+1)
	for ; from.Before(to); from = from.Add(step) {
		out = append(out, from)
	}
	return out
}
