package availability

import "time"

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals (aEnd == bStart) do not.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (i Interval) Valid() bool { return i.Start.Before(i.End) }

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

func (i Interval) Overlaps(o Interval) bool { return Overlaps(i.Start, i.End, o.Start, o.End) }

// Contains reports whether o lies entirely inside i. This is not Overlaps:
// a job that pokes out of a window by one minute is outside it.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// LocalDay returns midnight of t's calendar date in loc.
func LocalDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// AtMinute is the wall-clock instant minute minutes after midnight of day.
// Going through time.Date keeps DST days correct.
func AtMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, day.Location())
}

// WindowOn builds the interval [startMin, endMin) on day.
func WindowOn(day time.Time, startMin, endMin int) Interval {
	return Interval{Start: AtMinute(day, startMin), End: AtMinute(day, endMin)}
}
