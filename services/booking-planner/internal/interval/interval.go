// Package interval holds half-open time interval math shared by the slot
// generator, the conflict probe and the planner session.
package interval

import "time"

// MinDurationMinutes is the shortest bookable duration.
const MinDurationMinutes = 30

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Valid reports whether End is strictly after Start.
func (i Interval) Valid() bool {
	return !i.Start.IsZero() && i.End.After(i.Start)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether a and b share any instant. Intervals that only touch
// at an endpoint do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Contains reports whether inner lies fully inside outer.
func Contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// ContainsInstant reports whether t lies in [Start, End).
func (i Interval) ContainsInstant(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// DurationMinutes floors the interval length to whole minutes and clamps it to minimum.
func DurationMinutes(a Interval, minimum int) int {
	mins := int(a.Duration() / time.Minute)
	if mins < minimum {
		return minimum
	}
	return mins
}

// Contract moves instant by delta. Callers pass a positive delta for a start
// boundary and a negative one for an end boundary to pull both inward.
func Contract(instant time.Time, delta time.Duration) time.Time {
	return instant.Add(delta)
}
