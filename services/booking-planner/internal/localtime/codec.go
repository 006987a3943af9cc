// Package localtime converts between the wall-clock date and time a user picks
// and the two encodings the planner needs: a UTC instant for interval math and
// a local-with-offset timestamp for the booking API payload.
//
// The two encodings are deliberately different types. A time.Time is only ever
// used for comparisons; a LocalOffsetTimestamp is only ever sent over the wire.
package localtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	clockSecondsLayout = "15:04:05"
	offsetLayout       = "2006-01-02T15:04:05-07:00"
	labelLayout        = "Mon 2 Jan 15:04"
)

// ErrNonexistentTime is returned for a wall-clock time skipped by a DST change.
var ErrNonexistentTime = errors.New("time does not exist on that date")

// LocalOffsetTimestamp is a YYYY-MM-DDTHH:mm:ss±HH:mm string carrying the
// user's own UTC offset, so the stored value redisplays as the picked clock time.
type LocalOffsetTimestamp string

// Instant decodes the timestamp.
func (ts LocalOffsetTimestamp) Instant() (time.Time, error) {
	return time.Parse(offsetLayout, string(ts))
}

func (ts LocalOffsetTimestamp) String() string {
	return string(ts)
}

// Codec evaluates wall-clock values in one location, normally the zone of the
// process serving the user.
type Codec struct {
	loc *time.Location
}

// New returns a codec for loc; nil means time.Local.
func New(loc *time.Location) Codec {
	if loc == nil {
		loc = time.Local
	}
	return Codec{loc: loc}
}

// Load returns a codec for an IANA zone name; empty means time.Local.
func Load(name string) (Codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return New(nil), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Codec{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return New(loc), nil
}

func (c Codec) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// ToUTCInstant interprets date and clock in the codec location and returns the instant in UTC.
func (c Codec) ToUTCInstant(date, clock string) (time.Time, error) {
	t, err := c.wall(date, clock)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ToLocalOffsetString formats date and clock with the codec location's offset at that instant.
func (c Codec) ToLocalOffsetString(date, clock string) (LocalOffsetTimestamp, error) {
	t, err := c.wall(date, clock)
	if err != nil {
		return "", err
	}
	return LocalOffsetTimestamp(t.Format(offsetLayout)), nil
}

// FromInstant is the inverse of ToUTCInstant. Seconds are only kept when
// non-zero; anything below a second is dropped.
func (c Codec) FromInstant(t time.Time) (date, clock string) {
	local := t.In(c.Location())
	clock = local.Format(ClockLayout)
	if local.Second() != 0 {
		clock = local.Format(clockSecondsLayout)
	}
	return local.Format(DateLayout), clock
}

// Label renders an instant for a slot picker.
func (c Codec) Label(t time.Time) string {
	return t.In(c.Location()).Format(labelLayout)
}

func (c Codec) wall(date, clock string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), c.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	clock = strings.TrimSpace(clock)
	layout := ClockLayout
	if strings.Count(clock, ":") == 2 {
		layout = clockSecondsLayout
	}
	hm, err := time.Parse(layout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", clock, err)
	}
	t := time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), hm.Second(), 0, c.Location())
	// time.Date moves a skipped time to a neighbouring one; neither encoding would then
	// show the clock the user picked.
	if t.Hour() != hm.Hour() || t.Minute() != hm.Minute() || t.Second() != hm.Second() {
		return time.Time{}, fmt.Errorf("%s %s in %s: %w", date, clock, c.Location(), ErrNonexistentTime)
	}
	return t, nil
}
