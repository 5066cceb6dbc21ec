package scheduling

import (
	"iter"
	"time"
)

// DefaultHorizonDays is how far ahead the public calendar lists dates.
const DefaultHorizonDays = 60

// Calendar holds the clinic's notion of "today". Business-day rules are
// plain functions so they can be shared by the public calendar and admin
// validation.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar returns a calendar for the clinic's time zone. A nil location
// means UTC.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{loc: loc, now: time.Now}
}

// WithClock returns a copy of the calendar that reads the current time from
// now.
func (c *Calendar) WithClock(now func() time.Time) *Calendar {
	cp := *c
	cp.now = now
	return &cp
}

// Today is the current date in the clinic's time zone.
func (c *Calendar) Today() Date {
	return DateOf(c.now().In(c.loc))
}

// Location is the clinic's time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// ParseDate reads a request date, placing timestamps in the clinic's zone.
func (c *Calendar) ParseDate(s string) (Date, error) { return ParseDateIn(s, c.loc) }

// IsBusinessDay reports whether the clinic is open on d. It operates
// Sunday through Thursday.
func IsBusinessDay(d Date) bool {
	switch d.Weekday() {
	case time.Friday, time.Saturday:
		return false
	}
	return true
}

// BusinessDaysInRange yields the business days from start through
// start+horizonDays inclusive, in order. The sequence holds no state and
// can be ranged over any number of times.
func BusinessDaysInRange(start Date, horizonDays int) iter.Seq[Date] {
	return func(yield func(Date) bool) {
		for i := 0; i <= horizonDays; i++ {
			d := start.AddDays(i)
			if !IsBusinessDay(d) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}
